package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"golang.org/x/sync/errgroup"

	assistant "github.com/hhconstruction/hh-assistant"
	"github.com/hhconstruction/hh-assistant/pkg/audio"
	"github.com/hhconstruction/hh-assistant/pkg/booking"
	"github.com/hhconstruction/hh-assistant/pkg/metrics"
	"github.com/hhconstruction/hh-assistant/pkg/orchestrator"
)

var (
	recordPath  string
	metricsAddr string
)

var talkCmd = &cobra.Command{
	Use:   "talk",
	Short: "Start a live voice session",
	Long: `Start a live voice session with the assistant.

While the session runs:
  b + Enter   open the booking form
  q + Enter   end the session
  Ctrl+C      end the session`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		m := metrics.Default()
		var handler http.Handler
		if metricsAddr != "" {
			exp, err := promexporter.New()
			if err != nil {
				return fmt.Errorf("prometheus exporter: %w", err)
			}
			mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exp))
			defer mp.Shutdown(context.Background())
			if m, err = metrics.New(mp); err != nil {
				return err
			}
			handler = promhttp.Handler()
		}

		svc, closeSvc, err := newBookingService(ctx, cfg, logger, m)
		if err != nil {
			return err
		}
		defer closeSvc()

		var rec *recorder
		ctrlOpts := []orchestrator.Option{orchestrator.WithMetrics(m)}
		if recordPath != "" {
			rec = &recorder{}
			ctrlOpts = append(ctrlOpts, orchestrator.WithAudioTap(rec.add))
		}

		// Booking requests arrive as BookingRequested events; the form runs
		// in the event loop so it shares stdin with the key commands.
		a, err := assistant.New(cfg,
			assistant.WithLogger(logger),
			assistant.WithControllerOptions(ctrlOpts...),
		)
		if err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			defer cancel()
			return runSession(gctx, a, svc, readLines(os.Stdin), os.Stdout)
		})
		if handler != nil {
			srv := &http.Server{Addr: metricsAddr, Handler: metricsMux(handler)}
			g.Go(func() error {
				logger.Info("serving metrics", "addr", metricsAddr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("metrics server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
				defer done()
				return srv.Shutdown(shutdownCtx)
			})
		}

		err = g.Wait()
		if rec != nil {
			if werr := rec.save(recordPath, a.Config().OutputSampleRate); werr != nil {
				logger.Error("failed to write recording", "path", recordPath, "err", werr)
			} else {
				fmt.Printf("Saved assistant audio to %s\n", recordPath)
			}
		}
		return err
	},
}

func init() {
	talkCmd.Flags().StringVar(&recordPath, "record", "", "write the assistant's audio to this WAV file")
	talkCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}

func metricsMux(h http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	return mux
}

// session is the part of the controller the terminal loop drives.
type session interface {
	Start(ctx context.Context) error
	Stop()
	Events() <-chan orchestrator.OrchestratorEvent
}

// runSession starts ctrl and prints its events until the user quits, stdin
// closes or ctx is cancelled.
func runSession(ctx context.Context, ctrl session, svc *booking.Service, lines <-chan string, out io.Writer) error {
	events := ctrl.Events()
	// Start blocks until the session is open, so print while it connects.
	startErr := make(chan error, 1)
	go func() { startErr <- ctrl.Start(ctx) }()
	defer ctrl.Stop()

	fmt.Fprintln(out, ui.Title.Render("HH Construction assistant"), ui.Help.Render("(b + Enter to book, q + Enter to quit)"))
	fmt.Fprintln(out, "Connecting...")

	f := newForm(lines, out)
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "\nShutting down...")
			return nil

		case err := <-startErr:
			startErr = nil
			if err != nil {
				drainEvents(events, out)
				return err
			}

		case ev := <-events:
			printEvent(out, ev)
			if ev.Type == orchestrator.BookingRequested {
				if err := runBooking(ctx, f, svc); err != nil && ctx.Err() == nil {
					fmt.Fprintf(out, "booking failed: %v\n", err)
				}
			}
			if ev.Type == orchestrator.StateChanged && ev.Data == orchestrator.StateIdle && startErr == nil {
				fmt.Fprintln(out, "Session ended.")
				return nil
			}

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "q":
				return nil
			case "b":
				if err := runBooking(ctx, f, svc); err != nil && ctx.Err() == nil {
					fmt.Fprintf(out, "booking failed: %v\n", err)
				}
			}
		}
	}
}

func drainEvents(events <-chan orchestrator.OrchestratorEvent, out io.Writer) {
	for {
		select {
		case ev := <-events:
			printEvent(out, ev)
		default:
			return
		}
	}
}

func printEvent(out io.Writer, ev orchestrator.OrchestratorEvent) {
	switch ev.Type {
	case orchestrator.StateChanged:
		fmt.Fprintf(out, "\r\033[K%s %v\n", ui.Label.Render("[STATE]"), ev.Data)
	case orchestrator.ListeningChanged:
		if on, _ := ev.Data.(bool); on {
			fmt.Fprintf(out, "\r\033[K%s Listening...\n", ui.Voice.Render("[MIC]"))
		} else {
			fmt.Fprintf(out, "\r\033[K%s Off\n", ui.Help.Render("[MIC]"))
		}
	case orchestrator.SpeakingChanged:
		if on, _ := ev.Data.(bool); on {
			fmt.Fprintf(out, "\r\033[K%s Speaking...\n", ui.Voice.Render("[ASSISTANT]"))
		} else {
			fmt.Fprintf(out, "\r\033[K%s Done\n", ui.Help.Render("[ASSISTANT]"))
		}
	case orchestrator.BookingRequested:
		fmt.Fprintf(out, "\r\033[K%s The assistant opened the booking form.\n", ui.Label.Render("[BOOKING]"))
	case orchestrator.ErrorRaised:
		fmt.Fprintf(out, "\r\033[K%s %v\n", ui.Error.Render("[ERROR]"), ev.Data)
	}
}

// recorder collects the assistant's audio as mono 16-bit PCM.
type recorder struct {
	mu  sync.Mutex
	pcm []byte
}

func (r *recorder) add(buf *audio.Buffer) {
	if buf == nil || len(buf.Channels) == 0 {
		return
	}
	b := audio.Float32ToPCM16(buf.Channels[0])
	r.mu.Lock()
	r.pcm = append(r.pcm, b...)
	r.mu.Unlock()
}

func (r *recorder) save(path string, sampleRate int) error {
	r.mu.Lock()
	pcm := r.pcm
	r.mu.Unlock()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := audio.WriteWav(f, pcm, sampleRate); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
