package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hhconstruction/hh-assistant/pkg/booking"
	"github.com/hhconstruction/hh-assistant/pkg/config"
	"github.com/hhconstruction/hh-assistant/pkg/metrics"
)

var errFormCancelled = errors.New("booking form cancelled")

var bookCmd = &cobra.Command{
	Use:   "book",
	Short: "Book a free consultation",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		svc, closeSvc, err := newBookingService(ctx, cfg, logger, metrics.Default())
		if err != nil {
			return err
		}
		defer closeSvc()

		f := newForm(readLines(os.Stdin), os.Stdout)
		return runBooking(ctx, f, svc)
	},
}

var datesCmd = &cobra.Command{
	Use:   "dates",
	Short: "List the dates offered by the booking form",
	RunE: func(cmd *cobra.Command, args []string) error {
		for i, d := range booking.UpcomingDates(time.Now(), booking.DateOptions) {
			fmt.Printf("%2d. %s\n", i+1, d.Format("Mon 2 Jan"))
		}
		return nil
	},
}

// newBookingService connects to the booking database when one is
// configured. Without a database it returns a nil service.
func newBookingService(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*booking.Service, func(), error) {
	if cfg.Booking.DatabaseURL == "" {
		logger.Warn("no database configured; bookings will not be stored")
		return nil, func() {}, nil
	}
	pool, err := booking.OpenPool(ctx, cfg.Booking.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	var notifier *booking.Notifier
	if cfg.Booking.NotifyURL != "" {
		notifier = booking.NewNotifier(cfg.Booking.NotifyURL, cfg.Booking.NotifyToken)
	}
	svc := booking.NewService(booking.NewPostgresStore(pool), notifier, logger, m)
	return svc, pool.Close, nil
}

// runBooking fills the form and submits it. A cancelled form is not an error.
func runBooking(ctx context.Context, f *form, svc *booking.Service) error {
	req, err := f.Run(ctx)
	if errors.Is(err, errFormCancelled) {
		fmt.Fprintln(f.out, "Booking cancelled.")
		return nil
	}
	if err != nil {
		return err
	}
	if svc == nil {
		fmt.Fprintln(f.out, "Booking not stored: no database configured.")
		return nil
	}
	if _, err := svc.Submit(ctx, req); err != nil {
		fmt.Fprintf(f.out, "%s %v\n", ui.Error.Render("Failed to submit booking:"), err)
		return err
	}
	fmt.Fprintln(f.out, "Booking Request Sent! We'll contact you shortly to confirm your consultation.")
	return nil
}

// form asks for the booking fields one line at a time. An empty answer to
// the first question cancels it.
type form struct {
	in  <-chan string
	out io.Writer
	now func() time.Time
}

func newForm(in <-chan string, out io.Writer) *form {
	return &form{in: in, out: out, now: time.Now}
}

func (f *form) Run(ctx context.Context) (booking.Request, error) {
	var req booking.Request
	fmt.Fprintf(f.out, "\n%s %s\n", ui.Title.Render("Book a Free Consultation"), ui.Help.Render("(leave the name empty to cancel)"))

	name, err := f.ask(ctx, "Name")
	if err != nil {
		return req, err
	}
	if name == "" {
		return req, errFormCancelled
	}
	req.Name = name

	for {
		if req.Phone, err = f.ask(ctx, "Phone"); err != nil {
			return req, err
		}
		if req.Email, err = f.ask(ctx, "Email"); err != nil {
			return req, err
		}
		if err := req.Validate(); err != nil {
			fmt.Fprintf(f.out, "  %v\n", err)
			continue
		}
		break
	}

	dates := booking.UpcomingDates(f.now(), booking.DateOptions)
	for i, d := range dates {
		fmt.Fprintf(f.out, "  %2d. %s\n", i+1, d.Format("Mon 2 Jan"))
	}
	fmt.Fprintln(f.out, "   f. I'm flexible")
	for {
		answer, err := f.ask(ctx, "Preferred date")
		if err != nil {
			return req, err
		}
		if strings.EqualFold(answer, "f") {
			req.IsFlexible = true
			return req, nil
		}
		n, err := strconv.Atoi(answer)
		if err != nil || n < 1 || n > len(dates) {
			fmt.Fprintf(f.out, "  choose 1-%d or f\n", len(dates))
			continue
		}
		d := dates[n-1]
		req.PreferredDate = &d
		return req, nil
	}
}

func (f *form) ask(ctx context.Context, prompt string) (string, error) {
	fmt.Fprintf(f.out, "%s: ", prompt)
	select {
	case line, ok := <-f.in:
		if !ok {
			return "", io.EOF
		}
		return strings.TrimSpace(line), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// readLines delivers r line by line until EOF.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return lines
}
