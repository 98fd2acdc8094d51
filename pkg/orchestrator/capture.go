package orchestrator

import (
	"context"
	"sync"

	"github.com/hhconstruction/hh-assistant/pkg/audio"
	"github.com/hhconstruction/hh-assistant/pkg/metrics"
)

// SendFunc forwards one encoded frame to the remote session.
type SendFunc func(ctx context.Context, media Blob) error

// CapturePipeline forwards microphone frames to the remote session, one send
// per frame, in capture order.
type CapturePipeline struct {
	mu        sync.Mutex
	mic       MicStream
	cancel    context.CancelFunc
	frameSize int

	// echo guard, see Config.EchoGuardThreshold
	echoThreshold float64
	speaking      func() bool

	logger  Logger
	metrics *metrics.Metrics
}

func NewCapturePipeline(frameSize int, logger Logger, m *metrics.Metrics) *CapturePipeline {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if m == nil {
		m = metrics.Default()
	}
	return &CapturePipeline{frameSize: frameSize, logger: logger, metrics: m}
}

// SetEchoGuard enables silence substitution for quiet frames while
// speaking() reports true.
func (p *CapturePipeline) SetEchoGuard(threshold float64, speaking func() bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.echoThreshold = threshold
	p.speaking = speaking
}

// Start taps mic and sends every frame through send. It does nothing if the
// pipeline is already running or either argument is nil.
func (p *CapturePipeline) Start(mic MicStream, send SendFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.mic != nil || mic == nil || send == nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := mic.Tap(p.frameSize, func(frame []float32) { p.forward(ctx, send, frame) }); err != nil {
		cancel()
		return err
	}
	p.mic, p.cancel = mic, cancel
	return nil
}

func (p *CapturePipeline) forward(ctx context.Context, send SendFunc, frame []float32) {
	if ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	threshold, speaking := p.echoThreshold, p.speaking
	p.mu.Unlock()

	if threshold > 0 && speaking != nil && speaking() && audio.RMS(frame) < threshold {
		frame = make([]float32, len(frame))
	}

	blob := Blob{Data: audio.EncodeOutbound(frame), MIMEType: InputMIMEType}
	if err := send(ctx, blob); err != nil {
		if ctx.Err() == nil {
			p.logger.Debug("microphone frame not sent", "error", err)
		}
		return
	}
	p.metrics.FramesSent.Add(ctx, 1)
}

// Running reports whether the pipeline is tapping a microphone.
func (p *CapturePipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mic != nil
}

// Stop disconnects the tap and releases the mic stream. Safe to call more
// than once or before Start.
func (p *CapturePipeline) Stop() {
	p.mu.Lock()
	mic, cancel := p.mic, p.cancel
	p.mic, p.cancel = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if mic == nil {
		return
	}
	mic.Untap()
	if err := mic.Close(); err != nil {
		p.logger.Warn("failed to release microphone stream", "error", err)
	}
}
