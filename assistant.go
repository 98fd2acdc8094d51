// Package assistant is the high-level entry point: it wires the Gemini Live
// provider and the local audio devices into a session controller.
//
// Example:
//
//	a, err := assistant.New(cfg, assistant.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer a.Stop()
//	if err := a.Start(ctx); err != nil {
//		return err
//	}
//	for ev := range a.Events() {
//		...
//	}
package assistant

import (
	"github.com/hhconstruction/hh-assistant/pkg/config"
	"github.com/hhconstruction/hh-assistant/pkg/device"
	"github.com/hhconstruction/hh-assistant/pkg/orchestrator"
	"github.com/hhconstruction/hh-assistant/pkg/providers/s2s"
)

// Assistant is a voice session with the HH Construction assistant over the
// default microphone and speakers.
type Assistant struct {
	*orchestrator.Controller
}

type options struct {
	logger  orchestrator.Logger
	backend orchestrator.AudioBackend
	onBook  func()
	ctrl    []orchestrator.Option
}

type Option func(*options)

// WithLogger sets the logger used by the controller and the audio devices.
func WithLogger(l orchestrator.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithBackend replaces the malgo audio devices.
func WithBackend(b orchestrator.AudioBackend) Option {
	return func(o *options) { o.backend = b }
}

// WithBookingHandler is called synchronously whenever the assistant opens the
// booking form. A BookingRequested event is emitted either way.
func WithBookingHandler(fn func()) Option {
	return func(o *options) { o.onBook = fn }
}

// WithControllerOptions passes extra options to the session controller.
func WithControllerOptions(opts ...orchestrator.Option) Option {
	return func(o *options) { o.ctrl = append(o.ctrl, opts...) }
}

// New builds an idle assistant from cfg. A missing API key is not an error
// here; Start reports it.
func New(cfg *config.Config, opts ...Option) (*Assistant, error) {
	o := options{logger: &orchestrator.NoOpLogger{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.backend == nil {
		o.backend = device.NewBackend(o.logger)
	}

	oc := cfg.Orchestrator()
	geminiOpts := []s2s.Option{s2s.WithModel(oc.Model)}
	if cfg.Gemini.BaseURL != "" {
		geminiOpts = append(geminiOpts, s2s.WithBaseURL(cfg.Gemini.BaseURL))
	}
	provider := s2s.NewGeminiLive(oc.APIKey, geminiOpts...)

	ctrlOpts := append([]orchestrator.Option{orchestrator.WithLogger(o.logger)}, o.ctrl...)
	ctrl, err := orchestrator.New(provider, o.backend, orchestrator.NewToolBridge(o.onBook), oc, ctrlOpts...)
	if err != nil {
		return nil, err
	}
	return &Assistant{Controller: ctrl}, nil
}

// IsListening reports whether the microphone is streaming to the assistant.
func (a *Assistant) IsListening() bool {
	return a.Status().Listening
}

// IsSpeaking reports whether assistant audio is playing.
func (a *Assistant) IsSpeaking() bool {
	return a.Status().Speaking
}
