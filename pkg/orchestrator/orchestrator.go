package orchestrator

import (
	"sync"

	"github.com/hhconstruction/hh-assistant/pkg/audio"
	"github.com/hhconstruction/hh-assistant/pkg/metrics"
)

// Controller manages one voice session at a time: microphone capture in,
// remote speech session in the middle, scheduled playback out.
type Controller struct {
	provider S2SProvider
	backend  AudioBackend
	bridge   *ToolBridge
	config   Config
	logger   Logger
	metrics  *metrics.Metrics
	audioTap func(*audio.Buffer)
	events   chan OrchestratorEvent

	mu        sync.Mutex
	gen       uint64
	state     State
	listening bool
	speaking  bool
	sessionID string
	lastErr   error
	counted   bool

	session  S2SSession
	input    InputContext
	output   OutputContext
	mic      MicStream
	capture  *CapturePipeline
	playback *PlaybackScheduler
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. A nil logger keeps the no-op default.
func WithLogger(l Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithAudioTap registers fn to see every assistant audio chunk as it is
// scheduled. Used for recording.
func WithAudioTap(fn func(*audio.Buffer)) Option {
	return func(c *Controller) { c.audioTap = fn }
}

// WithEventBuffer sets the capacity of the Events channel.
func WithEventBuffer(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.events = make(chan OrchestratorEvent, n)
		}
	}
}

// New creates a controller. A nil bridge handles the booking tool without a
// host callback; the BookingRequested event still fires.
func New(provider S2SProvider, backend AudioBackend, bridge *ToolBridge, cfg Config, opts ...Option) (*Controller, error) {
	if provider == nil || backend == nil {
		return nil, ErrNilProvider
	}
	if bridge == nil {
		bridge = NewToolBridge(nil)
	}
	c := &Controller{
		provider: provider,
		backend:  backend,
		bridge:   bridge,
		config:   withDefaults(cfg),
		logger:   &NoOpLogger{},
		metrics:  metrics.Default(),
		events:   make(chan OrchestratorEvent, 256),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// withDefaults fills zero fields from DefaultConfig. The API key and echo
// guard are left alone.
func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Voice == "" {
		cfg.Voice = def.Voice
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = def.SystemPrompt
	}
	if cfg.InputSampleRate <= 0 {
		cfg.InputSampleRate = def.InputSampleRate
	}
	if cfg.OutputSampleRate <= 0 {
		cfg.OutputSampleRate = def.OutputSampleRate
	}
	if cfg.OutputChannels <= 0 {
		cfg.OutputChannels = def.OutputChannels
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = def.FrameSize
	}
	if cfg.PrimeSilenceSamples == 0 {
		cfg.PrimeSilenceSamples = def.PrimeSilenceSamples
	}
	return cfg
}

// Config returns the effective configuration.
func (c *Controller) Config() Config {
	return c.config
}

// Events returns the UI event stream. Events are dropped when the buffer is
// full.
func (c *Controller) Events() <-chan OrchestratorEvent {
	return c.events
}

// emitLocked requires c.mu.
func (c *Controller) emitLocked(eventType EventType, data interface{}) {
	event := OrchestratorEvent{
		Type:      eventType,
		SessionID: c.sessionID,
		Data:      data,
	}
	select {
	case c.events <- event:
	default:
		c.logger.Warn("event buffer full, dropping event", "type", eventType, "sessionID", c.sessionID)
	}
}
