package orchestrator

import (
	"context"

	"github.com/hhconstruction/hh-assistant/pkg/audio"
)

type Logger interface {
	Debug(msg string, args ...interface{})

	Info(msg string, args ...interface{})

	Warn(msg string, args ...interface{})

	Error(msg string, args ...interface{})
}

type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}

// S2SProvider opens bidirectional speech sessions with a remote
// conversational-audio service.
type S2SProvider interface {
	Connect(ctx context.Context, cfg SessionConfig, cb SessionCallbacks) (S2SSession, error)
	Name() string
}

// S2SSession is an open remote session. Close must be idempotent.
type S2SSession interface {
	SendRealtimeInput(ctx context.Context, media Blob) error
	SendToolResponse(ctx context.Context, responses ...FunctionResponse) error
	Close() error
}

// SessionCallbacks receive remote session notifications. Callbacks are
// invoked from a single receive goroutine, in arrival order.
type SessionCallbacks struct {
	OnOpen    func()
	OnMessage func(ServerMessage)
	OnClose   func()
	OnError   func(error)
}

type SessionConfig struct {
	Model              string
	ResponseModalities []string
	Voice              string
	SystemInstruction  string
	Tools              []FunctionDeclaration
}

// Blob is inline media, base64 encoded.
type Blob struct {
	Data     string
	MIMEType string
}

type FunctionDeclaration struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type FunctionCall struct {
	ID   string
	Name string
	Args map[string]any
}

type FunctionResponse struct {
	ID       string
	Name     string
	Response map[string]any
}

// ServerMessage is one inbound message from the remote session, reduced to
// the parts the controller acts on.
type ServerMessage struct {
	Interrupted  bool
	TurnComplete bool
	Audio        []Blob
	ToolCalls    []FunctionCall
}

// AudioBackend opens the two audio contexts a session owns.
type AudioBackend interface {
	OpenInput(sampleRate int) (InputContext, error)
	OpenOutput(sampleRate int) (OutputContext, error)
}

type InputContext interface {
	// OpenMicrophone acquires the capture device.
	OpenMicrophone(ctx context.Context) (MicStream, error)
	Close() error
}

// MicStream is a live capture stream. Tap delivers fixed-size frames in
// capture order, on a goroutine other than the caller's, until Untap. Close
// releases the device.
type MicStream interface {
	Tap(frameSize int, fn func(frame []float32)) error
	Untap()
	Close() error
}

// OutputContext renders scheduled buffers against a monotonic clock
// measured in seconds.
type OutputContext interface {
	CurrentTime() float64
	// Schedule starts buf at the given clock time. onEnded fires once when the
	// buffer finishes on its own. It is never called from within Schedule and
	// never after the returned source is stopped.
	Schedule(buf *audio.Buffer, at float64, onEnded func()) (Source, error)
	Close() error
}

type Source interface {
	Stop()
}

type EventType string

const (
	StateChanged     EventType = "STATE_CHANGED"
	ListeningChanged EventType = "LISTENING_CHANGED"
	SpeakingChanged  EventType = "SPEAKING_CHANGED"
	BookingRequested EventType = "BOOKING_REQUESTED"
	ErrorRaised      EventType = "ERROR"
)

type OrchestratorEvent struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"session_id"`
	Data      interface{} `json:"data,omitempty"`
}

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Status is a point-in-time snapshot of the controller.
type Status struct {
	State     State
	Listening bool
	Speaking  bool
	SessionID string
	Err       error
}

type Config struct {
	APIKey string
	Model  string
	Voice  string

	SystemPrompt string

	InputSampleRate  int
	OutputSampleRate int
	OutputChannels   int
	FrameSize        int

	// PrimeSilenceSamples is the length of the silent frame sent right after
	// the session opens. Negative disables it.
	PrimeSilenceSamples int

	// EchoGuardThreshold replaces microphone frames quieter than this RMS
	// level with silence while the assistant is speaking. Zero disables it.
	EchoGuardThreshold float64
}

const (
	DefaultModel = "gemini-2.5-flash-native-audio-preview-12-2025"
	DefaultVoice = "Zephyr"

	InputMIMEType = "audio/pcm;rate=16000"
)

func DefaultConfig() Config {
	return Config{
		Model:               DefaultModel,
		Voice:               DefaultVoice,
		SystemPrompt:        SystemInstruction,
		InputSampleRate:     16000,
		OutputSampleRate:    24000,
		OutputChannels:      1,
		FrameSize:           4096,
		PrimeSilenceSamples: 1200,
	}
}
