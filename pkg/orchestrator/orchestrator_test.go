package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hhconstruction/hh-assistant/pkg/audio"
)

type MockSource struct {
	mu      sync.Mutex
	stopped int
}

func (m *MockSource) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped++
}

func (m *MockSource) Stopped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

type scheduledCall struct {
	buf     *audio.Buffer
	at      float64
	onEnded func()
	src     *MockSource
}

type MockOutput struct {
	mu          sync.Mutex
	now         float64
	scheduled   []*scheduledCall
	scheduleErr error
	closes      int
	closeErr    error
}

func (m *MockOutput) CurrentTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *MockOutput) SetTime(now float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MockOutput) Schedule(buf *audio.Buffer, at float64, onEnded func()) (Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scheduleErr != nil {
		return nil, m.scheduleErr
	}
	call := &scheduledCall{buf: buf, at: at, onEnded: onEnded, src: &MockSource{}}
	m.scheduled = append(m.scheduled, call)
	return call.src, nil
}

func (m *MockOutput) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return m.closeErr
}

func (m *MockOutput) Scheduled() []*scheduledCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*scheduledCall(nil), m.scheduled...)
}

func (m *MockOutput) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

type MockMic struct {
	mu       sync.Mutex
	tap      func([]float32)
	taps     int
	untaps   int
	closes   int
	tapErr   error
	closeErr error
}

func (m *MockMic) Tap(frameSize int, fn func(frame []float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tapErr != nil {
		return m.tapErr
	}
	m.taps++
	m.tap = fn
	return nil
}

func (m *MockMic) Untap() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.untaps++
	m.tap = nil
}

func (m *MockMic) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return m.closeErr
}

// Emit delivers one captured frame to the current tap.
func (m *MockMic) Emit(frame []float32) {
	m.mu.Lock()
	fn := m.tap
	m.mu.Unlock()
	if fn != nil {
		fn(frame)
	}
}

func (m *MockMic) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

type MockInput struct {
	mu           sync.Mutex
	mic          *MockMic
	micErr       error
	closes       int
	panicOnClose bool
}

func (m *MockInput) OpenMicrophone(ctx context.Context) (MicStream, error) {
	if m.micErr != nil {
		return nil, m.micErr
	}
	return m.mic, nil
}

func (m *MockInput) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	if m.panicOnClose {
		panic("input context release failed")
	}
	return nil
}

func (m *MockInput) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

type MockBackend struct {
	mu          sync.Mutex
	input       *MockInput
	output      *MockOutput
	inputErr    error
	outputErr   error
	inputOpens  int
	outputOpens int
	inputRate   int
	outputRate  int
}

func NewMockBackend() *MockBackend {
	return &MockBackend{
		input:  &MockInput{mic: &MockMic{}},
		output: &MockOutput{},
	}
}

func (m *MockBackend) OpenInput(sampleRate int) (InputContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inputErr != nil {
		return nil, m.inputErr
	}
	m.inputOpens++
	m.inputRate = sampleRate
	return m.input, nil
}

func (m *MockBackend) OpenOutput(sampleRate int) (OutputContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outputErr != nil {
		return nil, m.outputErr
	}
	m.outputOpens++
	m.outputRate = sampleRate
	return m.output, nil
}

type MockSession struct {
	mu        sync.Mutex
	blobs     []Blob
	responses []FunctionResponse
	closes    int
	sendErr   error
}

func (m *MockSession) SendRealtimeInput(ctx context.Context, media Blob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.blobs = append(m.blobs, media)
	return nil
}

func (m *MockSession) SendToolResponse(ctx context.Context, responses ...FunctionResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, responses...)
	return nil
}

func (m *MockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

func (m *MockSession) Blobs() []Blob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Blob(nil), m.blobs...)
}

func (m *MockSession) Responses() []FunctionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]FunctionResponse(nil), m.responses...)
}

func (m *MockSession) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

type MockS2SProvider struct {
	mu         sync.Mutex
	session    *MockSession
	connectErr error
	noOpen     bool
	connects   int
	configs    []SessionConfig
	callbacks  []SessionCallbacks
}

func (m *MockS2SProvider) Connect(ctx context.Context, cfg SessionConfig, cb SessionCallbacks) (S2SSession, error) {
	m.mu.Lock()
	m.connects++
	m.configs = append(m.configs, cfg)
	m.callbacks = append(m.callbacks, cb)
	err, noOpen := m.connectErr, m.noOpen
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if !noOpen && cb.OnOpen != nil {
		cb.OnOpen()
	}
	return m.session, nil
}

func (m *MockS2SProvider) Name() string {
	return "MockS2S"
}

func (m *MockS2SProvider) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

func (m *MockS2SProvider) Callbacks(i int) SessionCallbacks {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callbacks[i]
}

func TestNew_RequiresProviderAndBackend(t *testing.T) {
	if _, err := New(nil, NewMockBackend(), nil, DefaultConfig()); !errors.Is(err, ErrNilProvider) {
		t.Errorf("Expected ErrNilProvider for nil provider, got %v", err)
	}
	if _, err := New(&MockS2SProvider{}, nil, nil, DefaultConfig()); !errors.Is(err, ErrNilProvider) {
		t.Errorf("Expected ErrNilProvider for nil backend, got %v", err)
	}
}

func TestNew_FillsDefaults(t *testing.T) {
	c, err := New(&MockS2SProvider{}, NewMockBackend(), nil, Config{APIKey: "k", PrimeSilenceSamples: -1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	cfg := c.Config()
	if cfg.Model != DefaultModel || cfg.Voice != DefaultVoice {
		t.Errorf("Expected default model and voice, got %q %q", cfg.Model, cfg.Voice)
	}
	if cfg.InputSampleRate != 16000 || cfg.OutputSampleRate != 24000 {
		t.Errorf("Expected 16000/24000 rates, got %d/%d", cfg.InputSampleRate, cfg.OutputSampleRate)
	}
	if cfg.FrameSize != 4096 {
		t.Errorf("Expected frame size 4096, got %d", cfg.FrameSize)
	}
	if cfg.PrimeSilenceSamples != -1 {
		t.Errorf("Expected explicit -1 priming to be kept, got %d", cfg.PrimeSilenceSamples)
	}
	if cfg.SystemPrompt != SystemInstruction {
		t.Errorf("Expected default system prompt")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.PrimeSilenceSamples != 1200 {
		t.Errorf("Expected 1200 priming samples, got %d", cfg.PrimeSilenceSamples)
	}
	if cfg.OutputChannels != 1 {
		t.Errorf("Expected mono output, got %d", cfg.OutputChannels)
	}
	if cfg.EchoGuardThreshold != 0 {
		t.Errorf("Expected echo guard disabled by default")
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateIdle:       "idle",
		StateConnecting: "connecting",
		StateActive:     "active",
		StateClosed:     "closed",
		State(42):       "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

func TestEvents_DropWhenFull(t *testing.T) {
	c, err := New(&MockS2SProvider{}, NewMockBackend(), nil, Config{}, WithEventBuffer(1))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	// Two config errors, one slot.
	_ = c.Start(context.Background())
	_ = c.Start(context.Background())
	if got := len(c.Events()); got != 1 {
		t.Errorf("Expected 1 buffered event, got %d", got)
	}
}
