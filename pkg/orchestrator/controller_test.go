package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/hhconstruction/hh-assistant/pkg/audio"
)

type controllerFixture struct {
	c        *Controller
	provider *MockS2SProvider
	backend  *MockBackend
	session  *MockSession
	bookings int
}

func newControllerFixture(t *testing.T, cfg Config) *controllerFixture {
	t.Helper()
	f := &controllerFixture{
		provider: &MockS2SProvider{},
		backend:  NewMockBackend(),
		session:  &MockSession{},
	}
	f.provider.session = f.session
	bridge := NewToolBridge(func() { f.bookings++ })
	c, err := New(f.provider, f.backend, bridge, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	f.c = c
	return f
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.APIKey = "test-key"
	return cfg
}

func drainEvents(c *Controller) []OrchestratorEvent {
	var out []OrchestratorEvent
	for {
		select {
		case ev := <-c.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func countEvents(events []OrchestratorEvent, typ EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func TestController_StartMissingCredential(t *testing.T) {
	f := newControllerFixture(t, DefaultConfig())

	err := f.c.Start(context.Background())

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected ConfigError, got %v", err)
	}
	if !errors.Is(err, ErrMissingCredential) {
		t.Errorf("Expected error to wrap ErrMissingCredential")
	}
	if st := f.c.Status(); st.State != StateIdle || st.Err == nil {
		t.Errorf("Expected idle with recorded error, got %+v", st)
	}
	if f.backend.inputOpens != 0 || f.backend.outputOpens != 0 {
		t.Errorf("Expected no audio contexts, got %d input %d output", f.backend.inputOpens, f.backend.outputOpens)
	}
	if f.provider.Connects() != 0 {
		t.Errorf("Expected no connection attempt")
	}
	events := drainEvents(f.c)
	if countEvents(events, ErrorRaised) != 1 || countEvents(events, StateChanged) != 0 {
		t.Errorf("Expected one error event and no state change, got %+v", events)
	}
}

func TestController_StartOpensSession(t *testing.T) {
	f := newControllerFixture(t, testConfig())

	if err := f.c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	st := f.c.Status()
	if st.State != StateActive || !st.Listening || st.Speaking {
		t.Errorf("Expected active+listening, got %+v", st)
	}
	if st.SessionID == "" {
		t.Error("Expected a session id")
	}
	if f.backend.inputRate != 16000 || f.backend.outputRate != 24000 {
		t.Errorf("Expected 16000/24000 contexts, got %d/%d", f.backend.inputRate, f.backend.outputRate)
	}

	cfg := f.provider.configs[0]
	if len(cfg.ResponseModalities) != 1 || cfg.ResponseModalities[0] != "AUDIO" {
		t.Errorf("Expected AUDIO modality, got %v", cfg.ResponseModalities)
	}
	if cfg.Voice != "Zephyr" || cfg.Model != DefaultModel {
		t.Errorf("Unexpected voice/model %q/%q", cfg.Voice, cfg.Model)
	}
	if cfg.SystemInstruction != SystemInstruction {
		t.Error("Expected the fixed system prompt")
	}
	if len(cfg.Tools) != 1 || cfg.Tools[0].Name != BookingToolName {
		t.Errorf("Expected booking tool declaration, got %+v", cfg.Tools)
	}

	events := drainEvents(f.c)
	var states []State
	for _, ev := range events {
		if ev.Type == StateChanged {
			states = append(states, ev.Data.(State))
		}
	}
	if len(states) != 2 || states[0] != StateConnecting || states[1] != StateActive {
		t.Errorf("Expected connecting then active, got %v", states)
	}
}

func TestController_PrimesWithSilence(t *testing.T) {
	f := newControllerFixture(t, testConfig())
	f.c.Start(context.Background())

	blobs := f.session.Blobs()
	if len(blobs) != 1 {
		t.Fatalf("Expected one priming send, got %d", len(blobs))
	}
	if blobs[0].MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("Unexpected MIME type %q", blobs[0].MIMEType)
	}
	buf, err := audio.DecodeInbound(blobs[0].Data, 16000, 1)
	if err != nil {
		t.Fatalf("decode priming frame: %v", err)
	}
	if buf.Frames() != 1200 || audio.RMS(buf.Channels[0]) != 0 {
		t.Errorf("Expected 1200 silent samples, got %d rms=%v", buf.Frames(), audio.RMS(buf.Channels[0]))
	}

	f.backend.input.mic.Emit(make([]float32, 4096))
	if len(f.session.Blobs()) != 2 {
		t.Errorf("Expected microphone frame forwarded to the session")
	}
}

func TestController_StartWhileActiveIsNoop(t *testing.T) {
	f := newControllerFixture(t, testConfig())
	f.c.Start(context.Background())
	id := f.c.Status().SessionID

	if err := f.c.Start(context.Background()); err != nil {
		t.Fatalf("second Start returned %v", err)
	}
	if f.provider.Connects() != 1 || f.backend.inputOpens != 1 {
		t.Errorf("Expected a single session, got %d connects %d inputs", f.provider.Connects(), f.backend.inputOpens)
	}
	if st := f.c.Status(); st.State != StateActive || st.SessionID != id {
		t.Errorf("Expected state unchanged, got %+v", st)
	}
}

func TestController_StopIdempotent(t *testing.T) {
	f := newControllerFixture(t, testConfig())

	f.c.Stop()
	f.c.Stop()
	if f.c.Status().State != StateIdle {
		t.Fatal("Expected idle after Stop on a fresh controller")
	}

	f.c.Start(context.Background())
	f.c.Stop()
	f.c.Stop()

	st := f.c.Status()
	if st.State != StateIdle || st.Listening || st.Speaking {
		t.Errorf("Expected idle with facets cleared, got %+v", st)
	}
	if f.session.Closes() != 1 {
		t.Errorf("Expected session closed once, got %d", f.session.Closes())
	}
	if f.backend.input.mic.Closes() != 1 {
		t.Errorf("Expected mic released once, got %d", f.backend.input.mic.Closes())
	}
	if f.backend.input.Closes() != 1 || f.backend.output.Closes() != 1 {
		t.Errorf("Expected both contexts closed once, got %d/%d", f.backend.input.Closes(), f.backend.output.Closes())
	}

	f.c.mu.Lock()
	defer f.c.mu.Unlock()
	if f.c.session != nil || f.c.capture != nil || f.c.mic != nil || f.c.input != nil || f.c.output != nil || f.c.playback != nil {
		t.Error("Expected all resource handles released")
	}
}

func TestController_StopReleasesEverythingDespiteFailures(t *testing.T) {
	f := newControllerFixture(t, testConfig())
	f.backend.input.panicOnClose = true
	f.backend.input.mic.closeErr = errors.New("mic already gone")
	f.backend.output.closeErr = errors.New("device lost")

	f.c.Start(context.Background())
	f.c.Stop()

	if f.c.Status().State != StateIdle {
		t.Errorf("Expected idle after a failing release")
	}
	if f.backend.output.Closes() != 1 || f.session.Closes() != 1 {
		t.Errorf("Expected remaining resources released, got output=%d session=%d", f.backend.output.Closes(), f.session.Closes())
	}
}

func TestController_PermissionDenied(t *testing.T) {
	f := newControllerFixture(t, testConfig())
	f.backend.input.micErr = errors.New("denied")

	err := f.c.Start(context.Background())

	var permErr *PermissionError
	if !errors.As(err, &permErr) {
		t.Fatalf("Expected PermissionError, got %v", err)
	}
	if st := f.c.Status(); st.State != StateIdle || !errors.As(st.Err, &permErr) {
		t.Errorf("Expected idle with permission error, got %+v", st)
	}
	if f.provider.Connects() != 0 {
		t.Error("Expected no connection without a microphone")
	}
	if f.backend.input.Closes() != 1 || f.backend.output.Closes() != 1 {
		t.Errorf("Expected contexts rolled back, got %d/%d", f.backend.input.Closes(), f.backend.output.Closes())
	}
}

func TestController_ConnectFailure(t *testing.T) {
	f := newControllerFixture(t, testConfig())
	f.provider.connectErr = errors.New("dial refused")

	err := f.c.Start(context.Background())

	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Expected ConnectionError, got %v", err)
	}
	if f.c.Status().State != StateIdle {
		t.Errorf("Expected idle after connect failure")
	}
	if f.backend.input.mic.Closes() != 1 {
		t.Errorf("Expected mic released, got %d", f.backend.input.mic.Closes())
	}
	if countEvents(drainEvents(f.c), ErrorRaised) != 1 {
		t.Error("Expected one error event")
	}
}

func TestController_OutputFailureReleasesInput(t *testing.T) {
	f := newControllerFixture(t, testConfig())
	f.backend.outputErr = errors.New("no speaker")

	if err := f.c.Start(context.Background()); err == nil {
		t.Fatal("Expected error")
	}
	if f.backend.input.Closes() != 1 {
		t.Errorf("Expected input context closed, got %d", f.backend.input.Closes())
	}
	if f.c.Status().State != StateIdle {
		t.Error("Expected idle")
	}
}

func TestController_StaysConnectingUntilOpen(t *testing.T) {
	f := newControllerFixture(t, testConfig())
	f.provider.noOpen = true

	f.c.Start(context.Background())
	if f.c.Status().State != StateConnecting {
		t.Fatalf("Expected connecting, got %v", f.c.Status().State)
	}

	f.provider.Callbacks(0).OnOpen()
	if f.c.Status().State != StateActive {
		t.Errorf("Expected active after open, got %v", f.c.Status().State)
	}
}

func TestController_ToolCallAcknowledgement(t *testing.T) {
	f := newControllerFixture(t, testConfig())
	f.c.Start(context.Background())
	drainEvents(f.c)

	f.provider.Callbacks(0).OnMessage(ServerMessage{ToolCalls: []FunctionCall{
		{ID: "a", Name: BookingToolName},
		{ID: "x", Name: "unknownTool"},
		{ID: "b", Name: BookingToolName},
	}})

	if f.bookings != 2 {
		t.Errorf("Expected booking callback twice, got %d", f.bookings)
	}
	responses := f.session.Responses()
	if len(responses) != 2 {
		t.Fatalf("Expected 2 acknowledgments, got %d", len(responses))
	}
	if responses[0].ID != "a" || responses[1].ID != "b" {
		t.Errorf("Expected acknowledgments for a and b, got %s and %s", responses[0].ID, responses[1].ID)
	}
	for _, r := range responses {
		if r.Response["result"] != "Booking modal opened successfully." {
			t.Errorf("Unexpected response payload %v", r.Response)
		}
	}
	if n := countEvents(drainEvents(f.c), BookingRequested); n != 2 {
		t.Errorf("Expected 2 booking events, got %d", n)
	}
}

func TestController_AudioThenInterrupt(t *testing.T) {
	f := newControllerFixture(t, testConfig())
	f.c.Start(context.Background())
	out := f.backend.output

	f.provider.Callbacks(0).OnMessage(ServerMessage{Audio: []Blob{
		{Data: silence(12000), MIMEType: "audio/pcm;rate=24000"},
		{Data: silence(12000), MIMEType: "audio/pcm;rate=24000"},
	}})

	calls := out.Scheduled()
	if len(calls) != 2 || calls[0].at != 0 || calls[1].at != 0.5 {
		t.Fatalf("Expected chunks at 0 and 0.5, got %d calls", len(calls))
	}
	if !f.c.Status().Speaking {
		t.Error("Expected speaking while audio is scheduled")
	}

	// Audio in the same message as an interruption is discarded.
	f.provider.Callbacks(0).OnMessage(ServerMessage{
		Interrupted: true,
		Audio:       []Blob{{Data: silence(12000)}},
	})

	if f.c.Status().Speaking {
		t.Error("Expected speaking to end on interruption")
	}
	if len(out.Scheduled()) != 2 {
		t.Errorf("Expected no audio scheduled from an interrupted message")
	}
	for i, call := range out.Scheduled() {
		if call.src.Stopped() != 1 {
			t.Errorf("chunk %d not stopped", i)
		}
	}

	out.SetTime(3)
	f.c.HandleRemoteEvent(RemoteAudio{Payloads: []string{silence(2400)}})
	if last := out.Scheduled()[2]; last.at != 3 {
		t.Errorf("Expected post-interrupt chunk to start now, got %v", last.at)
	}
}

func TestController_SpeakingEndsWhenPlaybackDrains(t *testing.T) {
	f := newControllerFixture(t, testConfig())
	f.c.Start(context.Background())

	f.c.HandleRemoteEvent(RemoteAudio{Payloads: []string{silence(2400)}})
	f.backend.output.Scheduled()[0].onEnded()

	if f.c.Status().Speaking {
		t.Error("Expected speaking false after playback drained")
	}
	events := drainEvents(f.c)
	if countEvents(events, SpeakingChanged) != 2 {
		t.Errorf("Expected speaking on and off events, got %+v", events)
	}
}

func TestController_UndecodableAudioDropped(t *testing.T) {
	f := newControllerFixture(t, testConfig())
	f.c.Start(context.Background())

	f.c.HandleRemoteEvent(RemoteAudio{Payloads: []string{"AAAA", silence(2400)}})

	if n := len(f.backend.output.Scheduled()); n != 1 {
		t.Errorf("Expected only the valid chunk scheduled, got %d", n)
	}
	if f.c.Status().State != StateActive {
		t.Error("Expected session to stay active after a bad chunk")
	}
}

func TestController_RemoteErrorStops(t *testing.T) {
	f := newControllerFixture(t, testConfig())
	f.c.Start(context.Background())

	f.provider.Callbacks(0).OnError(errors.New("socket reset"))

	st := f.c.Status()
	if st.State != StateIdle {
		t.Errorf("Expected idle after remote error, got %v", st.State)
	}
	if !errors.Is(st.Err, ErrConnectionLost) {
		t.Errorf("Expected connection lost error, got %v", st.Err)
	}
	if f.session.Closes() != 1 || f.backend.output.Closes() != 1 {
		t.Error("Expected teardown after remote error")
	}
}

func TestController_RemoteCloseStops(t *testing.T) {
	f := newControllerFixture(t, testConfig())
	f.c.Start(context.Background())

	f.provider.Callbacks(0).OnClose()

	if f.c.Status().State != StateIdle {
		t.Errorf("Expected idle after remote close")
	}
	if f.backend.input.mic.Closes() != 1 {
		t.Error("Expected microphone released after remote close")
	}
}

func TestController_StaleCallbacksIgnored(t *testing.T) {
	f := newControllerFixture(t, testConfig())
	f.c.Start(context.Background())
	old := f.provider.Callbacks(0)
	f.c.Stop()

	f.session = &MockSession{}
	f.provider.session = f.session
	f.backend.output = &MockOutput{}
	f.c.Start(context.Background())

	old.OnError(errors.New("late error from first session"))
	old.OnMessage(ServerMessage{ToolCalls: []FunctionCall{{ID: "late", Name: BookingToolName}}})

	if f.c.Status().State != StateActive {
		t.Errorf("Expected second session unaffected, got %v", f.c.Status().State)
	}
	if f.bookings != 0 {
		t.Error("Expected stale tool call ignored")
	}
}

func TestController_RestartAfterStop(t *testing.T) {
	f := newControllerFixture(t, testConfig())
	f.c.Start(context.Background())
	first := f.c.Status().SessionID
	f.c.Stop()

	if err := f.c.Start(context.Background()); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if f.c.Status().SessionID == first {
		t.Error("Expected a fresh session id")
	}
	if f.provider.Connects() != 2 {
		t.Errorf("Expected two connections, got %d", f.provider.Connects())
	}
}

func TestMessageEvents(t *testing.T) {
	events := messageEvents(ServerMessage{
		ToolCalls: []FunctionCall{{ID: "1", Name: BookingToolName}},
		Audio:     []Blob{{Data: "AAA="}, {Data: ""}},
	})
	if len(events) != 2 {
		t.Fatalf("Expected tool call then audio, got %d events", len(events))
	}
	if _, ok := events[0].(RemoteToolCall); !ok {
		t.Errorf("Expected tool call first, got %T", events[0])
	}
	if a, ok := events[1].(RemoteAudio); !ok || len(a.Payloads) != 1 {
		t.Errorf("Expected one audio payload, got %#v", events[1])
	}

	if got := messageEvents(ServerMessage{TurnComplete: true}); len(got) != 0 {
		t.Errorf("Expected no events for turn complete, got %d", len(got))
	}
}
