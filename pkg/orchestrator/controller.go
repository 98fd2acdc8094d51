package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hhconstruction/hh-assistant/pkg/audio"
)

// RemoteEvent is one inbound event from the remote session. The concrete
// types are RemoteInterrupted, RemoteToolCall, RemoteAudio, RemoteClosed and
// RemoteError.
type RemoteEvent interface {
	remoteEvent()
}

// RemoteInterrupted reports barge-in: the user started talking over the
// assistant.
type RemoteInterrupted struct{}

type RemoteToolCall struct {
	Calls []FunctionCall
}

// RemoteAudio carries base64 PCM16 payloads in arrival order.
type RemoteAudio struct {
	Payloads []string
}

type RemoteClosed struct{}

type RemoteError struct {
	Err error
}

func (RemoteInterrupted) remoteEvent() {}
func (RemoteToolCall) remoteEvent()    {}
func (RemoteAudio) remoteEvent()       {}
func (RemoteClosed) remoteEvent()      {}
func (RemoteError) remoteEvent()       {}

// messageEvents splits a server message into events. An interrupted message
// produces only the interruption.
func messageEvents(msg ServerMessage) []RemoteEvent {
	if msg.Interrupted {
		return []RemoteEvent{RemoteInterrupted{}}
	}
	var events []RemoteEvent
	if len(msg.ToolCalls) > 0 {
		events = append(events, RemoteToolCall{Calls: msg.ToolCalls})
	}
	if len(msg.Audio) > 0 {
		payloads := make([]string, 0, len(msg.Audio))
		for _, b := range msg.Audio {
			if b.Data != "" {
				payloads = append(payloads, b.Data)
			}
		}
		if len(payloads) > 0 {
			events = append(events, RemoteAudio{Payloads: payloads})
		}
	}
	return events
}

// Start opens a new session. It does nothing unless the controller is idle.
// Setup failures are reported on the event stream, leave the controller idle
// and are returned.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return nil
	}
	if c.config.APIKey == "" {
		err := &ConfigError{Key: "api_key"}
		c.lastErr = err
		c.emitLocked(ErrorRaised, err.Error())
		c.mu.Unlock()
		c.metrics.RecordSessionStart(ctx, "config_error")
		c.logger.Error("cannot start session", "error", err)
		return err
	}
	c.gen++
	gen := c.gen
	c.sessionID = uuid.NewString()
	c.lastErr = nil
	c.counted = true
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	c.metrics.ActiveSessions.Add(ctx, 1)
	began := time.Now()
	c.logger.Info("starting session", "provider", c.provider.Name(), "model", c.config.Model)

	input, err := c.backend.OpenInput(c.config.InputSampleRate)
	if err != nil {
		return c.abort(ctx, gen, "device_error", fmt.Errorf("open input audio context: %w", err))
	}
	if !c.own(gen, func() { c.input = input }) {
		c.release("input context", input.Close)
		return ErrSessionStopped
	}

	output, err := c.backend.OpenOutput(c.config.OutputSampleRate)
	if err != nil {
		return c.abort(ctx, gen, "device_error", fmt.Errorf("open output audio context: %w", err))
	}
	playback := NewPlaybackScheduler(output, c.config.OutputSampleRate, c.config.OutputChannels, c.logger, c.metrics)
	playback.OnSpeaking(func(speaking bool) { c.setSpeaking(gen, speaking) })
	if c.audioTap != nil {
		playback.OnChunk(c.audioTap)
	}
	if !c.own(gen, func() { c.output, c.playback = output, playback }) {
		c.release("playback", playback.Teardown)
		return ErrSessionStopped
	}

	mic, err := input.OpenMicrophone(ctx)
	if err != nil {
		return c.abort(ctx, gen, "permission_error", &PermissionError{Err: err})
	}
	if !c.own(gen, func() { c.mic = mic }) {
		c.release("microphone", mic.Close)
		return ErrSessionStopped
	}

	session, err := c.provider.Connect(ctx, c.sessionConfig(), c.callbacks(gen))
	if err != nil {
		return c.abort(ctx, gen, "connection_error", &ConnectionError{Err: err})
	}
	if !c.own(gen, func() { c.session = session }) {
		c.release("remote session", session.Close)
		return ErrSessionStopped
	}
	c.metrics.ConnectDuration.Record(ctx, time.Since(began).Seconds())

	capture := NewCapturePipeline(c.config.FrameSize, c.logger, c.metrics)
	if c.config.EchoGuardThreshold > 0 {
		capture.SetEchoGuard(c.config.EchoGuardThreshold, c.isSpeaking)
	}
	if err := capture.Start(mic, session.SendRealtimeInput); err != nil {
		return c.abort(ctx, gen, "device_error", fmt.Errorf("start capture: %w", err))
	}
	// The pipeline owns the mic stream from here on.
	if !c.own(gen, func() {
		c.capture, c.mic = capture, nil
		c.setListeningLocked(true)
	}) {
		capture.Stop()
		return ErrSessionStopped
	}

	if n := c.config.PrimeSilenceSamples; n > 0 {
		prime := Blob{Data: audio.EncodeOutbound(make([]float32, n)), MIMEType: InputMIMEType}
		if err := session.SendRealtimeInput(ctx, prime); err != nil {
			c.logger.Warn("failed to send priming silence", "error", err)
		}
	}

	c.metrics.RecordSessionStart(ctx, "ok")
	c.logger.Info("session started", "sessionID", c.SessionID(), "elapsed", time.Since(began))
	return nil
}

func (c *Controller) sessionConfig() SessionConfig {
	return SessionConfig{
		Model:              c.config.Model,
		ResponseModalities: []string{"AUDIO"},
		Voice:              c.config.Voice,
		SystemInstruction:  c.config.SystemPrompt,
		Tools:              c.bridge.Declarations(),
	}
}

func (c *Controller) callbacks(gen uint64) SessionCallbacks {
	return SessionCallbacks{
		OnOpen: func() { c.opened(gen) },
		OnMessage: func(msg ServerMessage) {
			for _, ev := range messageEvents(msg) {
				c.handle(gen, ev)
			}
		},
		OnClose: func() { c.handle(gen, RemoteClosed{}) },
		OnError: func(err error) { c.handle(gen, RemoteError{Err: err}) },
	}
}

// own runs assign under the lock if gen is still the live session.
func (c *Controller) own(gen uint64, assign func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	assign()
	return true
}

// abort reports a setup failure and rolls back to idle.
func (c *Controller) abort(ctx context.Context, gen uint64, outcome string, err error) error {
	c.metrics.RecordSessionStart(ctx, outcome)
	c.logger.Error("session setup failed", "error", err)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return err
	}
	c.lastErr = err
	c.emitLocked(ErrorRaised, err.Error())
	c.mu.Unlock()

	c.Stop()
	return err
}

func (c *Controller) opened(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.state != StateConnecting {
		return
	}
	c.setStateLocked(StateActive)
}

// HandleRemoteEvent routes one event for the live session.
func (c *Controller) HandleRemoteEvent(ev RemoteEvent) {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	c.handle(gen, ev)
}

func (c *Controller) handle(gen uint64, ev RemoteEvent) {
	c.mu.Lock()
	if c.gen != gen || c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	session, playback, sessionID := c.session, c.playback, c.sessionID
	c.mu.Unlock()

	switch e := ev.(type) {
	case RemoteInterrupted:
		c.logger.Debug("playback interrupted", "sessionID", sessionID)
		if playback != nil {
			playback.Interrupt()
		}

	case RemoteToolCall:
		c.handleToolCalls(gen, session, e.Calls)

	case RemoteAudio:
		if playback == nil {
			return
		}
		for _, payload := range e.Payloads {
			if _, err := playback.Enqueue(payload); err != nil {
				var decodeErr *audio.DecodeError
				switch {
				case errors.As(err, &decodeErr):
					c.logger.Warn("dropping undecodable audio chunk", "sessionID", sessionID, "error", err)
				case errors.Is(err, ErrSchedulerClosed):
					return
				default:
					c.logger.Warn("failed to schedule audio chunk", "sessionID", sessionID, "error", err)
				}
			}
		}

	case RemoteClosed:
		c.logger.Info("remote session closed", "sessionID", sessionID)
		c.Stop()

	case RemoteError:
		err := &ConnectionError{Err: e.Err}
		c.logger.Error("remote session failed", "sessionID", sessionID, "error", err)
		c.mu.Lock()
		if c.gen == gen {
			c.lastErr = err
			c.emitLocked(ErrorRaised, err.Error())
		}
		c.mu.Unlock()
		c.Stop()
	}
}

// handleToolCalls acknowledges every recognised call once, each with its own
// id. Unknown tools get no acknowledgment.
func (c *Controller) handleToolCalls(gen uint64, session S2SSession, calls []FunctionCall) {
	ctx := context.Background()
	for _, call := range calls {
		resp, ok := c.bridge.Handle(call)
		c.metrics.RecordToolCall(ctx, call.Name, ok)
		if !ok {
			c.logger.Debug("ignoring unknown tool call", "tool", call.Name, "id", call.ID)
			continue
		}

		c.mu.Lock()
		if c.gen == gen && call.Name == BookingToolName {
			c.emitLocked(BookingRequested, call.ID)
		}
		c.mu.Unlock()

		if session == nil {
			continue
		}
		if err := session.SendToolResponse(ctx, resp); err != nil {
			c.logger.Warn("failed to acknowledge tool call", "tool", call.Name, "id", call.ID, "error", err)
		}
	}
}

// Stop tears the session down. It is safe to call in any state and more than
// once. Every resource is released even if releasing another fails.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	c.gen++
	session, capture, mic := c.session, c.capture, c.mic
	input, output, playback := c.input, c.output, c.playback
	c.session, c.capture, c.mic = nil, nil, nil
	c.input, c.output, c.playback = nil, nil, nil
	counted := c.counted
	c.counted = false
	c.setListeningLocked(false)
	c.setSpeakingLocked(false)
	c.setStateLocked(StateClosed)
	c.mu.Unlock()

	if session != nil {
		c.release("remote session", session.Close)
	}
	if capture != nil {
		c.release("capture pipeline", func() error { capture.Stop(); return nil })
	}
	if mic != nil {
		c.release("microphone", mic.Close)
	}
	if input != nil {
		c.release("input context", input.Close)
	}
	switch {
	case playback != nil:
		c.release("playback", playback.Teardown)
	case output != nil:
		c.release("output context", output.Close)
	}
	if counted {
		c.metrics.ActiveSessions.Add(context.Background(), -1)
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.setStateLocked(StateIdle)
	}
	c.mu.Unlock()
	c.logger.Info("session stopped")
}

func (c *Controller) release(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic while releasing resource", "resource", name, "panic", r)
		}
	}()
	if err := fn(); err != nil {
		c.logger.Warn("failed to release resource", "resource", name, "error", err)
	}
}

// setSpeaking is called by the playback scheduler with its lock held.
func (c *Controller) setSpeaking(gen uint64, speaking bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.setSpeakingLocked(speaking)
}

func (c *Controller) setSpeakingLocked(speaking bool) {
	if c.speaking == speaking {
		return
	}
	c.speaking = speaking
	c.emitLocked(SpeakingChanged, speaking)
}

func (c *Controller) setListeningLocked(listening bool) {
	if c.listening == listening {
		return
	}
	c.listening = listening
	c.emitLocked(ListeningChanged, listening)
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.logger.Debug("state changed", "from", c.state, "to", s, "sessionID", c.sessionID)
	c.state = s
	c.emitLocked(StateChanged, s)
}

func (c *Controller) isSpeaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaking
}

// Status returns a snapshot of the controller state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:     c.state,
		Listening: c.listening,
		Speaking:  c.speaking,
		SessionID: c.sessionID,
		Err:       c.lastErr,
	}
}

func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}
