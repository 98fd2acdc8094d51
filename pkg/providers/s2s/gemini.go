package s2s

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/hhconstruction/hh-assistant/pkg/orchestrator"
)

var _ orchestrator.S2SProvider = (*GeminiLive)(nil)
var _ orchestrator.S2SSession = (*geminiSession)(nil)

const (
	defaultGeminiModel   = orchestrator.DefaultModel
	defaultGeminiBaseURL = "wss://generativelanguage.googleapis.com/ws"
	bidiPath             = "/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
	readLimit         = 16 * 1024 * 1024
)

var ErrSessionClosed = errors.New("gemini: session closed")

type Option func(*GeminiLive)

func WithModel(model string) Option {
	return func(g *GeminiLive) { g.model = model }
}

// WithBaseURL overrides the WebSocket endpoint, e.g. to point at a test
// server.
func WithBaseURL(u string) Option {
	return func(g *GeminiLive) { g.baseURL = strings.TrimSuffix(u, "/") }
}

// GeminiLive opens Gemini Live BidiGenerateContent sessions.
type GeminiLive struct {
	apiKey  string
	model   string
	baseURL string
}

func NewGeminiLive(apiKey string, opts ...Option) *GeminiLive {
	g := &GeminiLive{
		apiKey:  apiKey,
		model:   defaultGeminiModel,
		baseURL: defaultGeminiBaseURL,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *GeminiLive) Name() string {
	return "gemini-live"
}

// Connect dials the service, sends the setup message and reports OnOpen.
// Callbacks then run on the session's receive goroutine.
func (g *GeminiLive) Connect(ctx context.Context, cfg orchestrator.SessionConfig, cb orchestrator.SessionCallbacks) (orchestrator.S2SSession, error) {
	u := g.baseURL + bidiPath + "?key=" + url.QueryEscape(g.apiKey)

	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	model := cfg.Model
	if model == "" {
		model = g.model
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &geminiSession{
		conn:   conn,
		cb:     cb,
		ctx:    sessCtx,
		cancel: cancel,
	}

	if err := wsjson.Write(ctx, conn, newSetup(model, cfg)); err != nil {
		cancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	if cb.OnOpen != nil {
		cb.OnOpen()
	}

	go s.receiveLoop()
	go s.keepaliveLoop()

	return s, nil
}

// Outgoing messages.

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model             string             `json:"model"`
	GenerationConfig  generationConfig   `json:"generationConfig"`
	SystemInstruction *content           `json:"systemInstruction,omitempty"`
	Tools             []toolDeclarations `json:"tools,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig struct {
		PrebuiltVoiceConfig struct {
			VoiceName string `json:"voiceName"`
		} `json:"prebuiltVoiceConfig"`
	} `json:"voiceConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type toolDeclarations struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations"`
}

type functionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type realtimeInputMessage struct {
	RealtimeInput struct {
		MediaChunks []inlineData `json:"mediaChunks"`
	} `json:"realtimeInput"`
}

type toolResponseMessage struct {
	ToolResponse struct {
		FunctionResponses []functionResponse `json:"functionResponses"`
	} `json:"toolResponse"`
}

type functionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

func newSetup(model string, cfg orchestrator.SessionConfig) setupMessage {
	modalities := cfg.ResponseModalities
	if len(modalities) == 0 {
		modalities = []string{"AUDIO"}
	}
	msg := setupMessage{Setup: setupConfig{
		Model:            "models/" + strings.TrimPrefix(model, "models/"),
		GenerationConfig: generationConfig{ResponseModalities: modalities},
	}}
	if cfg.Voice != "" {
		sc := &speechConfig{}
		sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName = cfg.Voice
		msg.Setup.GenerationConfig.SpeechConfig = sc
	}
	if cfg.SystemInstruction != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: cfg.SystemInstruction}}}
	}
	if len(cfg.Tools) > 0 {
		decls := make([]functionDeclaration, len(cfg.Tools))
		for i, t := range cfg.Tools {
			decls[i] = functionDeclaration{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
		}
		msg.Setup.Tools = []toolDeclarations{{FunctionDeclarations: decls}}
	}
	return msg
}

// Incoming messages.

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	ToolCall      *toolCall        `json:"toolCall,omitempty"`
	Error         *serverError     `json:"error,omitempty"`
}

type serverContent struct {
	ModelTurn    *content `json:"modelTurn,omitempty"`
	TurnComplete bool     `json:"turnComplete,omitempty"`
	Interrupted  bool     `json:"interrupted,omitempty"`
}

type toolCall struct {
	FunctionCalls []struct {
		ID   string         `json:"id"`
		Name string         `json:"name"`
		Args map[string]any `json:"args"`
	} `json:"functionCalls"`
}

type serverError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

// toServerMessage reduces a wire message to what the controller acts on. It
// reports false when there is nothing to deliver.
func toServerMessage(m *serverMessage) (orchestrator.ServerMessage, bool) {
	var out orchestrator.ServerMessage
	if sc := m.ServerContent; sc != nil {
		out.Interrupted = sc.Interrupted
		out.TurnComplete = sc.TurnComplete
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData == nil || p.InlineData.Data == "" {
					continue
				}
				out.Audio = append(out.Audio, orchestrator.Blob{Data: p.InlineData.Data, MIMEType: p.InlineData.MIMEType})
			}
		}
	}
	if m.ToolCall != nil {
		for _, fc := range m.ToolCall.FunctionCalls {
			out.ToolCalls = append(out.ToolCalls, orchestrator.FunctionCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
	}
	ok := out.Interrupted || out.TurnComplete || len(out.Audio) > 0 || len(out.ToolCalls) > 0
	return out, ok
}

type geminiSession struct {
	conn *websocket.Conn
	cb   orchestrator.SessionCallbacks

	mu     sync.Mutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

func (s *geminiSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *geminiSession) receiveLoop() {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil || s.isClosed() {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				if s.cb.OnClose != nil {
					s.cb.OnClose()
				}
			default:
				if s.cb.OnError != nil {
					s.cb.OnError(fmt.Errorf("gemini: read: %w", err))
				}
			}
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if s.isClosed() {
			return
		}

		if msg.Error != nil {
			if s.cb.OnError != nil {
				s.cb.OnError(fmt.Errorf("gemini: %s", errorText(msg.Error)))
			}
			continue
		}
		if out, ok := toServerMessage(&msg); ok && s.cb.OnMessage != nil {
			s.cb.OnMessage(out)
		}
	}
}

func errorText(e *serverError) string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Status != "":
		return e.Status
	default:
		return "unknown error"
	}
}

func (s *geminiSession) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

// SendRealtimeInput streams one inline media chunk.
func (s *geminiSession) SendRealtimeInput(ctx context.Context, media orchestrator.Blob) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	var msg realtimeInputMessage
	msg.RealtimeInput.MediaChunks = []inlineData{{MIMEType: media.MIMEType, Data: media.Data}}
	return wsjson.Write(ctx, s.conn, msg)
}

func (s *geminiSession) SendToolResponse(ctx context.Context, responses ...orchestrator.FunctionResponse) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if len(responses) == 0 {
		return nil
	}
	var msg toolResponseMessage
	for _, r := range responses {
		msg.ToolResponse.FunctionResponses = append(msg.ToolResponse.FunctionResponses,
			functionResponse{ID: r.ID, Name: r.Name, Response: r.Response})
	}
	return wsjson.Write(ctx, s.conn, msg)
}

// Close ends the session. Nothing is reported to the callbacks afterwards.
// It does not wait for the receive goroutine, so it may be called from a
// callback.
func (s *geminiSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
