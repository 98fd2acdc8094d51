// Package device provides the audio contexts of a voice session on top of
// miniaudio (malgo): a capture context for the microphone and a playback
// context with a sample-accurate clock for scheduled buffers.
package device

import (
	"github.com/hhconstruction/hh-assistant/pkg/orchestrator"
)

var _ orchestrator.AudioBackend = (*Backend)(nil)

type Backend struct {
	logger orchestrator.Logger
}

func NewBackend(logger orchestrator.Logger) *Backend {
	if logger == nil {
		logger = &orchestrator.NoOpLogger{}
	}
	return &Backend{logger: logger}
}

func (b *Backend) OpenInput(sampleRate int) (orchestrator.InputContext, error) {
	in, err := openInput(sampleRate, b.logger)
	if err != nil {
		return nil, err
	}
	return in, nil
}

func (b *Backend) OpenOutput(sampleRate int) (orchestrator.OutputContext, error) {
	out, err := openOutput(sampleRate, b.logger)
	if err != nil {
		return nil, err
	}
	return out, nil
}
