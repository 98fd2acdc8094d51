package device

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/hhconstruction/hh-assistant/pkg/audio"
	"github.com/hhconstruction/hh-assistant/pkg/orchestrator"
)

var ErrClosed = errors.New("audio context closed")

// Output is a mono float32 playback context. Its clock counts frames the
// device has pulled.
type Output struct {
	mctx   *malgo.AllocatedContext
	device *malgo.Device
	rate   int
	tl     *timeline

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func openOutput(rate int, logger orchestrator.Logger) (*Output, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		logger.Debug("malgo", "message", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("init playback context: %w", err)
	}

	o := &Output{
		mctx: mctx,
		rate: rate,
		tl:   newTimeline(),
		done: make(chan struct{}),
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(rate)
	cfg.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: o.onData})
	if err != nil {
		freeContext(mctx)
		return nil, fmt.Errorf("init playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		freeContext(mctx)
		return nil, fmt.Errorf("start playback device: %w", err)
	}
	o.device = device

	go o.tl.dispatch(o.done)
	return o, nil
}

func (o *Output) onData(pOutput, _ []byte, frameCount uint32) {
	if pOutput == nil || frameCount == 0 {
		return
	}
	mix := make([]float32, frameCount)
	o.tl.render(mix)
	f32ToBytes(pOutput, mix)
}

func (o *Output) CurrentTime() float64 {
	return float64(o.tl.now()) / float64(o.rate)
}

// Schedule mixes buf (down-mixed to mono) in starting at clock time at.
func (o *Output) Schedule(buf *audio.Buffer, at float64, onEnded func()) (orchestrator.Source, error) {
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	start := int64(math.Round(at * float64(o.rate)))
	v := o.tl.add(downmix(buf), start, onEnded)
	return &source{tl: o.tl, v: v}, nil
}

func (o *Output) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	close(o.done)
	if o.device != nil {
		o.device.Uninit()
	}
	o.tl.reset()
	freeContext(o.mctx)
	return nil
}

type source struct {
	tl   *timeline
	v    *voice
	once sync.Once
}

func (s *source) Stop() {
	s.once.Do(func() { s.tl.stop(s.v) })
}

func downmix(buf *audio.Buffer) []float32 {
	if buf == nil || len(buf.Channels) == 0 {
		return nil
	}
	if len(buf.Channels) == 1 {
		return buf.Channels[0]
	}
	out := make([]float32, buf.Frames())
	scale := 1 / float32(len(buf.Channels))
	for _, ch := range buf.Channels {
		for i, s := range ch {
			out[i] += s * scale
		}
	}
	return out
}

func freeContext(mctx *malgo.AllocatedContext) {
	_ = mctx.Uninit()
	mctx.Free()
}
