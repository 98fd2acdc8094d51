package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/hhconstruction/hh-assistant/pkg/orchestrator"
)

// frameQueue is how many captured frames may wait for the consumer before
// new ones are dropped.
const frameQueue = 64

// Input is a capture context. Each OpenMicrophone call opens a mono float32
// capture device on it.
type Input struct {
	mctx   *malgo.AllocatedContext
	rate   int
	logger orchestrator.Logger

	mu     sync.Mutex
	mics   map[*Mic]struct{}
	closed bool
}

func openInput(rate int, logger orchestrator.Logger) (*Input, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		logger.Debug("malgo", "message", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("init capture context: %w", err)
	}
	return &Input{mctx: mctx, rate: rate, logger: logger, mics: make(map[*Mic]struct{})}, nil
}

// OpenMicrophone starts the default capture device.
func (in *Input) OpenMicrophone(ctx context.Context) (orchestrator.MicStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return nil, ErrClosed
	}

	m := newMic(in.logger)

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(in.rate)
	cfg.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(in.mctx.Context, cfg, malgo.DeviceCallbacks{Data: m.onData})
	if err != nil {
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("start capture device: %w", err)
	}
	m.release = func() error {
		device.Uninit()
		in.forget(m)
		return nil
	}
	in.mics[m] = struct{}{}
	return m, nil
}

func (in *Input) forget(m *Mic) {
	in.mu.Lock()
	defer in.mu.Unlock()
	delete(in.mics, m)
}

// Close releases any microphone still open and the context itself.
func (in *Input) Close() error {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return nil
	}
	in.closed = true
	mics := make([]*Mic, 0, len(in.mics))
	for m := range in.mics {
		mics = append(mics, m)
	}
	in.mu.Unlock()

	for _, m := range mics {
		m.Close()
	}
	freeContext(in.mctx)
	return nil
}

// Mic is a running capture device.
type Mic struct {
	logger  orchestrator.Logger
	release func() error

	mu      sync.Mutex
	framer  *framer
	frames  chan []float32
	stop    chan struct{}
	wg      sync.WaitGroup
	dropped int
	closed  bool
}

func newMic(logger orchestrator.Logger) *Mic {
	return &Mic{logger: logger}
}

func (m *Mic) onData(_, pInput []byte, frameCount uint32) {
	if pInput == nil || frameCount == 0 {
		return
	}
	samples := f32FromBytes(pInput, int(frameCount))

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.framer == nil {
		return
	}
	m.framer.push(samples, func(frame []float32) {
		select {
		case m.frames <- frame:
		default:
			m.dropped++
			if m.dropped == 1 || m.dropped%100 == 0 {
				m.logger.Warn("capture consumer too slow, dropping frames", "dropped", m.dropped)
			}
		}
	})
}

// Tap delivers frames of frameSize samples to fn on a dedicated goroutine.
func (m *Mic) Tap(frameSize int, fn func(frame []float32)) error {
	if frameSize <= 0 {
		return fmt.Errorf("invalid frame size %d", frameSize)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.framer != nil {
		return fmt.Errorf("microphone already tapped")
	}

	frames := make(chan []float32, frameQueue)
	stop := make(chan struct{})
	m.framer, m.frames, m.stop = newFramer(frameSize), frames, stop

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-stop:
				return
			case frame := <-frames:
				fn(frame)
			}
		}
	}()
	return nil
}

// Untap stops delivery and waits for an in-flight frame to finish.
func (m *Mic) Untap() {
	m.mu.Lock()
	stop := m.stop
	m.framer, m.frames, m.stop = nil, nil, nil
	m.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	m.wg.Wait()
}

func (m *Mic) Close() error {
	m.Untap()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	release := m.release
	m.mu.Unlock()

	if release != nil {
		return release()
	}
	return nil
}
