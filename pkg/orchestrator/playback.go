package orchestrator

import (
	"context"
	"sync"

	"github.com/hhconstruction/hh-assistant/pkg/audio"
	"github.com/hhconstruction/hh-assistant/pkg/metrics"
)

// PlaybackScheduler plays inbound chunks back to back on an output context.
//
// Each chunk starts where the previous one ends, or at the current clock time
// if playback has drained, so chunks play in arrival order with no gap and no
// overlap.
type PlaybackScheduler struct {
	mu            sync.Mutex
	out           OutputContext
	sampleRate    int
	channels      int
	nextStartTime float64
	scheduled     map[*scheduledBuffer]struct{}
	closed        bool

	// onSpeaking is called with the scheduler lock held, so transitions are
	// observed in order. It must not call back into the scheduler.
	onSpeaking func(bool)
	onChunk    func(*audio.Buffer)
	logger     Logger
	metrics    *metrics.Metrics
}

type scheduledBuffer struct {
	src      Source
	start    float64
	duration float64
}

func NewPlaybackScheduler(out OutputContext, sampleRate, channels int, logger Logger, m *metrics.Metrics) *PlaybackScheduler {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if m == nil {
		m = metrics.Default()
	}
	if channels < 1 {
		channels = 1
	}
	return &PlaybackScheduler{
		out:        out,
		sampleRate: sampleRate,
		channels:   channels,
		scheduled:  make(map[*scheduledBuffer]struct{}),
		logger:     logger,
		metrics:    m,
	}
}

// OnSpeaking registers the speaking-facet callback.
func (s *PlaybackScheduler) OnSpeaking(fn func(speaking bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSpeaking = fn
}

// OnChunk registers a tap that sees every decoded chunk before it plays.
func (s *PlaybackScheduler) OnChunk(fn func(*audio.Buffer)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChunk = fn
}

// Enqueue decodes payload and schedules it after everything already queued.
// It returns the chunk's start time on the output clock.
func (s *PlaybackScheduler) Enqueue(payload string) (float64, error) {
	buf, err := audio.DecodeInbound(payload, s.sampleRate, s.channels)
	if err != nil {
		s.metrics.DecodeErrors.Add(context.Background(), 1)
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrSchedulerClosed
	}

	start := s.nextStartTime
	if now := s.out.CurrentTime(); now > start {
		start = now
	}

	sb := &scheduledBuffer{start: start, duration: buf.Duration()}
	src, err := s.out.Schedule(buf, start, func() { s.finished(sb) })
	if err != nil {
		return 0, err
	}
	sb.src = src

	if s.onChunk != nil {
		s.onChunk(buf)
	}

	s.nextStartTime = start + sb.duration
	wasIdle := len(s.scheduled) == 0
	s.scheduled[sb] = struct{}{}
	s.metrics.ChunksScheduled.Add(context.Background(), 1)
	if wasIdle {
		s.notify(true)
	}
	return start, nil
}

func (s *PlaybackScheduler) finished(sb *scheduledBuffer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.scheduled[sb]; !ok {
		return
	}
	delete(s.scheduled, sb)
	if len(s.scheduled) == 0 && !s.closed {
		s.notify(false)
	}
}

// Interrupt stops everything that is queued or playing. The next Enqueue
// starts at the current clock time.
func (s *PlaybackScheduler) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopAll()
	s.nextStartTime = 0
	s.metrics.Interruptions.Add(context.Background(), 1)
	s.notify(false)
}

// Teardown stops all buffers and closes the output context.
func (s *PlaybackScheduler) Teardown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.stopAll()
	s.nextStartTime = 0
	s.mu.Unlock()

	return s.out.Close()
}

// stopAll requires s.mu.
func (s *PlaybackScheduler) stopAll() {
	for sb := range s.scheduled {
		if sb.src != nil {
			sb.src.Stop()
		}
	}
	clear(s.scheduled)
}

// notify requires s.mu.
func (s *PlaybackScheduler) notify(speaking bool) {
	if s.onSpeaking != nil {
		s.onSpeaking(speaking)
	}
}

// NextStartTime returns the clock time at which the next chunk would start
// if playback had not drained. Zero means unset.
func (s *PlaybackScheduler) NextStartTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStartTime
}

// Pending returns the number of chunks queued or playing.
func (s *PlaybackScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scheduled)
}
