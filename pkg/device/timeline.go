package device

import "sync"

// timeline mixes scheduled voices onto a frame clock that advances as the
// playback device pulls samples.
type timeline struct {
	mu       sync.Mutex
	pos      int64
	voices   map[*voice]struct{}
	finished []*voice
	wake     chan struct{}
}

type voice struct {
	samples []float32
	start   int64
	onEnded func()
	stopped bool
}

func newTimeline() *timeline {
	return &timeline{
		voices: make(map[*voice]struct{}),
		wake:   make(chan struct{}, 1),
	}
}

func (t *timeline) now() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pos
}

// add places samples at frame start. A start in the past plays from now.
func (t *timeline) add(samples []float32, start int64, onEnded func()) *voice {
	t.mu.Lock()
	defer t.mu.Unlock()
	if start < t.pos {
		start = t.pos
	}
	v := &voice{samples: samples, start: start, onEnded: onEnded}
	t.voices[v] = struct{}{}
	return v
}

// stop removes v. Its onEnded will not run.
func (t *timeline) stop(v *voice) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v.stopped = true
	delete(t.voices, v)
}

// render mixes the next len(out) frames into out and advances the clock.
func (t *timeline) render(out []float32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	clear(out)
	n := int64(len(out))
	for v := range t.voices {
		end := v.start + int64(len(v.samples))
		from, to := max(v.start, t.pos), min(end, t.pos+n)
		for f := from; f < to; f++ {
			out[f-t.pos] += v.samples[f-v.start]
		}
		if end <= t.pos+n {
			delete(t.voices, v)
			t.finished = append(t.finished, v)
		}
	}
	for i, s := range out {
		switch {
		case s > 1:
			out[i] = 1
		case s < -1:
			out[i] = -1
		}
	}
	t.pos += n

	if len(t.finished) > 0 {
		select {
		case t.wake <- struct{}{}:
		default:
		}
	}
}

// dispatch runs onEnded callbacks off the audio thread until done closes.
func (t *timeline) dispatch(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-t.wake:
		}

		t.mu.Lock()
		batch := t.finished
		t.finished = nil
		t.mu.Unlock()

		for _, v := range batch {
			t.fire(v)
		}
	}
}

func (t *timeline) fire(v *voice) {
	t.mu.Lock()
	if v.stopped || v.onEnded == nil {
		t.mu.Unlock()
		return
	}
	fn := v.onEnded
	v.onEnded = nil
	t.mu.Unlock()
	fn()
}

// reset drops every voice without firing callbacks.
func (t *timeline) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for v := range t.voices {
		v.stopped = true
	}
	for _, v := range t.finished {
		v.stopped = true
	}
	clear(t.voices)
	t.finished = nil
}
