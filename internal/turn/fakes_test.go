package turn

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/dispatch"
)

// fakeClock fires timers only when advanced. With ignoreStop set, Stop
// reports failure and leaves the timer armed, as if its callback had
// already been dispatched.
type fakeClock struct {
	mu         sync.Mutex
	now        time.Duration
	timers     []*fakeTimer
	ignoreStop bool
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.clock.ignoreStop || t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward and runs every due timer outside the lock.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []func()
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			due = append(due, t.f)
		}
	}
	c.mu.Unlock()
	for _, f := range due {
		f()
	}
}

// Pending counts armed timers.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type fakeStream struct {
	results chan Result
	once    sync.Once
	mu      sync.Mutex
	closed  bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{results: make(chan Result, 16)}
}

func (s *fakeStream) Results() <-chan Result { return s.results }

func (s *fakeStream) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.results)
	})
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeTranscriber opens fake streams. When gate is non-nil every Start waits
// for a value on it (or ctx cancellation) first, like a slow dial.
type fakeTranscriber struct {
	mu      sync.Mutex
	streams []*fakeStream
	err     error
	gate    chan struct{}
}

func (f *fakeTranscriber) Start(ctx context.Context) (Stream, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := newFakeStream()
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeTranscriber) started() []*fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeStream(nil), f.streams...)
}

// fakeSender answers with resp/err. When gate is non-nil every Send waits
// for a value on it (or ctx cancellation) first.
type fakeSender struct {
	mu   sync.Mutex
	reqs []dispatch.TurnRequest
	resp *dispatch.TurnResponse
	err  error
	gate chan struct{}
}

func (f *fakeSender) Send(ctx context.Context, req dispatch.TurnRequest) (*dispatch.TurnResponse, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	gate, resp, err := f.gate, f.resp, f.err
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return resp, err
}

func (f *fakeSender) requests() []dispatch.TurnRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dispatch.TurnRequest(nil), f.reqs...)
}

// fakePlayer blocks each Play until release receives a value or ctx ends.
type fakePlayer struct {
	mu      sync.Mutex
	played  [][]byte
	err     error
	release chan error
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{release: make(chan error)}
}

func (p *fakePlayer) Play(ctx context.Context, audio []byte, _ string) error {
	p.mu.Lock()
	p.played = append(p.played, audio)
	p.mu.Unlock()
	select {
	case err := <-p.release:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *fakePlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.played)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
