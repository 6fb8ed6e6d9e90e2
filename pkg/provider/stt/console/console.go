// Package console provides an stt.Provider that reads typed utterances from
// an io.Reader instead of transcribing audio. Each non-empty line becomes one
// final transcript. It lets the turn loop run on machines without a
// microphone or a transcription account.
package console

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/types"
)

// finalsBuffer is how many typed lines a session holds before further lines
// are dropped.
const finalsBuffer = 16

// Provider implements stt.Provider over line-oriented text input.
//
// Lines are read by a single goroutine that never waits for a consumer. A
// line typed while no session is open is dropped, and so is a line typed
// while the open session already has finalsBuffer lines queued.
type Provider struct {
	mu      sync.Mutex
	current *session
	eof     chan struct{}
}

var _ stt.Provider = (*Provider)(nil)

// New starts reading lines from r. Reading stops at EOF or on the first
// read error, which also ends any open session.
func New(r io.Reader) *Provider {
	p := &Provider{eof: make(chan struct{})}
	go p.read(r)
	return p
}

func (p *Provider) read(r io.Reader) {
	defer close(p.eof)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		p.mu.Lock()
		s := p.current
		p.mu.Unlock()
		if s != nil {
			s.deliver(line)
		}
	}
}

// StartStream opens a session that emits each subsequent input line as a
// final transcript. Opening a session replaces the previous one as the
// receiver of input. The session ends when Close is called, ctx is
// cancelled, or the input reaches EOF.
func (p *Provider) StartStream(ctx context.Context, _ stt.StreamConfig) (stt.SessionHandle, error) {
	s := &session{
		partials: make(chan types.Transcript),
		finals:   make(chan types.Transcript, finalsBuffer),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	p.mu.Lock()
	p.current = s
	p.mu.Unlock()
	go s.run(ctx, p)
	return s, nil
}

func (p *Provider) detach(s *session) {
	p.mu.Lock()
	if p.current == s {
		p.current = nil
	}
	p.mu.Unlock()
}

type session struct {
	partials chan types.Transcript
	done     chan struct{}
	stopped  chan struct{}
	once     sync.Once

	mu     sync.Mutex
	finals chan types.Transcript
	closed bool
}

func (s *session) run(ctx context.Context, p *Provider) {
	defer close(s.stopped)
	select {
	case <-s.done:
	case <-ctx.Done():
	case <-p.eof:
	}
	p.detach(s)

	s.mu.Lock()
	s.closed = true
	close(s.finals)
	close(s.partials)
	s.mu.Unlock()
}

// deliver queues line without blocking.
func (s *session) deliver(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.finals <- types.Transcript{Text: line, IsFinal: true, Confidence: 1}:
	default:
	}
}

// SendAudio discards audio; the console session has no use for it.
func (s *session) SendAudio([]byte) error {
	select {
	case <-s.done:
		return stt.ErrSessionClosed
	default:
		return nil
	}
}

func (s *session) Partials() <-chan types.Transcript { return s.partials }
func (s *session) Finals() <-chan types.Transcript   { return s.finals }

// Close stops the session and waits for its goroutine to exit.
func (s *session) Close() error {
	s.once.Do(func() { close(s.done) })
	<-s.stopped
	return nil
}
