package turn

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

// AudioSource produces raw PCM chunks for a transcription session, e.g. a
// microphone. The channel is closed when ctx is cancelled or capture ends.
type AudioSource interface {
	Capture(ctx context.Context) (<-chan []byte, error)
}

// STTTranscriber adapts an [stt.Provider] to [Transcriber]. Each Start opens
// a provider session and, when Source is set, pumps captured audio into it.
type STTTranscriber struct {
	Provider stt.Provider
	Config   stt.StreamConfig

	// Source feeds audio to the session. Nil for providers that need no
	// audio, such as the console provider.
	Source AudioSource
}

var _ Transcriber = (*STTTranscriber)(nil)

// Start implements [Transcriber].
func (t *STTTranscriber) Start(ctx context.Context) (Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	sess, err := t.Provider.StartStream(ctx, t.Config)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("turn: open stt session: %w", err)
	}

	s := &sttStream{
		sess:    sess,
		cancel:  cancel,
		results: make(chan Result, 32),
		done:    make(chan struct{}),
	}

	if t.Source != nil {
		audio, err := t.Source.Capture(ctx)
		if err != nil {
			cancel()
			_ = sess.Close()
			return nil, fmt.Errorf("turn: start audio capture: %w", err)
		}
		s.wg.Add(1)
		go s.pumpAudio(audio)
	}

	s.wg.Add(1)
	go s.forward()
	return s, nil
}

type sttStream struct {
	sess    stt.SessionHandle
	cancel  context.CancelFunc
	results chan Result
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

func (s *sttStream) Results() <-chan Result { return s.results }

func (s *sttStream) pumpAudio(audio <-chan []byte) {
	defer s.wg.Done()
	for chunk := range audio {
		if err := s.sess.SendAudio(chunk); err != nil {
			return
		}
	}
}

// forward merges partials and finals into results until both close or the
// stream is closed.
func (s *sttStream) forward() {
	defer s.wg.Done()
	defer close(s.results)
	partials, finals := s.sess.Partials(), s.sess.Finals()
	for partials != nil || finals != nil {
		var r Result
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			r = Result{Text: t.Text}
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			r = Result{Text: t.Text, Final: true}
		case <-s.done:
			return
		}
		select {
		case s.results <- r:
		case <-s.done:
			return
		}
	}
}

// Close stops capture, closes the provider session and waits for the pumps.
func (s *sttStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.cancel()
		err = s.sess.Close()
		s.wg.Wait()
	})
	return err
}
