package turn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/provider/stt"
	sttmock "github.com/MrWong99/parley/pkg/provider/stt/mock"
	"github.com/MrWong99/parley/pkg/types"
)

type chanSource struct {
	ch  chan []byte
	err error
}

func (s *chanSource) Capture(ctx context.Context) (<-chan []byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(chan []byte)
	go func() {
		defer close(out)
		for {
			select {
			case b := <-s.ch:
				select {
				case out <- b:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func TestSTTTranscriber_ForwardsResults(t *testing.T) {
	sess := sttmock.NewSession()
	p := &sttmock.Provider{Session: sess}
	tr := &STTTranscriber{Provider: p, Config: stt.StreamConfig{SampleRate: 16000, Channels: 1}}

	stream, err := tr.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	sess.PartialsCh <- types.Transcript{Text: "gpt4 exp"}
	sess.FinalsCh <- types.Transcript{Text: "gpt4 explain entropy", IsFinal: true}

	var got []Result
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case r := <-stream.Results():
			got = append(got, r)
		case <-timeout:
			t.Fatalf("got %v", got)
		}
	}
	// Partials and finals are separate channels, so only membership is
	// deterministic.
	var sawPartial, sawFinal bool
	for _, r := range got {
		switch {
		case r.Final && r.Text == "gpt4 explain entropy":
			sawFinal = true
		case !r.Final && r.Text == "gpt4 exp":
			sawPartial = true
		}
	}
	if !sawPartial || !sawFinal {
		t.Errorf("results = %+v", got)
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if sess.Closed() != 1 {
		t.Errorf("session closed %d times, want 1", sess.Closed())
	}
	if _, ok := <-stream.Results(); ok {
		t.Error("results still open after Close")
	}
	if calls := p.Calls(); len(calls) != 1 || calls[0].Cfg.SampleRate != 16000 {
		t.Errorf("StartStream calls = %+v", calls)
	}
}

func TestSTTTranscriber_PumpsAudio(t *testing.T) {
	sess := sttmock.NewSession()
	src := &chanSource{ch: make(chan []byte)}
	tr := &STTTranscriber{Provider: &sttmock.Provider{Session: sess}, Source: src}

	stream, err := tr.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	src.ch <- []byte{1, 2}
	src.ch <- []byte{3, 4}

	waitFor(t, "audio", func() bool { return len(sess.AudioCalls()) == 2 })
	_ = stream.Close()
}

func TestSTTTranscriber_StartErrors(t *testing.T) {
	errNoMic := errors.New("no microphone")

	tr := &STTTranscriber{Provider: &sttmock.Provider{StartStreamErr: errors.New("dial failed")}}
	if _, err := tr.Start(context.Background()); err == nil {
		t.Error("expected provider error")
	}

	sess := sttmock.NewSession()
	tr = &STTTranscriber{Provider: &sttmock.Provider{Session: sess}, Source: &chanSource{err: errNoMic}}
	if _, err := tr.Start(context.Background()); !errors.Is(err, errNoMic) {
		t.Errorf("err = %v, want errNoMic", err)
	}
	if sess.Closed() != 1 {
		t.Error("session not closed after capture failure")
	}
}
