// Package turn implements the client side of a conversation: the state
// machine that records an utterance, decides when the user has finished
// speaking, sends the transcript to the dispatcher, plays the reply, and
// re-arms the microphone.
//
// The cycle is Idle → Listening → Sending → Playing → Listening. Listening
// ends when no transcription result has arrived for the silence delay, or
// immediately on a manual [Controller.Stop]. At most one turn is in flight.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/dispatch"
	"github.com/MrWong99/parley/pkg/model"
)

// DefaultSilence is how long the controller waits after the last
// transcription result before sending.
const DefaultSilence = 2000 * time.Millisecond

var (
	// ErrBusy is returned when an action is not allowed while a turn is
	// being sent or played.
	ErrBusy = errors.New("turn: a turn is in flight")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("turn: controller closed")
)

// Result is one transcription result. Interim results replace the pending
// segment; final results commit it.
type Result struct {
	Text  string
	Final bool
}

// Stream is an open transcription session.
type Stream interface {
	// Results is closed when the stream ends.
	Results() <-chan Result

	// Close ends the session. It must not wait for Results to be drained.
	Close() error
}

// Transcriber opens transcription sessions. Opening a session starts
// recording.
type Transcriber interface {
	Start(ctx context.Context) (Stream, error)
}

// Sender delivers a turn to the dispatcher.
type Sender interface {
	Send(ctx context.Context, req dispatch.TurnRequest) (*dispatch.TurnResponse, error)
}

// Player plays reply audio, returning when playback has finished.
type Player interface {
	Play(ctx context.Context, audio []byte, mimeType string) error
}

// Config holds the controller's collaborators. Transcriber, Sender and
// Player are required.
type Config struct {
	Transcriber Transcriber
	Sender      Sender
	Player      Player

	// Clock drives the silence timer. Default: [RealClock].
	Clock Clock

	// Detector picks the model from the transcript. Default:
	// model.NewDetector().
	Detector *model.Detector

	// Silence is the end-of-utterance delay. Default: [DefaultSilence].
	Silence time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Controller is the turn state machine. All methods are safe for concurrent
// use; transitions are serialized by a single mutex.
type Controller struct {
	transcriber Transcriber
	sender      Sender
	player      Player
	clock       Clock
	detector    *model.Detector
	silence     time.Duration
	log         *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	state     State
	closed    bool
	committed string
	pending   string

	stream   Stream
	streamID uint64

	// opening is set while a transcription stream is being opened outside
	// the lock. openGen invalidates an open that finishes after the
	// controller has moved on.
	opening bool
	openGen uint64

	timer    Timer
	timerGen uint64

	turnID     uint64
	turnCancel context.CancelFunc

	subs []chan State
}

// New returns an idle Controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Transcriber == nil || cfg.Sender == nil || cfg.Player == nil {
		return nil, errors.New("turn: transcriber, sender and player are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	if cfg.Detector == nil {
		cfg.Detector = model.NewDetector()
	}
	if cfg.Silence <= 0 {
		cfg.Silence = DefaultSilence
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		transcriber: cfg.Transcriber,
		sender:      cfg.Sender,
		player:      cfg.Player,
		clock:       cfg.Clock,
		detector:    cfg.Detector,
		silence:     cfg.Silence,
		log:         cfg.Logger,
		ctx:         ctx,
		cancel:      cancel,
		state:       State{Phase: PhaseIdle, Model: model.Default},
	}, nil
}

// State returns a snapshot of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe returns a channel receiving a snapshot after every transition.
// Snapshots are dropped when the channel is full. The channel is closed by
// Close.
func (c *Controller) Subscribe() <-chan State {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan State, 16)
	if c.closed {
		close(ch)
		return ch
	}
	c.subs = append(c.subs, ch)
	return ch
}

// Start begins listening. It is a no-op while already listening and fails
// with [ErrBusy] while a turn is being sent or played.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	switch {
	case c.state.Phase == PhaseListening, c.opening:
		c.mu.Unlock()
		return nil
	case c.state.Phase == PhaseSending, c.state.Phase == PhasePlaying:
		c.mu.Unlock()
		return ErrBusy
	}
	gen := c.beginListenLocked()
	c.mu.Unlock()
	return c.listen(gen)
}

// Stop ends recording at once. The silence timer is cancelled; if anything
// was captured it is sent immediately, otherwise the controller goes idle.
// Stop is a no-op unless listening.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.state.Phase != PhaseListening {
		return nil
	}
	c.cancelTimerLocked()
	text := strings.TrimSpace(c.state.Transcript)
	if text == "" {
		c.stopRecordingLocked()
		c.state.Phase = PhaseIdle
		c.notifyLocked()
		return nil
	}
	c.sendLocked(text, c.detector.Detect(text))
	return nil
}

// Toggle starts listening when idle and stops when listening.
func (c *Controller) Toggle() error {
	switch c.State().Phase {
	case PhaseIdle:
		return c.Start()
	case PhaseListening:
		return c.Stop()
	default:
		return ErrBusy
	}
}

// Select asks id to introduce itself, bypassing keyword detection. Any
// recording in progress is discarded.
func (c *Controller) Select(id model.ID) error {
	if !id.Valid() {
		return fmt.Errorf("turn: select %q: %w", id, model.ErrUnsupported)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.state.Phase == PhaseSending || c.state.Phase == PhasePlaying {
		return ErrBusy
	}
	c.cancelTimerLocked()
	c.sendLocked(string(id)+" introduce yourself in one sentence", id)
	return nil
}

// OnResult feeds a transcription result to the controller. Results are
// ignored unless listening; results with no text are ignored too, so that
// empty keep-alive results do not hold the silence timer open.
func (c *Controller) OnResult(r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resultLocked(r)
}

// Close stops recording, abandons any turn in flight, and waits for the
// controller's goroutines to exit.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cancelTimerLocked()
	c.stopRecordingLocked()
	c.turnID++
	if c.turnCancel != nil {
		c.turnCancel()
		c.turnCancel = nil
	}
	c.state.Phase = PhaseIdle
	c.state.Playing = false
	c.notifyLocked()
	for _, ch := range c.subs {
		close(ch)
	}
	c.subs = nil
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	return nil
}

func (c *Controller) beginListenLocked() uint64 {
	c.openGen++
	c.opening = true
	return c.openGen
}

// listen opens a transcription stream without holding the lock, then enters
// Listening unless the open was overtaken by Stop, Select or Close.
func (c *Controller) listen(gen uint64) error {
	stream, err := c.transcriber.Start(c.ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.openGen {
		if err == nil && stream != nil {
			_ = stream.Close()
		}
		if c.closed {
			return ErrClosed
		}
		return nil
	}
	c.opening = false
	if err != nil {
		c.state.Phase = PhaseIdle
		c.state.Recording = false
		c.state.Playing = false
		c.notifyLocked()
		return fmt.Errorf("turn: start transcription: %w", err)
	}
	c.streamID++
	c.stream = stream
	c.committed, c.pending = "", ""
	c.state = State{Phase: PhaseListening, Recording: true, Model: c.state.Model}
	c.notifyLocked()

	id := c.streamID
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for r := range stream.Results() {
			c.mu.Lock()
			if c.streamID == id && c.stream != nil {
				c.resultLocked(r)
			}
			c.mu.Unlock()
		}
	}()
	return nil
}

func (c *Controller) resultLocked(r Result) {
	if c.closed || c.state.Phase != PhaseListening {
		return
	}
	text := strings.TrimSpace(r.Text)
	if text == "" {
		return
	}
	if r.Final {
		c.committed = joinWords(c.committed, text)
		c.pending = ""
	} else {
		c.pending = text
	}
	c.state.Transcript = joinWords(c.committed, c.pending)
	c.armTimerLocked()
	c.notifyLocked()
}

func (c *Controller) armTimerLocked() {
	c.cancelTimerLocked()
	gen := c.timerGen
	c.timer = c.clock.AfterFunc(c.silence, func() { c.onSilence(gen) })
	c.state.Debouncing = true
}

// cancelTimerLocked stops the silence timer and invalidates any callback
// that has already fired but not yet acquired the lock.
func (c *Controller) cancelTimerLocked() {
	c.timerGen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.state.Debouncing = false
}

func (c *Controller) onSilence(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.timerGen || c.state.Phase != PhaseListening {
		return
	}
	c.timer = nil
	c.state.Debouncing = false
	text := strings.TrimSpace(c.state.Transcript)
	if text == "" {
		return
	}
	c.sendLocked(text, c.detector.Detect(text))
}

func (c *Controller) stopRecordingLocked() {
	if c.opening {
		c.opening = false
		c.openGen++
	}
	if c.stream == nil {
		return
	}
	if err := c.stream.Close(); err != nil {
		c.log.Warn("turn: close transcription stream", "err", err)
	}
	c.stream = nil
	c.state.Recording = false
}

// sendLocked freezes text, stops recording and starts the turn goroutine.
func (c *Controller) sendLocked(text string, id model.ID) {
	c.cancelTimerLocked()
	c.stopRecordingLocked()
	c.state.Phase = PhaseSending
	c.state.Transcript = text
	c.notifyLocked()

	c.turnID++
	turn := c.turnID
	ctx, cancel := context.WithCancel(c.ctx)
	c.turnCancel = cancel

	c.log.Info("sending turn", "model", string(id), "transcript", text)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		c.runTurn(ctx, turn, dispatch.TurnRequest{Transcript: text, Model: id})
	}()
}

func (c *Controller) runTurn(ctx context.Context, turn uint64, req dispatch.TurnRequest) {
	resp, err := c.sender.Send(ctx, req)

	c.mu.Lock()
	if c.closed || turn != c.turnID {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.log.Error("turn failed", "model", string(req.Model), "err", err)
		c.idleLocked()
		c.mu.Unlock()
		return
	}
	c.state.Phase = PhasePlaying
	c.state.Playing = true
	c.state.Model = resp.Model
	c.notifyLocked()
	c.mu.Unlock()

	err = c.player.Play(ctx, resp.Audio, resp.MimeType)

	c.mu.Lock()
	if c.closed || turn != c.turnID {
		c.mu.Unlock()
		return
	}
	c.turnCancel = nil
	if err != nil {
		c.log.Error("playback failed", "model", string(resp.Model), "err", err)
		c.idleLocked()
		c.mu.Unlock()
		return
	}
	c.state.Model = resp.Model
	gen := c.beginListenLocked()
	c.mu.Unlock()

	// Playing stays set until the new stream is open.
	if err := c.listen(gen); err != nil && !errors.Is(err, ErrClosed) {
		c.log.Error("re-arm listening failed", "err", err)
	}
}

func (c *Controller) idleLocked() {
	c.turnCancel = nil
	c.state.Phase = PhaseIdle
	c.state.Playing = false
	c.state.Recording = false
	c.notifyLocked()
}

func (c *Controller) notifyLocked() {
	snap := c.state
	for _, ch := range c.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

func joinWords(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}
