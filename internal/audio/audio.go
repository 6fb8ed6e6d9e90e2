// Package audio captures microphone input and plays reply audio through the
// ffmpeg command line tools. Both need ffmpeg/ffplay on PATH.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
)

// MicSampleRate is the capture rate in Hz. Samples are signed 16-bit little
// endian mono.
const MicSampleRate = 16000

// micChunkBytes is 100 ms of audio at MicSampleRate.
const micChunkBytes = MicSampleRate * 2 / 10

// micArgs returns ffmpeg arguments that record the default input device as
// raw PCM on stdout.
func micArgs(goos string) ([]string, error) {
	var input []string
	switch goos {
	case "darwin":
		input = []string{"-f", "avfoundation", "-i", ":0"}
	case "linux":
		input = []string{"-f", "pulse", "-i", "default"}
	default:
		return nil, fmt.Errorf("audio: microphone capture is not supported on %s", goos)
	}
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, input...)
	return append(args,
		"-ac", "1",
		"-ar", strconv.Itoa(MicSampleRate),
		"-f", "s16le", "-",
	), nil
}

// FFmpegMic records the default microphone with ffmpeg.
type FFmpegMic struct {
	name string
	args []string
}

// MicOption configures an [FFmpegMic].
type MicOption func(*FFmpegMic)

// WithMicCommand replaces the capture command. The command must write raw
// PCM to stdout.
func WithMicCommand(name string, args ...string) MicOption {
	return func(m *FFmpegMic) {
		m.name = name
		m.args = args
	}
}

// NewFFmpegMic returns a microphone for the current platform.
func NewFFmpegMic(opts ...MicOption) (*FFmpegMic, error) {
	m := &FFmpegMic{name: "ffmpeg"}
	for _, o := range opts {
		o(m)
	}
	if m.args == nil {
		args, err := micArgs(runtime.GOOS)
		if err != nil {
			return nil, err
		}
		m.args = args
	}
	if _, err := exec.LookPath(m.name); err != nil {
		return nil, fmt.Errorf("audio: %s not found on PATH: %w", m.name, err)
	}
	return m, nil
}

// Capture starts recording. Chunks are delivered until ctx is cancelled or
// the capture process exits, then the channel is closed.
func (m *FFmpegMic) Capture(ctx context.Context) (<-chan []byte, error) {
	cmd := exec.CommandContext(ctx, m.name, m.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("audio: capture stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("audio: start capture: %w", err)
	}

	out := make(chan []byte, 8)
	go func() {
		defer close(out)
		defer func() { _ = cmd.Wait() }()
		buf := make([]byte, micChunkBytes)
		for {
			n, err := io.ReadFull(stdout, buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
					slog.Warn("audio: microphone read failed", "err", err)
				}
				return
			}
		}
	}()
	return out, nil
}

// FFplayPlayer plays encoded audio with ffplay, one clip per call.
type FFplayPlayer struct {
	name string
	args []string
}

// PlayerOption configures an [FFplayPlayer].
type PlayerOption func(*FFplayPlayer)

// WithPlayerCommand replaces the playback command. The command must read
// the clip from stdin and exit when it has finished playing.
func WithPlayerCommand(name string, args ...string) PlayerOption {
	return func(p *FFplayPlayer) {
		p.name = name
		p.args = args
	}
}

// NewFFplayPlayer returns a player backed by ffplay.
func NewFFplayPlayer(opts ...PlayerOption) (*FFplayPlayer, error) {
	p := &FFplayPlayer{
		name: "ffplay",
		args: []string{"-hide_banner", "-loglevel", "error", "-nodisp", "-autoexit", "-i", "-"},
	}
	for _, o := range opts {
		o(p)
	}
	if _, err := exec.LookPath(p.name); err != nil {
		return nil, fmt.Errorf("audio: %s not found on PATH: %w", p.name, err)
	}
	return p, nil
}

// Play pipes audio to the player and returns once playback has finished.
// Cancelling ctx kills the player. mimeType is informational; ffplay detects
// the format itself.
func (p *FFplayPlayer) Play(ctx context.Context, audio []byte, mimeType string) error {
	if len(audio) == 0 {
		return errors.New("audio: nothing to play")
	}
	cmd := exec.CommandContext(ctx, p.name, p.args...)
	cmd.Stdin = bytes.NewReader(audio)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("audio: play %s: %w: %s", mimeType, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}
