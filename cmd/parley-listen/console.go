package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/MrWong99/parley/internal/turn"
	"github.com/MrWong99/parley/pkg/model"
)

// controller is the subset of [turn.Controller] the console drives.
type controller interface {
	Toggle() error
	Select(id model.ID) error
}

// handleLine runs one line of keyboard input. Non-command lines are written
// to utterances when typed input is enabled. quit reports a /quit command.
func handleLine(c controller, line string, typed bool, utterances io.Writer, out io.Writer) (quit bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		if !typed {
			fmt.Fprintln(out, "unknown input; commands start with /")
			return false, nil
		}
		_, err := io.WriteString(utterances, line+"\n")
		return false, err
	}

	cmd, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	switch strings.ToLower(cmd) {
	case "toggle", "t":
		return false, c.Toggle()
	case "select", "s":
		id, err := model.Parse(arg)
		if err != nil {
			return false, err
		}
		return false, c.Select(id)
	case "models":
		for _, id := range model.All() {
			fmt.Fprintf(out, "  %-14s %s\n", id, id.Backend())
		}
		return false, nil
	case "quit", "q", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q", cmd)
	}
}

// render prints a line per state change until states is closed.
func render(out io.Writer, states <-chan turn.State) {
	var last turn.State
	for s := range states {
		if line := describe(last, s); line != "" {
			fmt.Fprintln(out, line)
		}
		last = s
	}
}

// describe returns the console line for the transition from prev to s, or ""
// when nothing visible changed.
func describe(prev, s turn.State) string {
	switch {
	case s.Phase == turn.PhaseSending && prev.Phase != turn.PhaseSending:
		return fmt.Sprintf("→ sending %q", s.Transcript)
	case s.Phase == turn.PhasePlaying && prev.Phase != turn.PhasePlaying:
		return fmt.Sprintf("♪ %s is answering", s.Model)
	case s.Phase == turn.PhaseListening && prev.Phase != turn.PhaseListening:
		return "● listening"
	case s.Phase == turn.PhaseIdle && prev.Phase != turn.PhaseIdle:
		return "○ idle"
	case s.Phase == turn.PhaseListening && s.Transcript != prev.Transcript && s.Transcript != "":
		return "  … " + s.Transcript
	}
	return ""
}

func scanLines(r io.Reader, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		out <- sc.Text()
	}
}

// mutePlayer discards reply audio.
type mutePlayer struct{}

func (mutePlayer) Play(_ context.Context, audio []byte, mimeType string) error {
	slog.Info("reply received", "bytes", len(audio), "mime_type", mimeType)
	return nil
}
