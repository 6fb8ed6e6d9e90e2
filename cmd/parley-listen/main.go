// Command parley-listen is the voice client. It records the microphone,
// sends each utterance to a parley server after a pause, and plays the
// spoken reply.
//
// Keyboard commands (one per line on stdin):
//
//	/toggle          start or stop listening
//	/select <model>  ask <model> to introduce itself
//	/models          list the models
//	/quit            exit
//
// With the console transcriber, any other line is treated as a spoken
// utterance.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrWong99/parley/internal/audio"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/turn"
	"github.com/MrWong99/parley/pkg/model"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/stt/console"
	"github.com/MrWong99/parley/pkg/provider/stt/deepgram"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "parley.yaml", "path to the YAML configuration file")
	envFile := flag.String("env-file", ".env", "optional file of KEY=VALUE environment overrides")
	endpoint := flag.String("endpoint", "", "chat endpoint URL (overrides client.endpoint)")
	typed := flag.Bool("console", false, "read utterances from stdin instead of the microphone")
	mute := flag.Bool("mute", false, "do not play replies")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "parley-listen: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parley-listen: %v\n", err)
		return 1
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel(cfg.Server.LogLevel)})))

	if *endpoint != "" {
		cfg.Client.Endpoint = *endpoint
	}
	if *typed {
		cfg.Client.STT.Name = "console"
	}
	if cfg.Client.STT.Name == "deepgram" && cfg.Client.STT.APIKey == "" {
		slog.Warn("no transcription key, falling back to typed input", "env", "DEEPGRAM_API_KEY")
		cfg.Client.STT.Name = "console"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Lines that are not commands feed the console transcriber.
	utterances, utterW := io.Pipe()
	defer utterW.Close()

	var detectorOpts []model.DetectorOption
	if cfg.Client.Phonetic {
		detectorOpts = append(detectorOpts, model.WithPhonetic())
	}
	detector := model.NewDetector(detectorOpts...)

	reg := config.NewRegistry()
	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, deepgram.WithLanguage(entry.Language))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})
	reg.RegisterSTT("console", func(config.ProviderEntry) (stt.Provider, error) {
		return console.New(utterances), nil
	})

	provider, err := reg.CreateSTT(cfg.Client.STT)
	if err != nil {
		slog.Error("failed to create transcriber", "err", err)
		return 1
	}

	transcriber := &turn.STTTranscriber{
		Provider: provider,
		Config: stt.StreamConfig{
			SampleRate: audio.MicSampleRate,
			Channels:   1,
			Language:   cfg.Client.STT.Language,
			Keywords:   detector.Keywords(),
		},
	}
	if cfg.Client.STT.Name != "console" {
		mic, err := audio.NewFFmpegMic()
		if err != nil {
			slog.Error("microphone unavailable", "err", err)
			return 1
		}
		transcriber.Source = mic
	}

	var player turn.Player = mutePlayer{}
	if !*mute {
		p, err := audio.NewFFplayPlayer()
		if err != nil {
			slog.Error("playback unavailable; run with -mute to skip replies", "err", err)
			return 1
		}
		player = p
	}

	ctrl, err := turn.New(turn.Config{
		Transcriber: transcriber,
		Sender:      turn.NewHTTPSender(cfg.Client.Endpoint),
		Player:      player,
		Detector:    detector,
		Silence:     cfg.Client.Silence,
	})
	if err != nil {
		slog.Error("failed to create controller", "err", err)
		return 1
	}
	defer ctrl.Close()

	go render(os.Stdout, ctrl.Subscribe())

	slog.Info("parley-listen ready", "endpoint", cfg.Client.Endpoint, "stt", cfg.Client.STT.Name)
	fmt.Fprintln(os.Stdout, "type /toggle to start listening, /quit to exit")

	lines := make(chan string)
	go scanLines(os.Stdin, lines)

	typedInput := cfg.Client.STT.Name == "console"
	for {
		select {
		case <-ctx.Done():
			return 0
		case line, ok := <-lines:
			if !ok {
				return 0
			}
			quit, err := handleLine(ctrl, line, typedInput, utterW, os.Stdout)
			if err != nil {
				if errors.Is(err, turn.ErrClosed) {
					return 0
				}
				fmt.Fprintf(os.Stdout, "! %v\n", err)
			}
			if quit {
				return 0
			}
		}
	}
}

func slogLevel(l config.LogLevel) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
