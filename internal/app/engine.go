package app

import (
	"fmt"
	"log"
	"strings"

	"github.com/lecternfm/lectern/internal/config"
	"github.com/lecternfm/lectern/internal/playback"
	"github.com/lecternfm/lectern/internal/synth"
)

type engineSetup struct {
	engine   synth.Engine
	resolved string
	detail   string
	cleanup  func() error
}

func resolveEngine(cfg config.Config, observe synth.LoadObserver) (engineSetup, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Engine))
	if mode == "" {
		mode = "auto"
	}

	tryKokoro := func() (engineSetup, error) {
		e, err := synth.StartKokoroEngine(synth.KokoroConfig{
			Python:       cfg.KokoroPython,
			WorkerScript: cfg.KokoroWorkerScript,
			LangCode:     cfg.KokoroLangCode,
			Device:       cfg.KokoroDevice,
		}, observe)
		if err != nil {
			return engineSetup{}, err
		}
		return engineSetup{
			engine:   e,
			resolved: "kokoro",
			detail:   fmt.Sprintf("kokoro worker (%s)", cfg.KokoroWorkerScript),
			cleanup:  e.Close,
		}, nil
	}

	mock := func(detail string) engineSetup {
		e := synth.NewMockEngine(observe)
		return engineSetup{
			engine:   e,
			resolved: "mock",
			detail:   detail,
			cleanup:  e.Close,
		}
	}

	switch mode {
	case "kokoro":
		setup, err := tryKokoro()
		if err != nil {
			return engineSetup{}, fmt.Errorf("kokoro engine init failed: %w", err)
		}
		return setup, nil
	case "mock":
		return mock("mock tone engine"), nil
	case "auto":
		setup, err := tryKokoro()
		if err == nil {
			return setup, nil
		}
		return mock(fmt.Sprintf("mock (kokoro unavailable: %v)", err)), nil
	default:
		return engineSetup{}, fmt.Errorf("invalid LECTERN_ENGINE: %q (expected auto|kokoro|mock)", cfg.Engine)
	}
}

func resolveRenderer(cfg config.Config, sampleRate int, logger *log.Logger) (playback.Renderer, string, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.AudioOutput))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "speaker":
		r, err := playback.NewSpeakerRenderer(sampleRate)
		if err != nil {
			return nil, "", fmt.Errorf("speaker init failed: %w", err)
		}
		return r, "speaker", nil
	case "timed":
		return playback.TimedRenderer{}, "timed", nil
	case "auto":
		r, err := playback.NewSpeakerRenderer(sampleRate)
		if err != nil {
			logger.Printf("app: no audio device, pacing playback on timers: %v", err)
			return playback.TimedRenderer{}, "timed", nil
		}
		return r, "speaker", nil
	default:
		return nil, "", fmt.Errorf("invalid LECTERN_AUDIO_OUTPUT: %q (expected auto|speaker|timed)", cfg.AudioOutput)
	}
}
