package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/lecternfm/lectern/internal/bookmark"
	"github.com/lecternfm/lectern/internal/config"
	"github.com/lecternfm/lectern/internal/document"
	"github.com/lecternfm/lectern/internal/httpapi"
	"github.com/lecternfm/lectern/internal/observability"
	"github.com/lecternfm/lectern/internal/protocol"
	"github.com/lecternfm/lectern/internal/reader"
	"github.com/lecternfm/lectern/internal/session"
	"github.com/lecternfm/lectern/internal/synth"
)

type EngineInfo struct {
	Mode   string
	Output string
	Detail string
}

type BuildResult struct {
	Config     config.Config
	API        *httpapi.Server
	Sessions   *session.Manager
	Controller *reader.Controller
	Provider   document.Provider
	Metrics    *observability.Metrics
	Window     *observability.StageWindow
	Engine     EngineInfo

	// Cleanup should be called on shutdown to release external resources
	// (DB, local workers, the playback pipeline).
	Cleanup func() error
}

// Build wires the full service: synthesis engine, playback renderer,
// reading controller, document provider, stores, and the HTTP API.
func Build(ctx context.Context, cfg config.Config, logger *log.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = log.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	window := observability.NewStageWindow(cfg.PerfWindow)

	bookmarks, err := bookmark.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bookmark store init failed: %w", err)
	}

	// The API server is built last but receives engine load updates, so
	// notifications go through a late-bound sink.
	var api *httpapi.Server
	notify := func(msg any) {
		if api != nil {
			api.Notify(msg)
		}
	}

	setup, err := resolveEngine(cfg, func(s synth.LoadStatus) {
		switch s.Stage {
		case protocol.TypeModelLoadStart:
			logger.Printf("app: loading synthesis model (device=%s)", s.Device)
			notify(protocol.ModelLoadStart{Type: protocol.TypeModelLoadStart, Device: s.Device})
		case protocol.TypeModelLoadProgress:
			notify(protocol.ModelLoadProgress{Type: protocol.TypeModelLoadProgress, Progress: s.Progress})
		case protocol.TypeModelLoadReady:
			logger.Printf("app: synthesis model ready")
			notify(protocol.ModelLoadReady{Type: protocol.TypeModelLoadReady, Voices: synth.Voices()})
		}
	})
	if err != nil {
		_ = bookmarks.Close()
		return nil, err
	}
	engine := metrics.InstrumentEngine(setup.engine, window)

	renderer, output, err := resolveRenderer(cfg, setup.engine.SampleRate(), logger)
	if err != nil {
		_ = setup.cleanup()
		_ = bookmarks.Close()
		return nil, err
	}

	controller := reader.New(engine, renderer, reader.Config{
		ChunkTargetSize: cfg.ChunkTargetSize,
		QueueCapacity:   cfg.QueueCapacity,
		Voice:           cfg.Voice,
		Speed:           cfg.Speed,
		TickInterval:    cfg.HighlightTick,
		WordsPerMinute:  cfg.WordsPerMinute,
	}, notify, logger, metrics, window)

	provider, err := openDocument(cfg)
	if err != nil {
		controller.Close()
		_ = setup.cleanup()
		_ = bookmarks.Close()
		return nil, err
	}
	controller.SetSource(provider.VisibleText())
	provider.OnNavigate(func() {
		controller.SetSource(provider.VisibleText())
	})

	observability.RegisterQueueDepth(cfg.MetricsNamespace, controller.QueueDepth)

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		if sessions.ActiveCount() == 0 {
			_ = controller.Stop()
		}
	})

	// Handlers report the engine that actually came up, not the requested one.
	cfg.Engine = setup.resolved

	api = httpapi.New(cfg, logger, sessions, controller, provider, bookmarks, metrics, window)

	cleanup := func() error {
		var errs []string
		controller.Close()
		if setup.cleanup != nil {
			if err := setup.cleanup(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if err := bookmarks.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:     cfg,
		API:        api,
		Sessions:   sessions,
		Controller: controller,
		Provider:   provider,
		Metrics:    metrics,
		Window:     window,
		Engine: EngineInfo{
			Mode:   setup.resolved,
			Output: output,
			Detail: setup.detail,
		},
		Cleanup: cleanup,
	}, nil
}

func openDocument(cfg config.Config) (document.Provider, error) {
	if strings.TrimSpace(cfg.DocumentPath) != "" {
		p, err := document.OpenFile(cfg.DocumentPath)
		if err != nil {
			return nil, fmt.Errorf("open document %s: %w", cfg.DocumentPath, err)
		}
		return p, nil
	}
	return document.NewFromText("welcome", welcomeText)
}

const welcomeText = `# Welcome to Lectern

Lectern reads documents aloud. Open a document by setting LECTERN_DOCUMENT
to a markdown or plain text file and restarting, or just press play to hear
this page.

## How it works

The text you see is split into chunks at sentence boundaries, synthesized
one chunk at a time, and played back to back. The highlight follows the
estimated position of the voice, and you can pause, resume, or seek to any
point without the audio from two positions ever overlapping.
`
