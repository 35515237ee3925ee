package cli

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/MimeLyc/chunked-sql-translator/internal/chunk"
	"github.com/MimeLyc/chunked-sql-translator/internal/config"
	"github.com/MimeLyc/chunked-sql-translator/internal/dedup"
	"github.com/MimeLyc/chunked-sql-translator/internal/governor"
	"github.com/MimeLyc/chunked-sql-translator/internal/grammar"
	"github.com/MimeLyc/chunked-sql-translator/internal/llm"
	"github.com/MimeLyc/chunked-sql-translator/internal/persistence"
	"github.com/MimeLyc/chunked-sql-translator/internal/pipeline"
	"github.com/MimeLyc/chunked-sql-translator/internal/transform"
	"github.com/MimeLyc/chunked-sql-translator/pkg/log"
)

// serviceBox lets the LLM client be replaced while jobs hold the governed
// wrapper.
type serviceBox struct {
	svc transform.Service
}

type swapService struct {
	current atomic.Pointer[serviceBox]
}

func newSwapService(svc transform.Service) *swapService {
	s := &swapService{}
	s.current.Store(&serviceBox{svc: svc})
	return s
}

func (s *swapService) Transform(ctx context.Context, req transform.Request) (*transform.Result, error) {
	return s.current.Load().svc.Transform(ctx, req)
}

func (s *swapService) swap(svc transform.Service) {
	s.current.Store(&serviceBox{svc: svc})
}

// app is the wired engine shared by every command.
type app struct {
	cfg      *config.Config
	store    *persistence.SQLiteStore
	service  *swapService
	governor *governor.Governor
	engine   *pipeline.Orchestrator
}

// newApp opens the checkpoint database and wires the engine. A nil service
// builds the LLM-backed one from cfg.
func newApp(cfg *config.Config, service transform.Service) (*app, error) {
	if service == nil {
		llmSvc, err := newLLMService(cfg.LLM)
		if err != nil {
			return nil, err
		}
		service = llmSvc
	}

	store, err := persistence.NewSQLiteStore(cfg.Checkpoint.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}

	gov, err := governor.New(cfg.Engine.MaxConcurrency, cfg.Engine.RPM)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var (
		validator grammar.Validator
		opts      []pipeline.Option
	)
	if cfg.Engine.GrammarCheck {
		dialects := grammar.DefaultDialects()
		if cfg.Engine.DialectMapFile != "" {
			if dialects, err = grammar.LoadDialects(cfg.Engine.DialectMapFile); err != nil {
				_ = store.Close()
				return nil, err
			}
		}
		validator = grammar.NewStructuralValidator()
		opts = append(opts, pipeline.WithDialectResolver(dialects.Lookup))
	}

	swap := newSwapService(service)
	governed := gov.Wrap(swap)
	runner := chunk.NewRunner(governed, validator, store, chunk.WithMaxTry(cfg.Engine.MaxTry))
	engine := pipeline.New(governed, runner, store, dedup.NewRegistry(), opts...)

	log.Info("Engine ready: model=%s max_try=%d concurrency=%d rpm=%g grammar=%t db=%s",
		cfg.LLM.Model, cfg.Engine.MaxTry, cfg.Engine.MaxConcurrency, cfg.Engine.RPM,
		cfg.Engine.GrammarCheck, cfg.Checkpoint.DBPath)

	return &app{
		cfg:      cfg,
		store:    store,
		service:  swap,
		governor: gov,
		engine:   engine,
	}, nil
}

func newLLMService(c config.LLMConfig) (*transform.LLMService, error) {
	client, err := llm.NewClient(&llm.Config{
		APIKey:      c.APIKey,
		APIURL:      c.APIURL,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		Timeout:     c.Timeout,
		JSONMode:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}
	return transform.NewLLMService(client), nil
}

// applyLLM swaps the service for one built from the runtime settings.
func (a *app) applyLLM(settings config.RuntimeSettings) error {
	next := a.cfg.LLM
	next.APIURL = settings.LLMAPIURL
	next.APIKey = settings.LLMAPIKey
	next.Model = settings.LLMModel
	svc, err := newLLMService(next)
	if err != nil {
		return err
	}
	a.service.swap(svc)
	log.Info("LLM settings applied: %v", next)
	return nil
}

// prune deletes snapshots older than the retention window.
func (a *app) prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-retention)
	n, err := a.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune checkpoints: %w", err)
	}
	log.Info("Pruned %d checkpoints older than %s", n, cutoff.Format(time.RFC3339))
	return n, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
