package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dshills/coherence/internal/antigaming"
	"github.com/dshills/coherence/internal/cache"
	"github.com/dshills/coherence/internal/catalog"
	"github.com/dshills/coherence/internal/config"
	"github.com/dshills/coherence/internal/engine"
	"github.com/dshills/coherence/internal/events"
	"github.com/dshills/coherence/internal/history"
	"github.com/dshills/coherence/internal/llm"
	"github.com/dshills/coherence/internal/locate"
	"github.com/dshills/coherence/internal/logging"
	"github.com/dshills/coherence/internal/metrics"
	"github.com/dshills/coherence/internal/rules"
	"github.com/dshills/coherence/internal/schema"
	"github.com/dshills/coherence/internal/scoring"
	"github.com/dshills/coherence/internal/usecase"
)

// app holds the collaborators built from one configuration.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Recorder
	catalog  *catalog.Catalog
	rules    *rules.Registry
	calc     *usecase.Calculator
	history  history.Source
	weights  schema.CategoryWeights
	closers  []io.Closer
}

// loadConfig loads path and maps failures to the bad-input exit code.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, badInput(err)
	}
	return cfg, nil
}

// newApp wires every collaborator. evs replaces the configured history
// source when non-nil. The caller must Close the app.
func newApp(cfg *config.Config, stderr io.Writer, evs history.Source) (*app, error) {
	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	log, logCloser, lerr := logging.New(cfg.Log, stderr)
	if lerr != nil {
		return nil, badInput(lerr)
	}
	a.log = log
	a.closers = append(a.closers, logCloser)

	a.registry = prometheus.NewRegistry()
	a.metrics = metrics.New(a.registry)

	var err error
	if a.catalog, err = loadCatalog(cfg.Engine.CatalogPath); err != nil {
		return nil, badInput(err)
	}

	q := rules.QualitativeOptions{Locator: locate.New(), Logger: log}
	if cfg.LLM.Provider != "" {
		provider, perr := llm.NewProvider(llm.ProviderConfig{Name: cfg.LLM.Provider, Model: cfg.LLM.Model})
		if perr != nil {
			return nil, runtimeErr(perr)
		}
		q.Reasoner = llm.NewService(provider, llm.Options{
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			MaxAttempts: cfg.LLM.MaxAttempts,
			Validate:    rules.ValidateVerdict,
			Logger:      log,
		})
	}
	if a.rules, err = rules.DefaultRegistry(q); err != nil {
		return nil, runtimeErr(err)
	}

	det, err := antigaming.New(cfg.AntiGaming)
	if err != nil {
		return nil, badInput(err)
	}
	if a.weights, err = cfg.CategoryWeights(); err != nil {
		return nil, badInput(err)
	}

	store, err := a.openCache()
	if err != nil {
		return nil, runtimeErr(err)
	}

	a.history = evs
	if a.history == nil && cfg.History.Path != "" {
		db, herr := history.OpenSQLite(cfg.History.Path)
		if herr != nil {
			return nil, runtimeErr(herr)
		}
		a.closers = append(a.closers, db)
		a.history = db
	}

	pub, err := a.openPublisher()
	if err != nil {
		return nil, runtimeErr(err)
	}

	a.calc, err = usecase.New(usecase.Options{
		Engine:                engine.New(a.catalog, a.rules, engine.Options{Parallelism: cfg.Engine.Parallelism, Logger: log}),
		Mapper:                scoring.NewMapper(a.catalog.Rules()),
		Detector:              det,
		History:               a.history,
		HistoryLookback:       cfg.History.Lookback,
		Cache:                 store,
		Publisher:             pub,
		Metrics:               a.metrics,
		Logger:                log,
		ScoreLowThreshold:     cfg.Thresholds.ScoreLow,
		RecalculatedThreshold: cfg.Thresholds.Recalculated,
	})
	if err != nil {
		return nil, runtimeErr(err)
	}
	ok = true
	return a, nil
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Builtin(), nil
	}
	return catalog.LoadFile(path)
}

func (a *app) openCache() (cache.Store, error) {
	switch a.cfg.Cache.Backend {
	case config.CacheMemory:
		return cache.NewMemory(a.cfg.Cache.TTL, a.metrics), nil
	case config.CacheBolt:
		s, err := cache.OpenBolt(a.cfg.Cache.Path, a.cfg.Cache.TTL, a.metrics)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s)
		return s, nil
	}
	return nil, nil
}

func (a *app) openPublisher() (events.Publisher, error) {
	if a.cfg.Events.Backend != config.EventsKafka {
		return events.Nop{}, nil
	}
	p, err := events.NewKafkaPublisher(a.cfg.Events.Kafka, a.log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, p)
	return p, nil
}

// flushMetrics writes the registry to the configured textfile, if any.
func (a *app) flushMetrics() {
	if a.cfg.Metrics.Textfile == "" {
		return
	}
	if err := prometheus.WriteToTextfile(a.cfg.Metrics.Textfile, a.registry); err != nil {
		a.log.Warn("metrics textfile write failed", slog.String("path", a.cfg.Metrics.Textfile), slog.Any("error", err))
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// openOutput returns stdout for "" or "-", otherwise a created file.
func openOutput(path string, stdout io.Writer) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopWriteCloser{stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open output %s: %w", path, err)
	}
	return f, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
