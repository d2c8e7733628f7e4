// Package pipeline runs detection end to end: it resolves the rule
// configuration, loads transactions, analyzes and summarizes them, then
// persists, caches and announces the result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/detection"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/stats"
	"github.com/opensource-finance/kestrel/internal/telemetry"
)

// ErrReservedName is returned when saving a configuration under a preset name.
var ErrReservedName = errors.New("configuration name is reserved by a built-in preset")

// Options wires a Pipeline. Only Processor is required; nil backends skip
// their step.
type Options struct {
	Processor  *detection.Processor
	Repository domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus
	Recorder   *telemetry.Recorder

	// DefaultConfiguration is used when a request names none.
	DefaultConfiguration string

	// ResultTTL bounds how long run metrics and configurations stay cached.
	ResultTTL time.Duration
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	processor *detection.Processor
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	recorder  *telemetry.Recorder

	defaultConfiguration string
	resultTTL            time.Duration
	now                  func() time.Time
}

// New creates a pipeline from opts.
func New(opts Options) *Pipeline {
	p := &Pipeline{
		processor:            opts.Processor,
		repo:                 opts.Repository,
		cache:                opts.Cache,
		bus:                  opts.Bus,
		recorder:             opts.Recorder,
		defaultConfiguration: opts.DefaultConfiguration,
		resultTTL:            opts.ResultTTL,
		now:                  time.Now,
	}
	if p.processor == nil {
		p.processor = detection.NewProcessor(1)
	}
	if p.defaultConfiguration == "" {
		p.defaultConfiguration = rules.PresetDefault
	}
	if p.resultTTL <= 0 {
		p.resultTTL = time.Hour
	}
	return p
}

// ResolveConfiguration picks the configuration of req: the inline one, then a
// built-in preset, then a stored configuration.
func (p *Pipeline) ResolveConfiguration(ctx context.Context, req *domain.RunRequest) (domain.RuleConfiguration, error) {
	if req.Configuration != nil {
		cfg := *req.Configuration
		if err := cfg.Validate(); err != nil {
			return domain.RuleConfiguration{}, err
		}
		return cfg, nil
	}

	name := req.ConfigurationName
	if name == "" {
		name = p.defaultConfiguration
	}
	return p.Configuration(ctx, name)
}

// Configuration looks up a preset or stored configuration by name.
func (p *Pipeline) Configuration(ctx context.Context, name string) (domain.RuleConfiguration, error) {
	if rules.IsPreset(name) {
		return rules.Preset(name)
	}

	key := domain.ConfigurationKey(name)
	if p.cache != nil {
		var cfg domain.RuleConfiguration
		if ok, err := cache.GetJSON(ctx, p.cache, key, &cfg); err == nil && ok {
			return cfg, nil
		} else if err != nil {
			slog.Warn("configuration cache read failed", "name", name, "error", err)
		}
	}

	if p.repo == nil {
		return domain.RuleConfiguration{}, fmt.Errorf("%w: %s", domain.ErrUnknownPreset, name)
	}
	stored, err := p.repo.GetRuleConfiguration(ctx, name)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.RuleConfiguration{}, fmt.Errorf("%w: %s", domain.ErrUnknownPreset, name)
	}
	if err != nil {
		return domain.RuleConfiguration{}, fmt.Errorf("load configuration %s: %w", name, err)
	}

	if p.cache != nil {
		if err := cache.SetJSON(ctx, p.cache, key, stored, p.resultTTL); err != nil {
			slog.Warn("configuration cache write failed", "name", name, "error", err)
		}
	}
	return *stored, nil
}

// Configurations lists the built-in presets followed by stored configurations.
func (p *Pipeline) Configurations(ctx context.Context) ([]domain.RuleConfiguration, error) {
	out := rules.Presets()
	if p.repo == nil {
		return out, nil
	}
	stored, err := p.repo.ListRuleConfigurations(ctx)
	if err != nil {
		return nil, err
	}
	for _, cfg := range stored {
		out = append(out, *cfg)
	}
	return out, nil
}

// SaveConfiguration validates and stores a custom configuration.
func (p *Pipeline) SaveConfiguration(ctx context.Context, cfg *domain.RuleConfiguration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if rules.IsPreset(cfg.Name) {
		return fmt.Errorf("%w: %s", ErrReservedName, cfg.Name)
	}
	if p.repo == nil {
		return errors.New("no repository configured")
	}
	if err := p.repo.SaveRuleConfiguration(ctx, cfg); err != nil {
		return err
	}
	if p.cache != nil {
		if err := p.cache.Delete(ctx, domain.ConfigurationKey(cfg.Name)); err != nil {
			slog.Warn("configuration cache invalidation failed", "name", cfg.Name, "error", err)
		}
	}
	return nil
}

// Evaluate resolves, analyzes and summarizes req without side effects.
func (p *Pipeline) Evaluate(ctx context.Context, req *domain.RunRequest) (*domain.DetectionRun, error) {
	start := p.now()

	cfg, err := p.ResolveConfiguration(ctx, req)
	if err != nil {
		return nil, err
	}

	txs := req.Transactions
	if txs == nil && p.repo != nil {
		if txs, err = p.repo.ListTransactions(ctx); err != nil {
			return nil, fmt.Errorf("load transactions: %w", err)
		}
	}

	results, err := p.processor.Analyze(ctx, txs, cfg)
	if err != nil {
		return nil, err
	}

	id := req.RunID
	if id == "" {
		id = uuid.New().String()
	}

	return &domain.DetectionRun{
		ID:                id,
		ConfigurationName: cfg.Name,
		Configuration:     cfg,
		CreatedAt:         start.UTC(),
		DurationMs:        p.now().Sub(start).Milliseconds(),
		Metrics:           stats.Summarize(results),
		Results:           results,
	}, nil
}

// Run evaluates req, then persists the run when asked, caches its metrics,
// records telemetry and publishes completion plus one alert per suspicious
// transaction. Only evaluation and persistence failures fail the run.
func (p *Pipeline) Run(ctx context.Context, req *domain.RunRequest) (*domain.DetectionRun, error) {
	start := p.now()

	run, err := p.Evaluate(ctx, req)
	if err != nil {
		p.fail(req, err)
		return nil, err
	}

	if req.Persist {
		if p.repo == nil {
			err := errors.New("persistence requested but no repository configured")
			p.fail(req, err)
			return nil, err
		}
		if err := p.repo.SaveRun(ctx, run); err != nil {
			p.fail(req, err)
			return nil, fmt.Errorf("save run %s: %w", run.ID, err)
		}
	}

	if p.cache != nil {
		if err := cache.SetJSON(ctx, p.cache, domain.RunMetricsKey(run.ID), run.Metrics, p.resultTTL); err != nil {
			slog.Warn("run metrics cache write failed", "run_id", run.ID, "error", err)
		}
	}

	if p.recorder != nil {
		p.recorder.ObserveRun(run.ConfigurationName, run.Metrics, p.now().Sub(start))
	}

	p.publish(ctx, run)

	slog.Info("run completed",
		"run_id", run.ID,
		"configuration", run.ConfigurationName,
		"transactions", run.Metrics.TotalTransactions,
		"flagged", run.Metrics.FlaggedCount,
		"persisted", req.Persist,
		"duration_ms", run.DurationMs,
	)
	return run, nil
}

// RunMetrics returns a run's metrics, reading through the cache.
func (p *Pipeline) RunMetrics(ctx context.Context, runID string) (*domain.Metrics, error) {
	key := domain.RunMetricsKey(runID)
	if p.cache != nil {
		var m domain.Metrics
		if ok, err := cache.GetJSON(ctx, p.cache, key, &m); err == nil && ok {
			return &m, nil
		}
	}

	if p.repo == nil {
		return nil, repository.ErrNotFound
	}
	run, err := p.repo.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if p.cache != nil {
		_ = cache.SetJSON(ctx, p.cache, key, run.Metrics, p.resultTTL)
	}
	return &run.Metrics, nil
}

func (p *Pipeline) publish(ctx context.Context, run *domain.DetectionRun) {
	if p.bus == nil {
		return
	}

	completed := domain.RunCompletedEvent{
		RunID:             run.ID,
		ConfigurationName: run.ConfigurationName,
		TotalTransactions: run.Metrics.TotalTransactions,
		FlaggedCount:      run.Metrics.FlaggedCount,
		FlaggedPercentage: run.Metrics.FlaggedPercentage,
		DurationMs:        run.DurationMs,
	}
	if err := bus.PublishJSON(ctx, p.bus, domain.TopicRunCompleted, completed); err != nil {
		slog.Error("failed to publish run completion", "run_id", run.ID, "error", err)
	}

	for i := range run.Results {
		a := &run.Results[i]
		if !a.Suspicious {
			continue
		}
		alert := domain.AlertEvent{
			RunID:         run.ID,
			TransactionID: a.ID,
			UserID:        a.UserID,
			RiskScore:     a.RiskScore,
			Rules:         a.RuleIDs(),
		}
		if err := bus.PublishJSON(ctx, p.bus, domain.TopicAlert, alert); err != nil {
			slog.Error("failed to publish alert",
				"run_id", run.ID,
				"transaction_id", a.ID,
				"error", err,
			)
		}
	}
}

func (p *Pipeline) fail(req *domain.RunRequest, err error) {
	name := req.ConfigurationName
	if req.Configuration != nil {
		name = req.Configuration.Name
	}
	if name == "" {
		name = p.defaultConfiguration
	}
	if p.recorder != nil {
		p.recorder.ObserveFailure(name)
	}
	slog.Warn("run failed", "run_id", req.RunID, "configuration", name, "error", err)
}
