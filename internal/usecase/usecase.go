// Package usecase orchestrates coherence calculation and alert-driven
// recalculation: rule engine, scoring, alerting, anti-gaming, caching and
// event publishing.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/dshills/coherence/internal/alert"
	"github.com/dshills/coherence/internal/antigaming"
	"github.com/dshills/coherence/internal/cache"
	"github.com/dshills/coherence/internal/engine"
	"github.com/dshills/coherence/internal/events"
	"github.com/dshills/coherence/internal/history"
	"github.com/dshills/coherence/internal/project"
	"github.com/dshills/coherence/internal/schema"
	"github.com/dshills/coherence/internal/scoring"
)

// Errors returned to callers.
var (
	ErrResolutionNoteRequired = errors.New("usecase: dismissing an alert requires a resolution note")
	ErrInvalidAction          = errors.New("usecase: invalid alert action")
	ErrMissingSnapshot        = errors.New("usecase: project snapshot is required")
	ErrMissingProjectID       = errors.New("usecase: project id is required")
)

// Defaults for Options.
const (
	DefaultScoreLowThreshold     = 70
	DefaultRecalculatedThreshold = 10
	DefaultHistoryLookback       = 24 * time.Hour
)

// Metrics receives calculation telemetry. metrics.Recorder implements it.
type Metrics interface {
	Calculation(score int, d time.Duration)
	GamingDetected()
	Recalculation(triggered bool)
}

// Options wires the Calculator. Engine and Detector are required; every
// other collaborator may be nil.
type Options struct {
	Engine   *engine.Engine
	Mapper   *scoring.Mapper
	Detector *antigaming.Detector

	History         history.Source
	HistoryLookback time.Duration
	Cache           cache.Store
	Publisher       events.Publisher
	Metrics         Metrics
	Logger          *slog.Logger

	// ScoreLowThreshold publishes score_low for global scores below it.
	ScoreLowThreshold int
	// RecalculatedThreshold publishes recalculated when |delta| reaches it.
	RecalculatedThreshold int

	// Clock supplies "now" when a command does not. Defaults to time.Now.
	Clock func() time.Time
}

// Calculator runs the calculation and recalculation use cases. It is safe
// for concurrent use; work on one project id is serialized.
type Calculator struct {
	opts  Options
	log   *slog.Logger
	locks cache.KeyedMutex
}

// New returns a Calculator.
func New(opts Options) (*Calculator, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("usecase: engine is required")
	}
	if opts.Detector == nil {
		return nil, fmt.Errorf("usecase: anti-gaming detector is required")
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	if opts.HistoryLookback <= 0 {
		opts.HistoryLookback = DefaultHistoryLookback
	}
	if opts.ScoreLowThreshold == 0 {
		opts.ScoreLowThreshold = DefaultScoreLowThreshold
	}
	if opts.RecalculatedThreshold == 0 {
		opts.RecalculatedThreshold = DefaultRecalculatedThreshold
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Calculator{opts: opts, log: log.With(slog.String("component", "usecase"))}, nil
}

// CalculateCommand requests a coherence calculation.
type CalculateCommand struct {
	// ProjectID defaults to Snapshot.ProjectID.
	ProjectID string
	Snapshot  *project.Snapshot
	// Weights defaults to scoring.DefaultWeights.
	Weights schema.CategoryWeights
	// UserID selects the event history inspected by the anti-gaming
	// detector. Empty means no history.
	UserID string
	// Now defaults to the calculator clock.
	Now time.Time
	// Refresh bypasses the cache lookup. The fresh result is still stored.
	Refresh bool
}

// RecalculateCommand applies an alert action and re-derives the score.
type RecalculateCommand struct {
	AlertIDs       []string
	Action         schema.AlertAction
	ResolutionNote string
	Calculate      CalculateCommand
}

// Calculate runs the full pipeline for one project. Invalid weights are
// rejected before any other work.
func (c *Calculator) Calculate(ctx context.Context, cmd CalculateCommand) (*schema.CoherenceResult, error) {
	weights, err := resolveWeights(cmd.Weights)
	if err != nil {
		return nil, err
	}
	projectID, err := resolveProjectID(cmd)
	if err != nil {
		return nil, err
	}

	unlock := c.locks.Lock(projectID)
	defer unlock()

	if !cmd.Refresh {
		if res, ok := c.cached(ctx, projectID, weights); ok {
			c.log.Debug("cache hit", slog.String("project_id", projectID))
			return res, nil
		}
	}
	res, err := c.compute(ctx, projectID, cmd, weights)
	if err != nil {
		return nil, err
	}
	c.store(ctx, projectID, res)
	c.publishCalculated(ctx, res)
	return res, nil
}

// Recalculate applies an alert action. Recalculation is triggered only for
// RESOLVED or DISMISSED with at least one alert id; ACKNOWLEDGED never
// triggers. The previous score is the cached result when present, otherwise
// a fresh computation of the command's snapshot.
func (c *Calculator) Recalculate(ctx context.Context, cmd RecalculateCommand) (*schema.RecalculateResult, error) {
	action, err := schema.ParseAlertAction(string(cmd.Action))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, cmd.Action)
	}
	if action == schema.AlertDismissed && strings.TrimSpace(cmd.ResolutionNote) == "" {
		return nil, ErrResolutionNoteRequired
	}
	weights, err := resolveWeights(cmd.Calculate.Weights)
	if err != nil {
		return nil, err
	}
	projectID, err := resolveProjectID(cmd.Calculate)
	if err != nil {
		return nil, err
	}

	unlock := c.locks.Lock(projectID)
	defer unlock()

	prev, ok := c.cached(ctx, projectID, weights)
	if !ok {
		prev, err = c.compute(ctx, projectID, cmd.Calculate, weights)
		if err != nil {
			return nil, err
		}
	}

	out := &schema.RecalculateResult{
		ProjectID:              projectID,
		AlertIDs:               append([]string{}, cmd.AlertIDs...),
		Action:                 action,
		PreviousScore:          prev.GlobalScore,
		NewScore:               prev.GlobalScore,
		PreviousCategoryScores: prev.CategoryScores,
		NewCategoryScores:      prev.CategoryScores,
		ResolvedAlertIDs:       []string{},
	}
	if action == schema.AlertResolved {
		out.ResolvedAlertIDs = append(out.ResolvedAlertIDs, cmd.AlertIDs...)
	}
	out.RecalculationTriggered = (action == schema.AlertResolved || action == schema.AlertDismissed) &&
		len(cmd.AlertIDs) > 0
	if c.opts.Metrics != nil {
		c.opts.Metrics.Recalculation(out.RecalculationTriggered)
	}
	if !out.RecalculationTriggered {
		return out, nil
	}

	c.invalidate(ctx, projectID)
	next, err := c.compute(ctx, projectID, cmd.Calculate, weights)
	if err != nil {
		return nil, err
	}
	c.store(ctx, projectID, next)

	out.NewScore = next.GlobalScore
	out.NewCategoryScores = next.CategoryScores
	out.ScoreDelta = next.GlobalScore - prev.GlobalScore
	c.log.Info("recalculated",
		slog.String("project_id", projectID),
		slog.String("action", string(action)),
		slog.Int("previous_score", out.PreviousScore),
		slog.Int("new_score", out.NewScore))

	if abs(out.ScoreDelta) >= c.opts.RecalculatedThreshold {
		c.publish(ctx, events.TypeRecalculated, map[string]any{
			"project_id":     projectID,
			"action":         string(action),
			"alert_ids":      out.AlertIDs,
			"previous_score": out.PreviousScore,
			"new_score":      out.NewScore,
			"score_delta":    out.ScoreDelta,
		})
	}
	return out, nil
}

// compute runs the pipeline without touching the cache.
func (c *Calculator) compute(ctx context.Context, projectID string, cmd CalculateCommand, weights schema.CategoryWeights) (*schema.CoherenceResult, error) {
	if cmd.Snapshot == nil {
		return nil, ErrMissingSnapshot
	}
	start := time.Now()
	now := cmd.Now
	if now.IsZero() {
		now = c.opts.Clock()
	}

	results, err := c.opts.Engine.Run(ctx, cmd.Snapshot, now)
	if err != nil {
		return nil, fmt.Errorf("usecase: calculate %s: %w", projectID, err)
	}
	scores, details := scoring.Breakdown(results, c.opts.Mapper)
	global := scoring.GlobalScore(scores, weights)
	alerts := alert.FromResults(results, c.opts.Mapper)

	gaming := c.opts.Detector.Detect(antigaming.Input{
		Events:        c.userEvents(ctx, cmd.UserID, now),
		Now:           now,
		Score:         global,
		DocumentCount: cmd.Snapshot.DocumentCount,
	})

	res := &schema.CoherenceResult{
		ProjectID:        projectID,
		GlobalScore:      global,
		CategoryScores:   scores,
		CategoryDetails:  details,
		Alerts:           alerts,
		GamingDetected:   gaming.GamingDetected,
		GamingViolations: gaming.Violations,
		PenaltyPoints:    gaming.PenaltyPoints,
		Weights:          maps.Clone(weights),
		Results:          results,
		CalculatedAt:     now.UTC(),
	}
	if res.Alerts == nil {
		res.Alerts = []schema.Alert{}
	}
	if res.GamingViolations == nil {
		res.GamingViolations = []schema.GamingViolation{}
	}

	if c.opts.Metrics != nil {
		c.opts.Metrics.Calculation(global, time.Since(start))
		if gaming.GamingDetected {
			c.opts.Metrics.GamingDetected()
		}
	}
	c.log.Info("coherence calculated",
		slog.String("project_id", projectID),
		slog.Int("global_score", global),
		slog.Int("alerts", len(alerts)),
		slog.Bool("gaming_detected", gaming.GamingDetected))
	return res, nil
}

// userEvents fetches the detector's event window. Failures yield no events.
func (c *Calculator) userEvents(ctx context.Context, userID string, now time.Time) []schema.UserEvent {
	if c.opts.History == nil || userID == "" {
		return nil
	}
	evs, err := c.opts.History.Events(ctx, userID, now.Add(-c.opts.HistoryLookback), now)
	if err != nil {
		c.log.Warn("event history unavailable", slog.String("user_id", userID), slog.Any("error", err))
		return nil
	}
	return evs
}

func (c *Calculator) publishCalculated(ctx context.Context, res *schema.CoherenceResult) {
	if res.GlobalScore < c.opts.ScoreLowThreshold {
		c.publish(ctx, events.TypeScoreLow, map[string]any{
			"project_id":   res.ProjectID,
			"global_score": res.GlobalScore,
			"threshold":    c.opts.ScoreLowThreshold,
		})
	}
	if res.GamingDetected {
		rules := make([]string, len(res.GamingViolations))
		for i, v := range res.GamingViolations {
			rules[i] = v.RuleID
		}
		c.publish(ctx, events.TypeGamingDetected, map[string]any{
			"project_id":     res.ProjectID,
			"violations":     rules,
			"penalty_points": res.PenaltyPoints,
		})
	}
}

func (c *Calculator) publish(ctx context.Context, eventType string, payload map[string]any) {
	if err := c.opts.Publisher.Publish(ctx, eventType, payload); err != nil {
		c.log.Warn("event publish failed", slog.String("type", eventType), slog.Any("error", err))
	}
}

// cached returns the stored result for projectID when it was computed with
// weights. A result computed with other weights is a miss.
func (c *Calculator) cached(ctx context.Context, projectID string, weights schema.CategoryWeights) (*schema.CoherenceResult, bool) {
	if c.opts.Cache == nil {
		return nil, false
	}
	res, ok, err := c.opts.Cache.Get(ctx, projectID)
	if err != nil {
		c.log.Warn("cache get failed", slog.String("project_id", projectID), slog.Any("error", err))
		return nil, false
	}
	if ok && !scoring.SameWeights(res.Weights, weights) {
		c.log.Debug("cached result has other weights", slog.String("project_id", projectID))
		return nil, false
	}
	return res, ok
}

func (c *Calculator) store(ctx context.Context, projectID string, res *schema.CoherenceResult) {
	if c.opts.Cache == nil {
		return
	}
	if err := c.opts.Cache.Set(ctx, projectID, res); err != nil {
		c.log.Warn("cache set failed", slog.String("project_id", projectID), slog.Any("error", err))
	}
}

func (c *Calculator) invalidate(ctx context.Context, projectID string) {
	if c.opts.Cache == nil {
		return
	}
	if err := c.opts.Cache.Invalidate(ctx, projectID); err != nil {
		c.log.Warn("cache invalidate failed", slog.String("project_id", projectID), slog.Any("error", err))
	}
}

func resolveWeights(w schema.CategoryWeights) (schema.CategoryWeights, error) {
	if w == nil {
		return scoring.DefaultWeights(), nil
	}
	if err := scoring.ValidateWeights(w); err != nil {
		return nil, err
	}
	return w, nil
}

func resolveProjectID(cmd CalculateCommand) (string, error) {
	if cmd.ProjectID != "" {
		return cmd.ProjectID, nil
	}
	if cmd.Snapshot != nil && cmd.Snapshot.ProjectID != "" {
		return cmd.Snapshot.ProjectID, nil
	}
	return "", ErrMissingProjectID
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
