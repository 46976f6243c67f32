// internal/chaos/chaos.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrSteadyStateInvalid aborts an experiment before any fault is injected.
var ErrSteadyStateInvalid = errors.New("steady state invalid, aborting experiment")

// Experiment defines a chaos engineering test
type Experiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Probe
	Method      []Action
	Rollback    []Action
	Validation  []Assertion
	// Duration is how long probes are sampled after the method ran.
	Duration time.Duration
}

// Probe is a measurable system property.
type Probe struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Action injects load or faults. A returned error is recorded as an
// observed misbehaviour of the target.
type Action struct {
	Type    string
	Target  string
	Execute func(context.Context) error
}

// Assertion validates the last observation of a probe.
type Assertion struct {
	Probe     string
	Condition func(float64) bool
	Message   string
}

// Result captures experiment execution data
type Result struct {
	ExperimentName   string                 `json:"experiment_name"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Duration         time.Duration          `json:"duration"`
	HypothesisHeld   bool                   `json:"hypothesis_held"`
	SteadyStateValid bool                   `json:"steady_state_valid"`
	Violations       []Violation            `json:"violations"`
	Observations     map[string][]DataPoint `json:"observations"`
	ErrorEvents      []ErrorEvent           `json:"error_events"`
	FailedAssertions []string               `json:"failed_assertions,omitempty"`
}

type Violation struct {
	Probe     string    `json:"probe"`
	Expected  float64   `json:"expected"`
	Actual    float64   `json:"actual"`
	Timestamp time.Time `json:"timestamp"`
}

type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

// Engine orchestrates chaos experiments
type Engine struct {
	tracer      trace.Tracer
	log         *zap.Logger
	sampleEvery time.Duration

	mu          sync.Mutex
	experiments []Experiment
	results     []Result
}

func NewEngine(log *zap.Logger, sampleEvery time.Duration) *Engine {
	if sampleEvery <= 0 {
		sampleEvery = time.Second
	}
	return &Engine{
		tracer:      otel.Tracer("booknet/chaos"),
		log:         log,
		sampleEvery: sampleEvery,
	}
}

// Register adds an experiment to the suite
func (e *Engine) Register(exp Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exp)
}

// Experiments returns the registered experiments.
func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Experiment(nil), e.experiments...)
}

// Results returns the results of every finished run.
func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Result(nil), e.results...)
}

// Run executes a single experiment: steady state check, method, sampling,
// rollback and assertions.
func (e *Engine) Run(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)),
	)
	defer span.End()

	result := &Result{
		ExperimentName: exp.Name,
		StartTime:      time.Now(),
		Observations:   make(map[string][]DataPoint),
	}

	span.AddEvent("validating_steady_state")
	if valid, violations := e.validateSteadyState(ctx, exp.SteadyState); !valid {
		result.Violations = violations
		span.SetStatus(codes.Error, ErrSteadyStateInvalid.Error())
		return result, ErrSteadyStateInvalid
	}
	result.SteadyStateValid = true

	span.AddEvent("injecting_chaos")
	for _, action := range exp.Method {
		if err := action.Execute(ctx); err != nil {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
				Timestamp: time.Now(),
				Error:     err.Error(),
				Component: action.Target,
			})
			span.RecordError(err)
		}
	}

	span.AddEvent("observing_system")
	e.observe(ctx, exp, result)

	span.AddEvent("rolling_back")
	for _, action := range exp.Rollback {
		if err := action.Execute(ctx); err != nil {
			span.RecordError(err)
			e.log.Warn("rollback action failed", zap.String("experiment", exp.Name), zap.String("target", action.Target), zap.Error(err))
		}
	}

	span.AddEvent("validating_assertions")
	result.FailedAssertions = e.validateAssertions(exp.Validation, result)
	result.HypothesisHeld = len(result.FailedAssertions) == 0 && len(result.ErrorEvents) == 0 && len(result.Violations) == 0
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.results = append(e.results, *result)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	return result, nil
}

// observe samples every probe immediately and then on each tick until
// exp.Duration elapses.
func (e *Engine) observe(ctx context.Context, exp Experiment, result *Result) {
	observationCtx, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()

	ticker := time.NewTicker(e.sampleEvery)
	defer ticker.Stop()

	for {
		e.sample(ctx, exp.SteadyState, result)
		select {
		case <-observationCtx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (e *Engine) sample(ctx context.Context, probes []Probe, result *Result) {
	for _, probe := range probes {
		value, err := probe.Query(ctx)
		if err != nil {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
				Timestamp: time.Now(),
				Error:     err.Error(),
				Component: probe.Name,
			})
			continue
		}

		now := time.Now()
		result.Observations[probe.Name] = append(result.Observations[probe.Name], DataPoint{Timestamp: now, Value: value})
		if !evaluateThreshold(value, probe.Threshold) {
			result.Violations = append(result.Violations, Violation{
				Probe:     probe.Name,
				Expected:  probe.Threshold.Value,
				Actual:    value,
				Timestamp: now,
			})
		}
	}
}

func (e *Engine) validateSteadyState(ctx context.Context, probes []Probe) (bool, []Violation) {
	var violations []Violation
	for _, probe := range probes {
		value, err := probe.Query(ctx)
		if err != nil {
			e.log.Warn("steady state probe failed", zap.String("probe", probe.Name), zap.Error(err))
			value = -1
		}
		if err != nil || !evaluateThreshold(value, probe.Threshold) {
			violations = append(violations, Violation{
				Probe:     probe.Name,
				Expected:  probe.Threshold.Value,
				Actual:    value,
				Timestamp: time.Now(),
			})
		}
	}
	return len(violations) == 0, violations
}

func evaluateThreshold(value float64, threshold Threshold) bool {
	switch threshold.Operator {
	case ">":
		return value > threshold.Value
	case "<":
		return value < threshold.Value
	case ">=":
		return value >= threshold.Value
	case "<=":
		return value <= threshold.Value
	case "==":
		return value == threshold.Value
	default:
		return false
	}
}

func (e *Engine) validateAssertions(assertions []Assertion, result *Result) []string {
	var failed []string
	for _, assertion := range assertions {
		observations := result.Observations[assertion.Probe]
		if len(observations) == 0 || !assertion.Condition(observations[len(observations)-1].Value) {
			failed = append(failed, assertion.Message)
		}
	}
	return failed
}

// GameDay runs every registered experiment in order, pausing between them.
// It fails when any experiment could not run or violated its hypothesis.
func (e *Engine) GameDay(ctx context.Context, name string, pause time.Duration) error {
	ctx, span := e.tracer.Start(ctx, "chaos.game_day",
		trace.WithAttributes(attribute.String("gameday.name", name)),
	)
	defer span.End()

	experiments := e.Experiments()
	e.log.Info("starting game day", zap.String("name", name), zap.Int("experiments", len(experiments)))

	failed := 0
	for i, exp := range experiments {
		log := e.log.With(zap.String("experiment", exp.Name))
		log.Info("running experiment", zap.Int("index", i+1), zap.String("hypothesis", exp.Hypothesis))

		result, err := e.Run(ctx, exp)
		if err != nil {
			failed++
			log.Error("experiment aborted", zap.Any("violations", result.Violations), zap.Error(err))
			continue
		}
		e.report(log, result)
		if !result.HypothesisHeld {
			failed++
		}

		if i < len(experiments)-1 && pause > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pause):
			}
		}
	}

	if failed > 0 {
		span.SetStatus(codes.Error, "hypothesis violated")
		return fmt.Errorf("%d of %d experiments violated their hypothesis", failed, len(experiments))
	}
	return nil
}

func (e *Engine) report(log *zap.Logger, result *Result) {
	fields := []zap.Field{
		zap.Bool("hypothesis_held", result.HypothesisHeld),
		zap.Duration("duration", result.Duration),
		zap.Int("violations", len(result.Violations)),
		zap.Int("error_events", len(result.ErrorEvents)),
	}
	if result.HypothesisHeld {
		log.Info("hypothesis held", fields...)
		return
	}
	for _, ev := range result.ErrorEvents {
		log.Warn("error event", zap.String("component", ev.Component), zap.String("error", ev.Error))
	}
	for _, v := range result.Violations {
		log.Warn("probe violation", zap.String("probe", v.Probe), zap.Float64("expected", v.Expected), zap.Float64("actual", v.Actual))
	}
	log.Error("hypothesis violated", append(fields, zap.Strings("failed_assertions", result.FailedAssertions))...)
}
