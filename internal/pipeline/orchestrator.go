// Package pipeline runs generation runs through their lifecycle:
//
//	queued → processing → rendering → completed | failed
//
// The Orchestrator drives one run through the processing phase and is the
// only component that writes run state. Failures are classified in one place:
// retriable failures within the retry budget send the run back to queued;
// everything else fails it. The Dispatcher submits runs to a bounded worker
// pool, and the Scheduler re-submits queued runs and fails stale ones.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/recast/internal/model"
	"github.com/ashita-ai/recast/internal/storage"
	"github.com/ashita-ai/recast/internal/telemetry"
)

// Status messages recorded while a run is processing.
const (
	MsgCheckingRequest   = "Checking request"
	MsgRetrievingContext = "Retrieving context"
	MsgPlanning          = "Planning content"
	MsgReviewingPlan     = "Reviewing plan"
	MsgWritingScript     = "Writing script"
	MsgReviewingScript   = "Reviewing script"
	MsgReadyForRendering = "Script ready for rendering"
	MsgRetrying          = "Waiting to retry after a temporary problem"
	MsgFailed            = "Failed"
)

// RunStore persists run state. Implemented by *storage.DB.
type RunStore interface {
	GetRun(ctx context.Context, id uuid.UUID) (model.GenerationRun, error)
	ClaimRun(ctx context.Context, id uuid.UUID, message string) (model.GenerationRun, error)
	UpdateRun(ctx context.Context, id uuid.UUID, u model.RunUpdate) error
	RequeueForRetry(ctx context.Context, id uuid.UUID, maxRetries int, message string) (int, error)
	CompleteRendering(ctx context.Context, id uuid.UUID) (model.GenerationRun, error)
	FailRendering(ctx context.Context, id uuid.UUID, message string) (model.GenerationRun, error)
	ListRuns(ctx context.Context, f model.RunFilter) ([]model.GenerationRun, error)
}

// Retriever selects context for a run.
type Retriever interface {
	Retrieve(ctx context.Context, profile model.RequesterProfile, format model.Format, cust model.Customization, topK int) (model.RetrievedContext, error)
}

// Guard enforces content policy.
type Guard interface {
	ValidateInstruction(ctx context.Context, instruction string) error
	ValidatePlan(ctx context.Context, plan model.TakeawayPlan) error
	ValidateScript(ctx context.Context, script model.Script) error
}

// Planner produces a takeaway plan.
type Planner interface {
	Plan(ctx context.Context, rc model.RetrievedContext, profile model.RequesterProfile, format model.Format, cust model.Customization) (model.TakeawayPlan, error)
}

// Scripter produces a script from a plan.
type Scripter interface {
	Script(ctx context.Context, plan model.TakeawayPlan, format model.Format, presenterName string, cust model.Customization) (model.Script, error)
}

// Notifier receives run events at the rendering hand-off and on failure.
type Notifier interface {
	Notify(ctx context.Context, ev model.RunEvent) error
}

// Deps are the Orchestrator's collaborators.
type Deps struct {
	Store     RunStore
	Retriever Retriever
	Guard     Guard
	Planner   Planner
	Scripter  Scripter
	Notifier  Notifier // optional
	Logger    *slog.Logger
}

// Settings tune the Orchestrator.
type Settings struct {
	TopK       int
	MaxRetries int
}

// failureWriteTimeout bounds the writes made after a phase failed, which run
// even if the caller's context is already done.
const failureWriteTimeout = 10 * time.Second

var tracer = otel.Tracer("recast/pipeline")

// Orchestrator processes a single run at a time per call. It is safe for
// concurrent use on different runs.
type Orchestrator struct {
	store     RunStore
	retriever Retriever
	guard     Guard
	planner   Planner
	scripter  Scripter
	notifier  Notifier
	logger    *slog.Logger
	settings  Settings

	outcomes      metric.Int64Counter
	phaseDuration metric.Float64Histogram
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(d Deps, s Settings) *Orchestrator {
	meter := telemetry.Meter("recast/pipeline")
	outcomes, _ := meter.Int64Counter("recast.runs.outcomes",
		metric.WithDescription("Processing outcomes by result (rendering, retry, failed)"),
	)
	phaseDur, _ := meter.Float64Histogram("recast.pipeline.phase.duration",
		metric.WithDescription("Time spent in each processing phase (ms)"),
		metric.WithUnit("ms"),
	)
	notifier := d.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Orchestrator{
		store:         d.Store,
		retriever:     d.Retriever,
		guard:         d.Guard,
		planner:       d.Planner,
		scripter:      d.Scripter,
		notifier:      notifier,
		logger:        d.Logger,
		settings:      s,
		outcomes:      outcomes,
		phaseDuration: phaseDur,
	}
}

// Process claims a queued run and takes it to rendering. On a retriable
// failure within budget it returns *RetryScheduledError with the run back in
// queued; on any other failure the run is failed and the original error is
// returned. A run that is not queued is left untouched and
// storage.ErrInvalidTransition is returned.
func (o *Orchestrator) Process(ctx context.Context, runID uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "pipeline.process",
		trace.WithAttributes(attribute.String("recast.run_id", runID.String())),
	)
	defer span.End()

	run, err := o.store.ClaimRun(ctx, runID, MsgCheckingRequest)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("pipeline: claim run: %w", err)
	}
	span.SetAttributes(
		attribute.String("recast.format", string(run.Format)),
		attribute.Int("recast.retry_count", run.RetryCount),
	)
	logger := o.logger.With("run_id", runID, "format", run.Format, "retry_count", run.RetryCount)
	logger.Info("pipeline: run claimed")

	phase, err := o.execute(ctx, run)
	if err == nil {
		o.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "rendering")))
		logger.Info("pipeline: run ready for rendering")
		o.notify(ctx, logger, run, model.RunStatusRendering, MsgReadyForRendering)
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, phase)
	return o.handleFailure(ctx, logger, run, phase, err)
}

// execute runs the processing phases in order and returns the phase that
// failed, if any.
func (o *Orchestrator) execute(ctx context.Context, run model.GenerationRun) (string, error) {
	cust := run.Customization

	if err := o.timed(ctx, "instruction", func() error {
		return o.guard.ValidateInstruction(ctx, cust.ExtraInstruction)
	}); err != nil {
		return "instruction", err
	}

	if err := o.setMessage(ctx, run.ID, MsgRetrievingContext); err != nil {
		return "retrieval", err
	}
	var rc model.RetrievedContext
	if err := o.timed(ctx, "retrieval", func() error {
		var err error
		rc, err = o.retriever.Retrieve(ctx, run.Profile, run.Format, cust, o.settings.TopK)
		return err
	}); err != nil {
		return "retrieval", err
	}
	if err := o.store.UpdateRun(ctx, run.ID, model.RunUpdate{
		Query:         &rc.Query,
		ChunkIDs:      rc.ChunkIDs(),
		StatusMessage: ptr(MsgPlanning),
	}); err != nil {
		return "retrieval", err
	}

	var plan model.TakeawayPlan
	if err := o.timed(ctx, "plan", func() error {
		var err error
		plan, err = o.planner.Plan(ctx, rc, run.Profile, run.Format, cust)
		return err
	}); err != nil {
		return "plan", err
	}
	if err := o.setMessage(ctx, run.ID, MsgReviewingPlan); err != nil {
		return "plan", err
	}
	if err := o.timed(ctx, "plan_review", func() error {
		return o.guard.ValidatePlan(ctx, plan)
	}); err != nil {
		return "plan_review", err
	}
	if err := o.store.UpdateRun(ctx, run.ID, model.RunUpdate{
		Plan:          &plan,
		StatusMessage: ptr(MsgWritingScript),
	}); err != nil {
		return "plan", err
	}

	var script model.Script
	if err := o.timed(ctx, "script", func() error {
		var err error
		script, err = o.scripter.Script(ctx, plan, run.Format, run.PresenterName, cust)
		return err
	}); err != nil {
		return "script", err
	}
	if err := o.setMessage(ctx, run.ID, MsgReviewingScript); err != nil {
		return "script", err
	}
	if err := o.timed(ctx, "script_review", func() error {
		return o.guard.ValidateScript(ctx, script)
	}); err != nil {
		return "script_review", err
	}

	// Script and status are written together so a rendering run always has
	// a reviewed script.
	rendering := model.RunStatusRendering
	if err := o.store.UpdateRun(ctx, run.ID, model.RunUpdate{
		Status:        &rendering,
		StatusMessage: ptr(MsgReadyForRendering),
		Script:        &script,
	}); err != nil {
		return "handoff", err
	}
	return "", nil
}

// handleFailure applies the retry policy to a processing failure.
func (o *Orchestrator) handleFailure(ctx context.Context, logger *slog.Logger, run model.GenerationRun, phase string, cause error) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	logger = logger.With("phase", phase)

	if errors.Is(cause, storage.ErrInvalidTransition) {
		// Another actor moved the run out of processing, usually the stale-run
		// sweep. Its outcome stands.
		o.outcomes.Add(wctx, 1, metric.WithAttributes(attribute.String("result", "lost")))
		logger.Warn("pipeline: run left processing underneath the worker", "error", cause)
		return cause
	}

	if IsRetriable(cause) {
		count, err := o.store.RequeueForRetry(wctx, run.ID, o.settings.MaxRetries, MsgRetrying)
		switch {
		case err == nil:
			o.outcomes.Add(wctx, 1, metric.WithAttributes(attribute.String("result", "retry")))
			logger.Warn("pipeline: retriable failure, run requeued", "retry_count", count, "error", cause)
			return &RetryScheduledError{RunID: run.ID, RetryCount: count, Err: cause}
		case errors.Is(err, storage.ErrRetryBudgetExhausted):
			logger.Warn("pipeline: retry budget exhausted", "max_retries", o.settings.MaxRetries)
		default:
			logger.Error("pipeline: requeue failed", "error", err, "cause", cause)
			return errors.Join(cause, err)
		}
	}

	message := UserMessage(cause)
	failed := model.RunStatusFailed
	now := time.Now().UTC()
	if err := o.store.UpdateRun(wctx, run.ID, model.RunUpdate{
		Status:        &failed,
		StatusMessage: ptr(MsgFailed),
		ErrorMessage:  &message,
		CompletedAt:   &now,
	}); err != nil {
		logger.Error("pipeline: mark run failed", "error", err, "cause", cause)
		return errors.Join(cause, err)
	}

	o.outcomes.Add(wctx, 1, metric.WithAttributes(
		attribute.String("result", "failed"),
		attribute.String("phase", phase),
	))
	logger.Error("pipeline: run failed", "error", cause, "message", message)
	o.notify(wctx, logger, run, model.RunStatusFailed, message)
	return cause
}

// CompleteRendering records a successful render. It succeeds once per run.
func (o *Orchestrator) CompleteRendering(ctx context.Context, runID uuid.UUID) (model.GenerationRun, error) {
	run, err := o.store.CompleteRendering(ctx, runID)
	if err != nil {
		return model.GenerationRun{}, fmt.Errorf("pipeline: complete rendering: %w", err)
	}
	o.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "completed")))
	o.logger.Info("pipeline: rendering completed", "run_id", runID)
	return run, nil
}

// FailRendering records a failed render with the collaborator's message,
// truncated to model.MaxFailureMessageLen characters.
func (o *Orchestrator) FailRendering(ctx context.Context, runID uuid.UUID, message string) (model.GenerationRun, error) {
	if r := []rune(message); len(r) > model.MaxFailureMessageLen {
		message = string(r[:model.MaxFailureMessageLen])
	}
	if message == "" {
		message = "Rendering failed"
	}
	run, err := o.store.FailRendering(ctx, runID, message)
	if err != nil {
		return model.GenerationRun{}, fmt.Errorf("pipeline: fail rendering: %w", err)
	}
	o.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "render_failed")))
	o.logger.Warn("pipeline: rendering failed", "run_id", runID, "message", message)
	o.notify(ctx, o.logger.With("run_id", runID), run, model.RunStatusFailed, message)
	return run, nil
}

func (o *Orchestrator) setMessage(ctx context.Context, id uuid.UUID, msg string) error {
	return o.store.UpdateRun(ctx, id, model.RunUpdate{StatusMessage: &msg})
}

func (o *Orchestrator) timed(ctx context.Context, phase string, fn func() error) error {
	start := time.Now()
	err := fn()
	o.phaseDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.String("phase", phase), attribute.Bool("ok", err == nil)))
	return err
}

// notify publishes a run event. Delivery failures are logged; the persisted
// status remains the source of truth.
func (o *Orchestrator) notify(ctx context.Context, logger *slog.Logger, run model.GenerationRun, status model.RunStatus, message string) {
	ev := model.RunEvent{
		RunID:       run.ID,
		RequesterID: run.RequesterID,
		Format:      run.Format,
		Status:      status,
		Message:     message,
		OccurredAt:  time.Now().UTC(),
	}
	if err := o.notifier.Notify(ctx, ev); err != nil {
		logger.Warn("pipeline: notify failed", "status", status, "error", err)
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, model.RunEvent) error { return nil }

func ptr[T any](v T) *T { return &v }
