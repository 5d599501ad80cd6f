package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lehigh-university-libraries/instructgen/internal/models"
	"github.com/lehigh-university-libraries/instructgen/internal/session"
)

var (
	ErrNoOriginal         = session.ErrNoOriginal
	ErrNoEditions         = session.ErrNoEditions
	ErrAnalysisInProgress = session.ErrAnalysisInProgress

	// ErrAnalysisFailed wraps the fatal error that moved a run to Error.
	ErrAnalysisFailed = errors.New("analysis failed")

	// ErrSuperseded means the session changed under the run and its results were dropped.
	ErrSuperseded = errors.New("analysis superseded by a session change")
)

// Gateway is the model access the orchestrator needs. GenerateDiffInstructions
// never fails; it returns fallback text instead.
type Gateway interface {
	GenerateCaption(ctx context.Context, original models.UploadedImage) (string, error)
	GenerateDiffInstructions(ctx context.Context, original, edition models.UploadedImage, position int) string
}

// Result is what a completed run produced
type Result struct {
	Description  string
	Instructions map[string]string
	Duration     time.Duration
}

// Orchestrator runs the two analysis phases against a session: a captioning
// call for the original, then one concurrent diff-instruction call per edition.
type Orchestrator struct {
	gateway Gateway
	wg      sync.WaitGroup
}

func New(gateway Gateway) *Orchestrator {
	return &Orchestrator{gateway: gateway}
}

// Run analyzes sess and blocks until the run has settled. Precondition errors
// leave the session untouched.
func (o *Orchestrator) Run(ctx context.Context, sess *session.Session) (*Result, error) {
	run, err := sess.BeginAnalysis()
	if err != nil {
		return nil, err
	}
	return o.execute(ctx, sess, run)
}

// Start analyzes sess in the background. The session is Analyzing when Start
// returns without error; the returned channel closes when the run settles.
func (o *Orchestrator) Start(ctx context.Context, sess *session.Session) (<-chan struct{}, error) {
	run, err := sess.BeginAnalysis()
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(done)
		if _, err := o.execute(ctx, sess, run); err != nil {
			slog.Debug("Background analysis ended with error", "session_id", run.SessionID, "error", err)
		}
	}()
	return done, nil
}

// Wait blocks until every run started with Start has settled.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) execute(ctx context.Context, sess *session.Session, run *session.Run) (*Result, error) {
	start := time.Now()
	slog.Info("Starting analysis", "session_id", run.SessionID, "editions", len(run.Editions))

	// Phase 1 must settle before any edition call is made.
	description, err := o.gateway.GenerateCaption(ctx, run.Original)
	if err != nil {
		slog.Error("Analysis failed", "session_id", run.SessionID, "error", err)
		if !sess.FailAnalysis(run) {
			return nil, ErrSuperseded
		}
		return nil, fmt.Errorf("%w: %w", ErrAnalysisFailed, err)
	}
	slog.Info("Original image described", "session_id", run.SessionID, "length", len(description))

	instructions := o.describeEditions(ctx, run)

	if !sess.CompleteAnalysis(run, description, instructions) {
		slog.Info("Discarding superseded analysis", "session_id", run.SessionID)
		return nil, ErrSuperseded
	}

	result := &Result{
		Description:  description,
		Instructions: instructions,
		Duration:     time.Since(start),
	}
	slog.Info("Analysis complete", "session_id", run.SessionID, "editions", len(instructions), "duration", result.Duration)
	return result, nil
}

// describeEditions issues every diff-instruction call at once and joins them.
// Results are keyed by edition id, never by completion order.
func (o *Orchestrator) describeEditions(ctx context.Context, run *session.Run) map[string]string {
	texts := make([]string, len(run.Editions))

	var eg errgroup.Group
	for i, edition := range run.Editions {
		eg.Go(func() error {
			texts[i] = o.gateway.GenerateDiffInstructions(ctx, run.Original, edition, i+1)
			return nil
		})
	}
	_ = eg.Wait()

	instructions := make(map[string]string, len(run.Editions))
	for i, edition := range run.Editions {
		instructions[edition.ID] = texts[i]
	}
	return instructions
}
