package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rahulnair/veriscope/internal/provider"
	"github.com/rahulnair/veriscope/pkg/models"
)

// runStage executes one stage to a terminal outcome: walk the fallback
// chain in order, give each available provider MaxRetries+1 attempts with
// exponential backoff, and advance past providers that are unavailable or
// decline the operation without charging their attempts. The returned error
// is non-nil only when the job context was cancelled; every provider-level
// failure is folded into the result outcome.
func (e *Executor) runStage(ctx context.Context, job *models.Job, def models.StageDefinition) (models.StageResult, error) {
	res := models.StageResult{Stage: def.Name}

	chain, err := e.registry.Chain(def.FallbackChain)
	if err != nil {
		// Chains are validated at startup; an unknown name here means the
		// stage table changed underneath a running job.
		res.Outcome = models.StageOutcomeFailed
		return res, fmt.Errorf("resolve fallback chain: %w", err)
	}

	var lastErr error
	for _, p := range chain {
		if err := e.registry.Available(ctx, p.Name()); err != nil {
			slog.Info("provider unavailable, trying next",
				"job_id", job.ID, "stage", def.Name, "provider", p.Name(), "error", err)
			lastErr = err
			continue
		}

		payload, attempts, err := e.attemptProvider(ctx, job, def, p)
		res.Attempts += attempts
		if err == nil {
			res.Outcome = models.StageOutcomeSucceeded
			res.Provider = p.Name()
			res.Payload = payload
			res.RecordedAt = time.Now().UTC()
			return res, nil
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if provider.SkipsChain(err) {
			// The provider declined or went away mid-stage; its attempts do
			// not count against the stage.
			res.Attempts -= attempts
			e.registry.InvalidateProbe(p.Name())
		}
		lastErr = err
		slog.Warn("provider exhausted for stage",
			"job_id", job.ID, "stage", def.Name, "provider", p.Name(),
			"attempts", attempts, "error", err)
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no provider in chain %v: %w", def.FallbackChain, provider.ErrUnavailable)
	}
	if def.Optional {
		res.Outcome = models.StageOutcomeSkipped
		res.RecordedAt = time.Now().UTC()
		slog.Info("optional stage skipped",
			"job_id", job.ID, "stage", def.Name, "error", lastErr)
		return res, nil
	}
	res.Outcome = models.StageOutcomeFailed
	res.RecordedAt = time.Now().UTC()
	return res, &stageFailure{stage: def.Name, err: lastErr}
}

// stageFailure marks a stage that exhausted its chain. The executor turns it
// into the job's user-visible error; cancellation errors pass through as-is.
type stageFailure struct {
	stage string
	err   error
}

func (f *stageFailure) Error() string {
	return fmt.Sprintf("stage %s failed: %v", f.stage, f.err)
}

func (f *stageFailure) Unwrap() error { return f.err }

// attemptProvider runs the stage operation against one provider, retrying
// retryable failures up to MaxRetries times. Returns the payload, the number
// of attempts consumed, and the final error.
func (e *Executor) attemptProvider(ctx context.Context, job *models.Job, def models.StageDefinition, p provider.Provider) (json.RawMessage, int, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.RetryBaseDelay
	bo.MaxInterval = e.cfg.RetryMaxDelay
	bo.MaxElapsedTime = 0
	bo.Reset()

	attempts := 0
	var lastErr error
	for try := 0; try <= def.MaxRetries; try++ {
		if ctx.Err() != nil {
			return nil, attempts, ctx.Err()
		}
		attempts++

		payload, err := e.invokeStage(ctx, job, def, p)
		if err == nil {
			return payload, attempts, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, attempts, ctx.Err()
		}
		if provider.SkipsChain(err) || !retryable(err) {
			return nil, attempts, err
		}
		if try == def.MaxRetries {
			break
		}

		wait := bo.NextBackOff()
		slog.Info("retrying stage attempt",
			"job_id", job.ID, "stage", def.Name, "provider", p.Name(),
			"attempt", attempts, "backoff", wait, "error", err)
		select {
		case <-ctx.Done():
			return nil, attempts, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, attempts, lastErr
}

// retryable reports whether a failure is worth another attempt against the
// same provider. A per-call deadline counts: slow is retryable, broken is
// not.
func retryable(err error) bool {
	return errors.Is(err, provider.ErrTransient) ||
		errors.Is(err, provider.ErrRateLimited) ||
		errors.Is(err, provider.ErrInvalidResponse) ||
		errors.Is(err, context.DeadlineExceeded)
}

// invokeStage dispatches one attempt of the stage operation, bounded by the
// stage timeout. Inputs come off the job record's earlier stage results, so
// a resumed job picks up exactly where the previous process stopped.
func (e *Executor) invokeStage(ctx context.Context, job *models.Job, def models.StageDefinition, p provider.Provider) (json.RawMessage, error) {
	callCtx, cancel := context.WithTimeout(ctx, def.Timeout)
	defer cancel()

	switch def.Name {
	case models.StageIngest:
		return e.invokeIngest(callCtx, job, p)
	case models.StageAnalyze:
		return e.invokeAnalyze(callCtx, job, def, p)
	case models.StageSearch:
		return e.invokeSearch(callCtx, job, p)
	case models.StageVerify:
		return e.invokeVerify(callCtx, job, def, p)
	case models.StageSynthesize:
		return e.invokeSynthesize(callCtx, job, p)
	default:
		return nil, fmt.Errorf("unknown stage %q", def.Name)
	}
}

func (e *Executor) invokeIngest(ctx context.Context, job *models.Job, p provider.Provider) (json.RawMessage, error) {
	maxSecs := e.cfg.DefaultMaxVideoSecs
	if job.Options.MaxVideoDurationSecs > 0 && job.Options.MaxVideoDurationSecs < maxSecs {
		maxSecs = job.Options.MaxVideoDurationSecs
	}
	manifest, err := p.Ingest(ctx, provider.IngestRequest{
		VideoReference:  job.VideoReference,
		MaxDurationSecs: maxSecs,
		SegmentSecs:     e.cfg.SegmentSeconds,
	})
	if err != nil {
		return nil, err
	}
	if len(manifest.Segments) == 0 {
		return nil, fmt.Errorf("ingest produced no segments: %w", provider.ErrInvalidResponse)
	}
	return marshalPayload(manifest)
}

func (e *Executor) invokeAnalyze(ctx context.Context, job *models.Job, def models.StageDefinition, p provider.Provider) (json.RawMessage, error) {
	manifest, err := manifestFrom(job)
	if err != nil {
		return nil, err
	}
	payload, err := e.analyzeSegments(ctx, job, def, p, manifest)
	if err != nil {
		return nil, err
	}
	return marshalPayload(payload)
}

func (e *Executor) invokeSearch(ctx context.Context, job *models.Job, p provider.Provider) (json.RawMessage, error) {
	analysis, err := analysisFrom(job)
	if err != nil {
		return nil, err
	}
	evidence := make(map[string]models.EvidenceResult, len(analysis.Claims))
	for i, claim := range analysis.Claims {
		result, err := p.Search(ctx, models.EvidenceQuery{
			Claim:   claim.Text,
			Context: transcriptFor(analysis, claim.Segment),
		})
		if err != nil {
			return nil, err
		}
		evidence[claim.ID] = *result
		e.progress.Report(ctx, job.ID,
			OverallPercent(job.CurrentStage, len(e.cfg.Stages), float64(i+1)/float64(len(analysis.Claims))),
			fmt.Sprintf("gathering evidence (%d/%d claims)", i+1, len(analysis.Claims)))
	}
	return marshalPayload(&SearchPayload{Evidence: evidence})
}

func (e *Executor) invokeVerify(ctx context.Context, job *models.Job, def models.StageDefinition, p provider.Provider) (json.RawMessage, error) {
	analysis, err := analysisFrom(job)
	if err != nil {
		return nil, err
	}
	evidence := evidenceFrom(job)

	verdicts := make([]models.ClaimVerdict, 0, len(analysis.Claims))
	for i, claim := range analysis.Claims {
		verdict, err := p.Verify(ctx, models.VerifyRequest{
			Claim:    claim,
			Evidence: evidence[claim.ID].Sources,
		})
		if err != nil {
			return nil, err
		}
		verdicts = append(verdicts, *verdict)
		e.progress.Report(ctx, job.ID,
			OverallPercent(job.CurrentStage, len(e.cfg.Stages), float64(i+1)/float64(len(analysis.Claims))),
			fmt.Sprintf("verifying claims (%d/%d)", i+1, len(analysis.Claims)))
	}
	return marshalPayload(&VerifyPayload{Verdicts: verdicts})
}

func (e *Executor) invokeSynthesize(ctx context.Context, job *models.Job, p provider.Provider) (json.RawMessage, error) {
	verdicts, err := verdictsFrom(job)
	if err != nil {
		return nil, err
	}
	summary, err := p.Summarize(ctx, verdicts)
	if err != nil {
		return nil, err
	}
	if summary == "" {
		return nil, fmt.Errorf("empty summary: %w", provider.ErrInvalidResponse)
	}
	return marshalPayload(&SynthesisPayload{Summary: summary})
}

func transcriptFor(analysis *AnalysisPayload, segmentIdx int) string {
	for _, seg := range analysis.Segments {
		if seg.Index == segmentIdx {
			return seg.Transcript
		}
	}
	return ""
}
