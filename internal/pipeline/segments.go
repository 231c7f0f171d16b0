package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rahulnair/veriscope/internal/cache"
	"github.com/rahulnair/veriscope/internal/provider"
	"github.com/rahulnair/veriscope/pkg/models"
)

const checkpointTTL = 6 * time.Hour

// analyzeSegments fans the analyze operation out over the ingest manifest's
// segments, bounded by the stage's fan-out (overridable per job). Completed
// segments are checkpointed in the cache, so a retried attempt or a resumed
// job only pays for the segments that have not finished. Aggregation is
// keyed by segment index: completion order never changes the output.
func (e *Executor) analyzeSegments(ctx context.Context, job *models.Job, def models.StageDefinition, p provider.Provider, manifest *provider.IngestManifest) (*AnalysisPayload, error) {
	fanOut := def.SegmentFanOut
	if override, ok := job.Options.StageOverrides[def.Name]; ok && override > 0 {
		fanOut = override
	}
	if fanOut <= 0 {
		fanOut = 1
	}

	key := cache.StageCheckpointKey(job.ID, def.Name)
	done := e.loadCheckpoint(ctx, key)

	var mu sync.Mutex
	completed := len(done)
	total := len(manifest.Segments)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOut)
	for _, seg := range manifest.Segments {
		if _, ok := done[seg.Index]; ok {
			continue
		}
		g.Go(func() error {
			analysis, err := p.Analyze(gctx, manifest.VideoReference, seg)
			if err != nil {
				return err
			}

			mu.Lock()
			done[seg.Index] = *analysis
			completed++
			frac := float64(completed) / float64(total)
			e.saveCheckpoint(gctx, key, done)
			mu.Unlock()

			e.progress.Report(gctx, job.ID,
				OverallPercent(job.CurrentStage, len(e.cfg.Stages), frac),
				fmt.Sprintf("analyzing segments (%d/%d)", completed, total))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Checkpointed segments survive; the retry resumes from them.
		return nil, err
	}

	payload := aggregateAnalyses(done)
	if err := e.cache.Delete(ctx, key); err != nil {
		slog.Warn("checkpoint cleanup failed", "job_id", job.ID, "stage", def.Name, "error", err)
	}
	return payload, nil
}

func (e *Executor) loadCheckpoint(ctx context.Context, key string) map[int]models.SegmentAnalysis {
	done := make(map[int]models.SegmentAnalysis)
	raw, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("checkpoint load failed", "key", key, "error", err)
		return done
	}
	if !ok {
		return done
	}
	if err := json.Unmarshal(raw, &done); err != nil {
		slog.Warn("checkpoint unreadable, starting fresh", "key", key, "error", err)
		return make(map[int]models.SegmentAnalysis)
	}
	return done
}

func (e *Executor) saveCheckpoint(ctx context.Context, key string, done map[int]models.SegmentAnalysis) {
	raw, err := json.Marshal(done)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, key, raw, checkpointTTL); err != nil {
		slog.Warn("checkpoint save failed", "key", key, "error", err)
	}
}

// aggregateAnalyses orders the per-segment results by segment index and
// derives stable claim ids from segment index and position within it.
func aggregateAnalyses(done map[int]models.SegmentAnalysis) *AnalysisPayload {
	indexes := make([]int, 0, len(done))
	for idx := range done {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	payload := &AnalysisPayload{
		Segments: make([]models.SegmentAnalysis, 0, len(indexes)),
	}
	for _, idx := range indexes {
		analysis := done[idx]
		payload.Segments = append(payload.Segments, analysis)
		for i, text := range analysis.Claims {
			payload.Claims = append(payload.Claims, models.Claim{
				ID:      fmt.Sprintf("s%02d-c%02d", idx, i),
				Text:    text,
				Segment: idx,
			})
		}
	}
	return payload
}
