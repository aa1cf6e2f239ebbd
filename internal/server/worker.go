package server

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"time"

	"github.com/cwbudde/deconvolve/internal/deconv"
	"github.com/cwbudde/deconvolve/internal/imgio"
	"github.com/cwbudde/deconvolve/internal/op"
	"github.com/cwbudde/deconvolve/internal/optim"
	"github.com/cwbudde/deconvolve/internal/store"
)

// broadcastInterval throttles progress events to clients.
const broadcastInterval = 500 * time.Millisecond

// runJob executes a deconvolution job in the background, driving the
// reverse-communication loop one round-trip at a time so cancellation
// and checkpointing happen between evaluations, never during one.
// A non-nil resumeFrom warm-starts the run from a saved solution.
func runJob(ctx context.Context, jm *JobManager, checkpointStore store.Store, baseDir, jobID string, resumeFrom *store.Checkpoint) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	if err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
	}); err != nil {
		return err
	}

	cfg := job.Config
	slog.Info("Starting job", "job_id", jobID, "data", cfg.DataPath, "psf", cfg.PSFPath)

	drv, data, dshape, err := buildDriver(cfg, resumeFrom)
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	tw, err := store.NewTraceWriter(baseDir, jobID, resumeFrom != nil)
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}
	defer tw.Close()

	task, err := drv.Start()
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	var (
		initialCost   float64
		haveInitial   bool
		lastBroadcast time.Time
		lastSnapshot  time.Time
		interval      = time.Duration(cfg.CheckpointInterval) * time.Second
	)
	if resumeFrom != nil {
		initialCost, haveInitial = resumeFrom.InitialCost, true
	}

	for !task.Terminal() {
		select {
		case <-ctx.Done():
			drv.Stop()
			markJobCancelled(jm, jobID)
			return ctx.Err()
		default:
		}

		task = drv.Iterate()
		if !haveInitial {
			initialCost, haveInitial = drv.Cost(), true
			jm.UpdateJob(jobID, func(j *Job) { j.InitialCost = initialCost })
		}
		if task != optim.TaskNewX && !task.Terminal() {
			continue
		}

		best := drv.BestSolution()
		jm.UpdateJob(jobID, func(j *Job) {
			j.BestCost = drv.BestCost()
			j.GradNorm = drv.GradNorm()
			j.Iterations = drv.Iterations()
			j.Evaluations = drv.Evaluations()
			j.Shape = drv.Shape()
			j.BestSolution = append(j.BestSolution[:0], best.Data()...)
		})

		if err := tw.Write(store.TraceEntry{
			Iteration:   drv.Iterations(),
			Cost:        drv.Cost(),
			GradNorm:    drv.GradNorm(),
			Evaluations: drv.Evaluations(),
			Timestamp:   time.Now(),
		}); err != nil {
			slog.Warn("Failed to write trace entry", "job_id", jobID, "error", err)
		}

		if now := time.Now(); now.Sub(lastBroadcast) >= broadcastInterval || task.Terminal() {
			lastBroadcast = now
			broadcastProgress(jm, jobID)
		}
		if checkpointStore != nil && interval > 0 && time.Since(lastSnapshot) >= interval {
			lastSnapshot = time.Now()
			if err := saveCheckpoint(jm, checkpointStore, baseDir, jobID, data, dshape); err != nil {
				slog.Error("Failed to save checkpoint", "job_id", jobID, "error", err)
			}
		}
	}

	if err := tw.Flush(); err != nil {
		slog.Warn("Failed to flush trace", "job_id", jobID, "error", err)
	}

	switch task {
	case optim.TaskError:
		err := drv.Err()
		if err == nil {
			err = fmt.Errorf("optimizer error")
		}
		markJobFailed(jm, jobID, err)
		return err
	case optim.TaskWarning:
		slog.Warn("Job finished with warning, best solution kept",
			"job_id", jobID, "reason", drv.Err())
	}

	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.EndTime = &endTime
	})

	if checkpointStore != nil {
		if err := saveCheckpoint(jm, checkpointStore, baseDir, jobID, data, dshape); err != nil {
			slog.Error("Failed to save final checkpoint", "job_id", jobID, "error", err)
		}
	}

	slog.Info("Job completed",
		"job_id", jobID,
		"iterations", drv.Iterations(),
		"evaluations", drv.Evaluations(),
		"initial_cost", initialCost,
		"best_cost", drv.BestCost(),
		"grad_norm", drv.GradNorm(),
		"elapsed", drv.ElapsedTime(),
		"fidelity_time", drv.FidelityTime(),
	)

	broadcastProgress(jm, jobID)
	return nil
}

// ResumeJob reloads a checkpointed job and runs it to completion in the
// foreground, warm-started from the saved best solution.
func ResumeJob(ctx context.Context, checkpointStore store.Store, baseDir, jobID string) error {
	cp, err := checkpointStore.LoadCheckpoint(jobID)
	if err != nil {
		return err
	}
	if err := cp.Validate(); err != nil {
		return fmt.Errorf("invalid checkpoint %s: %w", jobID, err)
	}
	jm := NewJobManager()
	jm.CreateJobWithID(jobID, cp.Config)
	slog.Info("Resuming job", "job_id", jobID, "iteration", cp.Iteration, "best_cost", cp.BestCost)
	return runJob(ctx, jm, checkpointStore, baseDir, jobID, cp)
}

// buildDriver loads the data and PSF images and configures a driver
// from the job config. It returns the driver together with the data
// buffer and shape, needed later for residual rendering.
func buildDriver(cfg JobConfig, resumeFrom *store.Checkpoint) (*deconv.Deconvolver[float64], []float64, []int, error) {
	data, h, w, err := imgio.LoadGray(cfg.DataPath)
	if err != nil {
		return nil, nil, nil, err
	}
	psf, kh, kw, err := imgio.LoadGray(cfg.PSFPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := imgio.Normalize(psf); err != nil {
		return nil, nil, nil, fmt.Errorf("psf: %w", err)
	}

	drv := deconv.NewDeconvolver[float64]()
	if err := drv.SetData(data, h, w); err != nil {
		return nil, nil, nil, err
	}
	if err := drv.SetPSF(psf, kh, kw); err != nil {
		return nil, nil, nil, err
	}
	if err := drv.SetPadding(cfg.Padding); err != nil {
		return nil, nil, nil, err
	}
	if err := drv.SetRegularizationLevel(cfg.Mu); err != nil {
		return nil, nil, nil, err
	}
	if cfg.Epsilon > 0 {
		if err := drv.SetEdgeThreshold(cfg.Epsilon); err != nil {
			return nil, nil, nil, err
		}
	}
	if cfg.Lower != nil {
		if err := drv.SetLowerBound(*cfg.Lower); err != nil {
			return nil, nil, nil, err
		}
	}
	if cfg.Upper != nil {
		if err := drv.SetUpperBound(*cfg.Upper); err != nil {
			return nil, nil, nil, err
		}
	}
	if err := drv.SetAbsoluteTolerance(cfg.Gatol); err != nil {
		return nil, nil, nil, err
	}
	if cfg.Grtol > 0 {
		if err := drv.SetRelativeTolerance(cfg.Grtol); err != nil {
			return nil, nil, nil, err
		}
	}
	drv.SetMaximumIterations(cfg.MaxIters)
	drv.SetMaximumEvaluations(cfg.MaxEvals)
	if err := drv.SetMemory(cfg.Memory); err != nil {
		return nil, nil, nil, err
	}

	dshape := []int{h, w}
	x, err := initialSolution(data, dshape, cfg.Padding, resumeFrom)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := drv.SetInitialSolution(x); err != nil {
		return nil, nil, nil, err
	}
	return drv, data, dshape, nil
}

// initialSolution builds the padded starting image: the checkpointed
// best solution when resuming, otherwise the data embedded at the
// center of the padded array.
func initialSolution(data []float64, dshape []int, padding int, resumeFrom *store.Checkpoint) ([]float64, error) {
	vshape := make([]int, len(dshape))
	n := 1
	for a, s := range dshape {
		vshape[a] = s + padding
		n *= vshape[a]
	}
	if resumeFrom != nil {
		if len(resumeFrom.BestSolution) != n {
			return nil, fmt.Errorf("checkpoint solution length %d does not match shape %v", len(resumeFrom.BestSolution), vshape)
		}
		return append([]float64(nil), resumeFrom.BestSolution...), nil
	}
	x := make([]float64, n)
	offset := make([]int, len(dshape))
	for a := range offset {
		offset[a] = (vshape[a] - dshape[a]) / 2
	}
	if err := op.InjectRegion(x, vshape, data, dshape, offset); err != nil {
		return nil, err
	}
	// Non-finite samples were mapped to zero weight; starting from a
	// finite image keeps the first evaluation clean.
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			x[i] = 0
		}
	}
	return x, nil
}

func broadcastProgress(jm *JobManager, jobID string) {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return
	}
	jm.broadcaster.Broadcast(ProgressEvent{
		JobID:       jobID,
		State:       job.State,
		Iterations:  job.Iterations,
		Evaluations: job.Evaluations,
		BestCost:    job.BestCost,
		GradNorm:    job.GradNorm,
		Timestamp:   time.Now(),
	})
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
}

// saveCheckpoint persists the current best solution and its artifacts.
func saveCheckpoint(jm *JobManager, checkpointStore store.Store, baseDir, jobID string, data []float64, dshape []int) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}
	sol, shape, ok := jm.Snapshot(jobID)
	if !ok {
		slog.Debug("Skipping checkpoint, no solution yet", "job_id", jobID)
		return nil
	}

	checkpoint := store.NewCheckpoint(
		jobID,
		sol,
		shape,
		job.BestCost,
		job.InitialCost,
		job.Iterations,
		job.Config,
	)
	if err := checkpointStore.SaveCheckpoint(jobID, checkpoint); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	slog.Info("Checkpoint saved",
		"job_id", jobID,
		"iteration", job.Iterations,
		"best_cost", job.BestCost,
	)

	if err := saveCheckpointArtifacts(baseDir, jobID, sol, shape, data, dshape); err != nil {
		// Metadata matters most; artifacts are best-effort.
		slog.Warn("Failed to save checkpoint artifacts", "job_id", jobID, "error", err)
	}
	return nil
}

// saveCheckpointArtifacts writes best.png and residual.png next to the
// checkpoint.
func saveCheckpointArtifacts(baseDir, jobID string, sol []float64, shape []int, data []float64, dshape []int) error {
	if len(dshape) != 2 {
		return fmt.Errorf("artifacts need a 2-D solution, got shape %v", dshape)
	}
	jobDir := filepath.Join(baseDir, "jobs", jobID)

	region, err := extractDataRegion(sol, shape, dshape)
	if err != nil {
		return err
	}
	if err := imgio.SaveGray(filepath.Join(jobDir, "best.png"), region, dshape[0], dshape[1]); err != nil {
		return err
	}

	res, err := residualImage(region, data)
	if err != nil {
		return err
	}
	return imgio.SaveGray(filepath.Join(jobDir, "residual.png"), res, dshape[0], dshape[1])
}
