package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cwbudde/deconvolve/internal/store"
)

func TestRunJob_Success(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping deconvolution run in short mode")
	}

	tmpDir := t.TempDir()
	dataPath, psfPath := createTestImages(t, tmpDir)

	jm := NewJobManager()
	config := JobConfig{
		DataPath: dataPath,
		PSFPath:  psfPath,
		Mu:       0.001,
		Epsilon:  0.01,
		Memory:   3,
		Padding:  4,
		MaxIters: 5,
	}

	job := jm.CreateJob(config)

	ctx := context.Background()
	err := runJob(ctx, jm, nil, tmpDir, job.ID, nil)

	if err != nil {
		t.Fatalf("runJob should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCompleted {
		t.Errorf("Job should be completed, got %s", updated.State)
	}

	if updated.BestCost <= 0 {
		t.Error("BestCost should be set")
	}
	if updated.InitialCost < updated.BestCost {
		t.Errorf("Best cost %g should not exceed initial cost %g", updated.BestCost, updated.InitialCost)
	}
	if updated.Iterations == 0 {
		t.Error("Iterations should be tracked")
	}
	if updated.Evaluations == 0 {
		t.Error("Evaluations should be tracked")
	}

	// Padded shape: 16x16 data with padding 4
	if len(updated.Shape) != 2 || updated.Shape[0] != 20 || updated.Shape[1] != 20 {
		t.Errorf("Expected shape [20 20], got %v", updated.Shape)
	}
	if len(updated.BestSolution) != 400 {
		t.Errorf("Expected 400 solution values, got %d", len(updated.BestSolution))
	}

	// Trace should exist with one entry per accepted iteration
	reader, err := store.NewTraceReader(tmpDir, job.ID)
	if err != nil {
		t.Fatalf("Trace file should exist: %v", err)
	}
	defer reader.Close()
	entries, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("Failed to read trace: %v", err)
	}
	if len(entries) == 0 {
		t.Error("Trace should have entries")
	}
}

func TestRunJob_InvalidImage(t *testing.T) {
	tmpDir := t.TempDir()

	jm := NewJobManager()
	config := JobConfig{
		DataPath: "/nonexistent/image.png",
		PSFPath:  "/nonexistent/psf.png",
		Epsilon:  0.01,
		Padding:  4,
		MaxIters: 5,
	}

	job := jm.CreateJob(config)

	ctx := context.Background()
	err := runJob(ctx, jm, nil, tmpDir, job.ID, nil)

	if err == nil {
		t.Error("runJob should fail with invalid image path")
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateFailed {
		t.Errorf("Job should be failed, got %s", updated.State)
	}

	if updated.Error == "" {
		t.Error("Error message should be set")
	}
}

func TestRunJob_NotFound(t *testing.T) {
	jm := NewJobManager()

	err := runJob(context.Background(), jm, nil, t.TempDir(), "nonexistent", nil)
	if err == nil {
		t.Error("runJob should fail for unknown job ID")
	}
}

func TestRunJob_Cancellation(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping deconvolution run in short mode")
	}

	tmpDir := t.TempDir()
	dataPath, psfPath := createTestImages(t, tmpDir)

	jm := NewJobManager()
	config := JobConfig{
		DataPath: dataPath,
		PSFPath:  psfPath,
		Mu:       0.001,
		Epsilon:  0.01,
		Padding:  4,
		MaxIters: 100000, // Long-running job
		Grtol:    1e-15,
	}

	job := jm.CreateJob(config)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)
	go func() {
		done <- runJob(ctx, jm, nil, tmpDir, job.ID, nil)
	}()

	// Give it time to start
	time.Sleep(50 * time.Millisecond)

	// Cancel the job
	cancel()

	// Wait for completion
	err := <-done

	updated, _ := jm.GetJob(job.ID)
	if err != nil {
		if updated.State != StateCancelled {
			t.Errorf("Cancelled job should be marked cancelled, got %s", updated.State)
		}
	} else {
		// The optimizer may converge before the cancel lands
		if updated.State != StateCompleted {
			t.Errorf("Job should be completed or cancelled, got %s", updated.State)
		}
	}
}

func TestRunJob_Checkpointing(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping deconvolution run in short mode")
	}

	tmpDir := t.TempDir()
	dataPath, psfPath := createTestImages(t, tmpDir)

	st, err := store.NewFSStore(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	jm := NewJobManager()
	config := JobConfig{
		DataPath: dataPath,
		PSFPath:  psfPath,
		Mu:       0.001,
		Epsilon:  0.01,
		Padding:  4,
		MaxIters: 5,
	}

	job := jm.CreateJob(config)

	if err := runJob(context.Background(), jm, st, tmpDir, job.ID, nil); err != nil {
		t.Fatalf("runJob failed: %v", err)
	}

	// Final checkpoint is written unconditionally when a store is set
	cp, err := st.LoadCheckpoint(job.ID)
	if err != nil {
		t.Fatalf("Final checkpoint should exist: %v", err)
	}
	if err := cp.Validate(); err != nil {
		t.Errorf("Checkpoint should validate: %v", err)
	}
	if len(cp.Shape) != 2 || cp.Shape[0] != 20 || cp.Shape[1] != 20 {
		t.Errorf("Expected checkpoint shape [20 20], got %v", cp.Shape)
	}

	// Artifacts rendered next to the checkpoint
	for _, name := range []string{"best.png", "residual.png"} {
		path := filepath.Join(tmpDir, "jobs", job.ID, name)
		if _, err := os.Stat(path); err != nil {
			t.Errorf("Expected artifact %s: %v", name, err)
		}
	}
}

func TestResumeJob(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping deconvolution run in short mode")
	}

	tmpDir := t.TempDir()
	dataPath, psfPath := createTestImages(t, tmpDir)

	st, err := store.NewFSStore(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	jm := NewJobManager()
	config := JobConfig{
		DataPath: dataPath,
		PSFPath:  psfPath,
		Mu:       0.001,
		Epsilon:  0.01,
		Padding:  4,
		MaxIters: 3,
	}
	job := jm.CreateJob(config)

	if err := runJob(context.Background(), jm, st, tmpDir, job.ID, nil); err != nil {
		t.Fatalf("Initial run failed: %v", err)
	}

	first, err := st.LoadCheckpoint(job.ID)
	if err != nil {
		t.Fatalf("Checkpoint should exist after first run: %v", err)
	}

	// Resume picks up from the saved solution and can only improve
	if err := ResumeJob(context.Background(), st, tmpDir, job.ID); err != nil {
		t.Fatalf("ResumeJob failed: %v", err)
	}

	second, err := st.LoadCheckpoint(job.ID)
	if err != nil {
		t.Fatalf("Checkpoint should exist after resume: %v", err)
	}
	if second.BestCost > first.BestCost {
		t.Errorf("Resumed best cost %g should not exceed first run's %g", second.BestCost, first.BestCost)
	}
}

func TestResumeJob_NotFound(t *testing.T) {
	tmpDir := t.TempDir()
	st, err := store.NewFSStore(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if err := ResumeJob(context.Background(), st, tmpDir, "nonexistent"); err == nil {
		t.Error("ResumeJob should fail for unknown checkpoint")
	}
}

func TestResidualImage(t *testing.T) {
	a := []float64{0.5, 0.25, 0.0, 1.0}
	b := []float64{0.0, 0.25, 0.25, 1.0}

	res, err := residualImage(a, b)
	if err != nil {
		t.Fatalf("residualImage failed: %v", err)
	}

	// Peak deviation (0.5) maps to 1, others scale proportionally
	want := []float64{1.0, 0.0, 0.5, 0.0}
	for i := range want {
		if diff := res[i] - want[i]; diff > 1e-12 || diff < -1e-12 {
			t.Errorf("res[%d] = %g, want %g", i, res[i], want[i])
		}
	}

	if _, err := residualImage([]float64{1}, []float64{1, 2}); err == nil {
		t.Error("residualImage should reject mismatched lengths")
	}
}

func TestExtractDataRegion(t *testing.T) {
	// 4x4 padded solution, 2x2 data window centered at offset (1,1)
	sol := []float64{
		0, 0, 0, 0,
		0, 1, 2, 0,
		0, 3, 4, 0,
		0, 0, 0, 0,
	}

	region, err := extractDataRegion(sol, []int{4, 4}, []int{2, 2})
	if err != nil {
		t.Fatalf("extractDataRegion failed: %v", err)
	}

	want := []float64{1, 2, 3, 4}
	for i := range want {
		if region[i] != want[i] {
			t.Errorf("region[%d] = %g, want %g", i, region[i], want[i])
		}
	}

	if _, err := extractDataRegion(sol, []int{4, 4}, []int{8, 8}); err == nil {
		t.Error("extractDataRegion should reject oversized data shape")
	}
}
