package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestServer_CreateJob(t *testing.T) {
	tmpDir := t.TempDir()
	dataPath, psfPath := createTestImages(t, tmpDir)

	s := NewServer(":8080", nil, tmpDir)

	// Create job request
	config := JobConfig{
		DataPath: dataPath,
		PSFPath:  psfPath,
		Mu:       0.001,
		Epsilon:  0.01,
		Memory:   3,
		Padding:  4,
		MaxIters: 3,
	}

	body, _ := json.Marshal(config)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.handleCreateJob(w, req)

	if w.Code != http.StatusCreated {
		t.Errorf("Expected status 201, got %d", w.Code)
	}

	var job Job
	if err := json.NewDecoder(w.Body).Decode(&job); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}

	// State should be pending or running (since worker starts immediately)
	if job.State != StatePending && job.State != StateRunning {
		t.Errorf("Expected pending or running state, got %s", job.State)
	}
}

func TestServer_CreateJob_Validation(t *testing.T) {
	tmpDir := t.TempDir()
	s := NewServer(":8080", nil, tmpDir)

	tests := []struct {
		name   string
		config JobConfig
	}{
		{"missing dataPath", JobConfig{PSFPath: "psf.png"}},
		{"missing psfPath", JobConfig{DataPath: "data.png"}},
		{"negative mu", JobConfig{DataPath: "data.png", PSFPath: "psf.png", Mu: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(tt.config)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(body))
			w := httptest.NewRecorder()

			s.handleCreateJob(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
		})
	}
}

func TestServer_ListJobs(t *testing.T) {
	tmpDir := t.TempDir()
	s := NewServer(":8080", nil, tmpDir)

	// Create two jobs
	s.jobManager.CreateJob(testJobConfig())
	s.jobManager.CreateJob(testJobConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	w := httptest.NewRecorder()

	s.handleListJobs(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var jobs []*Job
	if err := json.NewDecoder(w.Body).Decode(&jobs); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if len(jobs) != 2 {
		t.Errorf("Expected 2 jobs, got %d", len(jobs))
	}
}

func TestServer_GetJobStatus(t *testing.T) {
	tmpDir := t.TempDir()
	s := NewServer(":8080", nil, tmpDir)

	job := s.jobManager.CreateJob(testJobConfig())

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/jobs/%s/status", job.ID), nil)
	w := httptest.NewRecorder()

	s.handleGetJobStatus(w, req, job.ID)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if response["id"] != job.ID {
		t.Error("Response should contain job ID")
	}

	if response["state"] != string(StatePending) {
		t.Errorf("Expected pending state, got %v", response["state"])
	}
}

func TestServer_GetJobStatus_NotFound(t *testing.T) {
	s := NewServer(":8080", nil, t.TempDir())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nonexistent/status", nil)
	w := httptest.NewRecorder()

	s.handleGetJobStatus(w, req, "nonexistent")

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestServer_GetBestImage(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping deconvolution run in short mode")
	}

	tmpDir := t.TempDir()
	dataPath, psfPath := createTestImages(t, tmpDir)

	s := NewServer(":8080", nil, tmpDir)

	job := s.jobManager.CreateJob(JobConfig{
		DataPath: dataPath,
		PSFPath:  psfPath,
		Mu:       0.001,
		Epsilon:  0.01,
		Memory:   3,
		Padding:  4,
		MaxIters: 3,
	})

	// Run job and wait for completion
	err := runJob(context.Background(), s.jobManager, nil, tmpDir, job.ID, nil)
	if err != nil {
		t.Fatalf("Job failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/jobs/%s/best.png", job.ID), nil)
	w := httptest.NewRecorder()

	s.handleGetBestImage(w, req, job.ID)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	if w.Header().Get("Content-Type") != "image/png" {
		t.Error("Expected image/png content type")
	}

	// Verify it's a valid PNG with the data shape
	img, err := png.Decode(w.Body)
	if err != nil {
		t.Fatalf("Response should be valid PNG: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != 16 || bounds.Dy() != 16 {
		t.Errorf("Expected 16x16 image, got %dx%d", bounds.Dx(), bounds.Dy())
	}
}

func TestServer_GetResidualImage(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping deconvolution run in short mode")
	}

	tmpDir := t.TempDir()
	dataPath, psfPath := createTestImages(t, tmpDir)

	s := NewServer(":8080", nil, tmpDir)

	job := s.jobManager.CreateJob(JobConfig{
		DataPath: dataPath,
		PSFPath:  psfPath,
		Mu:       0.001,
		Epsilon:  0.01,
		Padding:  4,
		MaxIters: 3,
	})

	if err := runJob(context.Background(), s.jobManager, nil, tmpDir, job.ID, nil); err != nil {
		t.Fatalf("Job failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/jobs/%s/residual.png", job.ID), nil)
	w := httptest.NewRecorder()

	s.handleGetResidualImage(w, req, job.ID)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	if _, err := png.Decode(w.Body); err != nil {
		t.Errorf("Response should be valid PNG: %v", err)
	}
}

func TestServer_GetBestImage_NoResults(t *testing.T) {
	s := NewServer(":8080", nil, t.TempDir())

	job := s.jobManager.CreateJob(testJobConfig())

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/jobs/%s/best.png", job.ID), nil)
	w := httptest.NewRecorder()

	s.handleGetBestImage(w, req, job.ID)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for job without results, got %d", w.Code)
	}
}

func TestServer_IndexPage(t *testing.T) {
	s := NewServer(":8080", nil, t.TempDir())

	s.jobManager.CreateJob(testJobConfig())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	s.handleIndex(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	body := w.Body.String()
	if !containsString(body, "Deconvolution") {
		t.Error("Index page should mention deconvolution")
	}
}

func TestServer_JobStream_NotFound(t *testing.T) {
	s := NewServer(":8080", nil, t.TempDir())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nonexistent/stream", nil)
	w := httptest.NewRecorder()

	s.handleJobStream(w, req, "nonexistent")

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestEventBroadcaster(t *testing.T) {
	eb := NewEventBroadcaster()

	// Subscribe to events
	ch := eb.Subscribe("job1")
	defer eb.Unsubscribe("job1", ch)

	// Broadcast an event
	event := ProgressEvent{
		JobID:       "job1",
		State:       StateRunning,
		Iterations:  10,
		Evaluations: 14,
		BestCost:    100.5,
		GradNorm:    0.25,
		Timestamp:   time.Now(),
	}
	eb.Broadcast(event)

	// Receive event
	select {
	case received := <-ch:
		if received.JobID != "job1" {
			t.Errorf("Expected jobID job1, got %s", received.JobID)
		}
		if received.Iterations != 10 {
			t.Errorf("Expected 10 iterations, got %d", received.Iterations)
		}
		if received.GradNorm != 0.25 {
			t.Errorf("Expected gradNorm 0.25, got %f", received.GradNorm)
		}
	case <-time.After(1 * time.Second):
		t.Error("Timeout waiting for event")
	}

	// Cleanup
	eb.CleanupJob("job1")
}

func TestEventBroadcaster_LateSubscriber(t *testing.T) {
	eb := NewEventBroadcaster()

	eb.Broadcast(ProgressEvent{JobID: "job2", State: StateRunning, Iterations: 5, Timestamp: time.Now()})

	// New subscribers get the last event replayed
	ch := eb.Subscribe("job2")
	defer eb.Unsubscribe("job2", ch)

	select {
	case received := <-ch:
		if received.Iterations != 5 {
			t.Errorf("Expected replayed iterations 5, got %d", received.Iterations)
		}
	case <-time.After(1 * time.Second):
		t.Error("Timeout waiting for replayed event")
	}
}

func containsString(haystack, needle string) bool {
	return bytes.Contains([]byte(haystack), []byte(needle))
}

// createTestImages writes a 16x16 blurred-looking data image and a 5x5
// PSF image, returning their paths.
func createTestImages(t *testing.T, dir string) (dataPath, psfPath string) {
	t.Helper()

	dataPath = filepath.Join(dir, "data.png")
	psfPath = filepath.Join(dir, "psf.png")

	data := image.NewGray(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			// Bright blob near the center, dark background
			dx, dy := float64(x-8), float64(y-8)
			r2 := dx*dx + dy*dy
			v := 200.0 / (1.0 + r2/8.0)
			data.SetGray(x, y, color.Gray{Y: uint8(v)})
		}
	}
	writePNG(t, dataPath, data)

	psf := image.NewGray(image.Rect(0, 0, 5, 5))
	psf.SetGray(2, 2, color.Gray{Y: 255})
	psf.SetGray(1, 2, color.Gray{Y: 100})
	psf.SetGray(3, 2, color.Gray{Y: 100})
	psf.SetGray(2, 1, color.Gray{Y: 100})
	psf.SetGray(2, 3, color.Gray{Y: 100})
	writePNG(t, psfPath, psf)

	return dataPath, psfPath
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create test image: %v", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
}
