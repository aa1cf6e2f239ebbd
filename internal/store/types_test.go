package store

import (
	"encoding/json"
	"testing"
	"time"
)

func validConfig() JobConfig {
	return JobConfig{
		DataPath: "assets/blurred.png",
		PSFPath:  "assets/psf.png",
		Mu:       0.001,
		Epsilon:  0.01,
		Memory:   5,
		Padding:  32,
		Grtol:    1e-6,
		MaxIters: 200,
	}
}

func TestCheckpoint_JSONSerialization(t *testing.T) {
	original := &Checkpoint{
		JobID:        "test-job-123",
		BestSolution: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6},
		Shape:        []int{2, 3},
		BestCost:     0.0234,
		InitialCost:  0.5621,
		Iteration:    500,
		Timestamp:    time.Date(2025, 10, 23, 10, 30, 0, 0, time.UTC),
		Config:       validConfig(),
	}

	// Serialize to JSON
	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Failed to marshal checkpoint: %v", err)
	}

	// Verify JSON is not empty
	if len(data) == 0 {
		t.Fatal("Marshaled JSON is empty")
	}

	// Deserialize from JSON
	var restored Checkpoint
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("Failed to unmarshal checkpoint: %v", err)
	}

	// Verify all fields match
	if restored.JobID != original.JobID {
		t.Errorf("JobID mismatch: expected %s, got %s", original.JobID, restored.JobID)
	}
	if restored.BestCost != original.BestCost {
		t.Errorf("BestCost mismatch: expected %f, got %f", original.BestCost, restored.BestCost)
	}
	if restored.InitialCost != original.InitialCost {
		t.Errorf("InitialCost mismatch: expected %f, got %f", original.InitialCost, restored.InitialCost)
	}
	if restored.Iteration != original.Iteration {
		t.Errorf("Iteration mismatch: expected %d, got %d", original.Iteration, restored.Iteration)
	}
	if !restored.Timestamp.Equal(original.Timestamp) {
		t.Errorf("Timestamp mismatch: expected %v, got %v", original.Timestamp, restored.Timestamp)
	}
	if len(restored.BestSolution) != len(original.BestSolution) {
		t.Fatalf("BestSolution length mismatch: expected %d, got %d", len(original.BestSolution), len(restored.BestSolution))
	}
	for i := range original.BestSolution {
		if restored.BestSolution[i] != original.BestSolution[i] {
			t.Errorf("BestSolution[%d] mismatch: expected %f, got %f", i, original.BestSolution[i], restored.BestSolution[i])
		}
	}
	if len(restored.Shape) != len(original.Shape) {
		t.Fatalf("Shape length mismatch: expected %d, got %d", len(original.Shape), len(restored.Shape))
	}
	for i := range original.Shape {
		if restored.Shape[i] != original.Shape[i] {
			t.Errorf("Shape[%d] mismatch: expected %d, got %d", i, original.Shape[i], restored.Shape[i])
		}
	}
	if restored.Config.DataPath != original.Config.DataPath {
		t.Errorf("Config.DataPath mismatch: expected %s, got %s", original.Config.DataPath, restored.Config.DataPath)
	}
	if restored.Config.PSFPath != original.Config.PSFPath {
		t.Errorf("Config.PSFPath mismatch: expected %s, got %s", original.Config.PSFPath, restored.Config.PSFPath)
	}
	if restored.Config.Mu != original.Config.Mu {
		t.Errorf("Config.Mu mismatch: expected %f, got %f", original.Config.Mu, restored.Config.Mu)
	}
}

func TestCheckpoint_JSONOptionalBounds(t *testing.T) {
	cfg := validConfig()
	data, err := json.Marshal(&Checkpoint{
		JobID:        "test",
		BestSolution: []float64{1},
		Shape:        []int{1},
		Timestamp:    time.Now(),
		Config:       cfg,
	})
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	config, ok := raw["config"].(map[string]any)
	if !ok {
		t.Fatal("config field missing from JSON")
	}
	if _, present := config["lower"]; present {
		t.Error("nil Lower bound should be omitted from JSON")
	}
	if _, present := config["upper"]; present {
		t.Error("nil Upper bound should be omitted from JSON")
	}

	lower := 0.0
	cfg.Lower = &lower
	data, err = json.Marshal(cfg)
	if err != nil {
		t.Fatalf("Failed to marshal config with bound: %v", err)
	}

	var restored JobConfig
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("Failed to unmarshal config with bound: %v", err)
	}
	if restored.Lower == nil || *restored.Lower != 0.0 {
		t.Errorf("Lower bound not preserved: got %v", restored.Lower)
	}
	if restored.Upper != nil {
		t.Errorf("Upper bound should stay nil, got %v", restored.Upper)
	}
}

func TestCheckpoint_JSONIndented(t *testing.T) {
	checkpoint := &Checkpoint{
		JobID:        "test-job",
		BestSolution: []float64{1.0, 2.0, 3.0, 4.0},
		Shape:        []int{2, 2},
		BestCost:     0.1,
		InitialCost:  0.5,
		Iteration:    100,
		Timestamp:    time.Now(),
		Config:       validConfig(),
	}

	// Serialize with indentation (like FSStore does)
	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		t.Fatalf("Failed to marshal with indent: %v", err)
	}

	// Verify it's valid JSON and can be unmarshaled
	var restored Checkpoint
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("Failed to unmarshal indented JSON: %v", err)
	}

	if restored.JobID != checkpoint.JobID {
		t.Errorf("JobID mismatch after indented serialization")
	}
}

func TestCheckpoint_Validate_Valid(t *testing.T) {
	checkpoint := &Checkpoint{
		JobID:        "valid-job",
		BestSolution: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6},
		Shape:        []int{2, 3},
		BestCost:     0.1,
		InitialCost:  0.5,
		Iteration:    100,
		Timestamp:    time.Now(),
		Config:       validConfig(),
	}

	err := checkpoint.Validate()
	if err != nil {
		t.Errorf("Valid checkpoint should not have validation error: %v", err)
	}
}

func TestCheckpoint_Validate_EmptyJobID(t *testing.T) {
	checkpoint := &Checkpoint{
		JobID:        "",
		BestSolution: []float64{1, 2, 3, 4},
		Shape:        []int{2, 2},
		BestCost:     0.1,
		InitialCost:  0.5,
		Iteration:    100,
		Timestamp:    time.Now(),
		Config:       validConfig(),
	}

	err := checkpoint.Validate()
	if err == nil {
		t.Fatal("Expected validation error for empty JobID")
	}

	if _, ok := err.(*ValidationError); !ok {
		t.Errorf("Expected ValidationError, got %T", err)
	}
}

func TestCheckpoint_Validate_EmptySolution(t *testing.T) {
	testCases := []struct {
		name     string
		solution []float64
	}{
		{"nil solution", nil},
		{"empty solution", []float64{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			checkpoint := &Checkpoint{
				JobID:        "test",
				BestSolution: tc.solution,
				Shape:        []int{2, 2},
				BestCost:     0.1,
				InitialCost:  0.5,
				Iteration:    100,
				Timestamp:    time.Now(),
				Config:       validConfig(),
			}

			err := checkpoint.Validate()
			if err == nil {
				t.Fatalf("Expected validation error for %s", tc.name)
			}
		})
	}
}

func TestCheckpoint_Validate_ShapeMismatch(t *testing.T) {
	testCases := []struct {
		name     string
		solution []float64
		shape    []int
	}{
		{"too few values", []float64{1, 2, 3}, []int{2, 2}},
		{"too many values", []float64{1, 2, 3, 4, 5}, []int{2, 2}},
		{"empty shape", []float64{1, 2, 3, 4}, []int{}},
		{"zero dimension", []float64{1, 2, 3, 4}, []int{4, 0}},
		{"negative dimension", []float64{1, 2, 3, 4}, []int{-2, -2}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			checkpoint := &Checkpoint{
				JobID:        "test",
				BestSolution: tc.solution,
				Shape:        tc.shape,
				BestCost:     0.1,
				InitialCost:  0.5,
				Iteration:    100,
				Timestamp:    time.Now(),
				Config:       validConfig(),
			}

			err := checkpoint.Validate()
			if err == nil {
				t.Fatalf("Expected validation error for %s", tc.name)
			}
		})
	}
}

func TestCheckpoint_Validate_NegativeValues(t *testing.T) {
	testCases := []struct {
		name      string
		bestCost  float64
		iteration int
	}{
		{"negative cost", -0.1, 100},
		{"negative iteration", 0.1, -10},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			checkpoint := &Checkpoint{
				JobID:        "test",
				BestSolution: []float64{1, 2, 3, 4},
				Shape:        []int{2, 2},
				BestCost:     tc.bestCost,
				InitialCost:  0.5,
				Iteration:    tc.iteration,
				Timestamp:    time.Now(),
				Config:       validConfig(),
			}

			err := checkpoint.Validate()
			if err == nil {
				t.Fatalf("Expected validation error for %s", tc.name)
			}
		})
	}
}

func TestCheckpoint_Validate_ZeroTimestamp(t *testing.T) {
	checkpoint := &Checkpoint{
		JobID:        "test",
		BestSolution: []float64{1, 2, 3, 4},
		Shape:        []int{2, 2},
		BestCost:     0.1,
		InitialCost:  0.5,
		Iteration:    100,
		Timestamp:    time.Time{}, // Zero value
		Config:       validConfig(),
	}

	err := checkpoint.Validate()
	if err == nil {
		t.Fatal("Expected validation error for zero timestamp")
	}
}

func TestCheckpoint_Validate_InvalidConfig(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*JobConfig)
	}{
		{"empty dataPath", func(c *JobConfig) { c.DataPath = "" }},
		{"empty psfPath", func(c *JobConfig) { c.PSFPath = "" }},
		{"negative mu", func(c *JobConfig) { c.Mu = -0.1 }},
		{"zero epsilon", func(c *JobConfig) { c.Epsilon = 0 }},
		{"negative epsilon", func(c *JobConfig) { c.Epsilon = -0.01 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			config := validConfig()
			tc.mutate(&config)
			checkpoint := &Checkpoint{
				JobID:        "test",
				BestSolution: []float64{1, 2, 3, 4},
				Shape:        []int{2, 2},
				BestCost:     0.1,
				InitialCost:  0.5,
				Iteration:    100,
				Timestamp:    time.Now(),
				Config:       config,
			}

			err := checkpoint.Validate()
			if err == nil {
				t.Fatalf("Expected validation error for %s", tc.name)
			}
		})
	}
}

func TestCheckpoint_IsCompatible_Compatible(t *testing.T) {
	checkpoint := &Checkpoint{Config: validConfig()}

	config := validConfig()
	config.Mu = 0.01 // regularization level may change between runs

	err := checkpoint.IsCompatible(config)
	if err != nil {
		t.Errorf("Compatible configs should not return error: %v", err)
	}
}

func TestCheckpoint_IsCompatible_Incompatible(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*JobConfig)
	}{
		{"different dataPath", func(c *JobConfig) { c.DataPath = "assets/other.png" }},
		{"different psfPath", func(c *JobConfig) { c.PSFPath = "assets/other-psf.png" }},
		{"different padding", func(c *JobConfig) { c.Padding = 16 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			checkpoint := &Checkpoint{Config: validConfig()}
			config := validConfig()
			tc.mutate(&config)

			err := checkpoint.IsCompatible(config)
			if err == nil {
				t.Fatalf("Expected compatibility error for %s", tc.name)
			}
			if _, ok := err.(*CompatibilityError); !ok {
				t.Errorf("Expected CompatibilityError, got %T", err)
			}
		})
	}
}

func TestCheckpointInfo_FromCheckpoint(t *testing.T) {
	checkpoint := &Checkpoint{
		JobID:     "test-job",
		BestCost:  0.123,
		Iteration: 500,
		Shape:     []int{96, 128},
		Timestamp: time.Now(),
		Config:    validConfig(),
	}

	info := checkpoint.ToInfo()

	if info.JobID != checkpoint.JobID {
		t.Errorf("JobID mismatch: expected %s, got %s", checkpoint.JobID, info.JobID)
	}
	if info.BestCost != checkpoint.BestCost {
		t.Errorf("BestCost mismatch: expected %f, got %f", checkpoint.BestCost, info.BestCost)
	}
	if info.Iteration != checkpoint.Iteration {
		t.Errorf("Iteration mismatch: expected %d, got %d", checkpoint.Iteration, info.Iteration)
	}
	if !info.Timestamp.Equal(checkpoint.Timestamp) {
		t.Errorf("Timestamp mismatch")
	}
	if info.DataPath != checkpoint.Config.DataPath {
		t.Errorf("DataPath mismatch: expected %s, got %s", checkpoint.Config.DataPath, info.DataPath)
	}
	if info.PSFPath != checkpoint.Config.PSFPath {
		t.Errorf("PSFPath mismatch: expected %s, got %s", checkpoint.Config.PSFPath, info.PSFPath)
	}
	if len(info.Shape) != 2 || info.Shape[0] != 96 || info.Shape[1] != 128 {
		t.Errorf("Shape mismatch: got %v", info.Shape)
	}
}

func TestNewCheckpoint(t *testing.T) {
	jobID := "test-job"
	best := []float64{1, 2, 3, 4, 5, 6}
	shape := []int{2, 3}
	bestCost := 0.123
	initialCost := 0.5
	iteration := 500
	config := validConfig()

	checkpoint := NewCheckpoint(jobID, best, shape, bestCost, initialCost, iteration, config)

	if checkpoint.JobID != jobID {
		t.Errorf("JobID mismatch: expected %s, got %s", jobID, checkpoint.JobID)
	}
	if checkpoint.BestCost != bestCost {
		t.Errorf("BestCost mismatch: expected %f, got %f", bestCost, checkpoint.BestCost)
	}
	if checkpoint.InitialCost != initialCost {
		t.Errorf("InitialCost mismatch: expected %f, got %f", initialCost, checkpoint.InitialCost)
	}
	if checkpoint.Iteration != iteration {
		t.Errorf("Iteration mismatch: expected %d, got %d", iteration, checkpoint.Iteration)
	}
	if checkpoint.Timestamp.IsZero() {
		t.Error("Timestamp should not be zero")
	}
	if len(checkpoint.BestSolution) != len(best) {
		t.Errorf("BestSolution length mismatch")
	}
	if err := checkpoint.Validate(); err != nil {
		t.Errorf("Checkpoint from NewCheckpoint should validate: %v", err)
	}
}
