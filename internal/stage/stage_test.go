package stage

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type testStage struct {
	name       string
	checkpoint int
}

func (s *testStage) Name() string                            { return s.name }
func (s *testStage) Checkpoint() int                         { return s.checkpoint }
func (s *testStage) Execute(ctx context.Context, run *Run) error { return nil }

func TestNewRegistry(t *testing.T) {
	tests := []struct {
		name        string
		checkpoints []int
		wantErr     bool
	}{
		{name: "valid sequence", checkpoints: []int{10, 20, 30, 40, 55, 100}, wantErr: false},
		{name: "single stage at 100", checkpoints: []int{100}, wantErr: false},
		{name: "empty registry", checkpoints: nil, wantErr: true},
		{name: "duplicate checkpoint", checkpoints: []int{10, 10, 100}, wantErr: true},
		{name: "decreasing checkpoint", checkpoints: []int{20, 10, 100}, wantErr: true},
		{name: "zero checkpoint", checkpoints: []int{0, 100}, wantErr: true},
		{name: "checkpoint above 100", checkpoints: []int{10, 120}, wantErr: true},
		{name: "last stage not at 100", checkpoints: []int{10, 90}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stages []Stage
			for i, cp := range tt.checkpoints {
				stages = append(stages, &testStage{name: fmt.Sprintf("s%d", i), checkpoint: cp})
			}
			_, err := NewRegistry(stages...)
			if tt.wantErr && err == nil {
				t.Error("expected registry validation to fail")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestRegistryAt(t *testing.T) {
	r, err := NewRegistry(
		&testStage{name: "first", checkpoint: 50},
		&testStage{name: "second", checkpoint: 100},
	)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}

	s, err := r.At(1)
	if err != nil {
		t.Fatalf("At(1) failed: %v", err)
	}
	if s.Name() != "second" {
		t.Errorf("At(1).Name() = %q, want %q", s.Name(), "second")
	}

	if _, err := r.At(-1); err == nil {
		t.Error("At(-1) should fail")
	}
	if _, err := r.At(2); err == nil {
		t.Error("At(2) should fail")
	}
}

func TestStageErrorUnwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := &Error{Stage: "analyze", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("stage error must unwrap to its cause")
	}
	want := "stage analyze: connection refused"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
