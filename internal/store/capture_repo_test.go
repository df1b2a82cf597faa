package store

import (
	"context"
	"testing"

	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/domain"
)

func TestCaptureRepo_RecordAndList(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &CaptureRepo{}

	first, err := repo.Record(ctx, db, domain.CaptureRecord{
		RunID:     "run-1",
		Path:      "/tmp/microscope_capture_1700000000.npy",
		Rows:      512,
		Cols:      512,
		Dtype:     "uint16",
		Detector:  "ceta_camera",
		CreatedAt: 10,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if first == "" {
		t.Fatal("Record returned empty capture ID")
	}

	_, err = repo.Record(ctx, db, domain.CaptureRecord{
		RunID:     "run-1",
		Path:      "/tmp/microscope_capture_1700000001.npy",
		Rows:      128,
		Cols:      128,
		Dtype:     "uint16",
		Detector:  "HAADF",
		CreatedAt: 20,
	})
	if err != nil {
		t.Fatalf("second Record: %v", err)
	}

	captures, err := repo.ListByRun(ctx, db, "run-1")
	if err != nil {
		t.Fatalf("ListByRun: %v", err)
	}
	if len(captures) != 2 {
		t.Fatalf("len = %d, want 2", len(captures))
	}
	if captures[0].CaptureID != first {
		t.Errorf("oldest first: got %q", captures[0].CaptureID)
	}
	if captures[0].Rows != 512 || captures[0].Dtype != "uint16" {
		t.Errorf("capture = %+v", captures[0])
	}
	if captures[1].Detector != "HAADF" {
		t.Errorf("second capture detector = %q", captures[1].Detector)
	}
}

func TestCaptureRepo_CountByRun(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &CaptureRepo{}

	for i := 0; i < 3; i++ {
		_, err := repo.Record(ctx, db, domain.CaptureRecord{
			RunID:     "run-count",
			Path:      "/tmp/x.npy",
			CreatedAt: int64(i),
		})
		if err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	n, err := repo.CountByRun(ctx, db, "run-count")
	if err != nil {
		t.Fatalf("CountByRun: %v", err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}

	n, err = repo.CountByRun(ctx, db, "run-empty")
	if err != nil {
		t.Fatalf("CountByRun empty: %v", err)
	}
	if n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
}

func TestCaptureRepo_ListByRun_Empty(t *testing.T) {
	db := newTestDB(t)
	repo := &CaptureRepo{}

	captures, err := repo.ListByRun(context.Background(), db, "run-none")
	if err != nil {
		t.Fatalf("ListByRun: %v", err)
	}
	if len(captures) != 0 {
		t.Errorf("captures = %+v", captures)
	}
}
