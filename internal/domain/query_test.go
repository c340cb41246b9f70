package domain

import (
	"testing"
	"time"
)

func TestClampLimit(t *testing.T) {
	cases := map[int]int{-5: 1, 0: 1, 1: 1, 50: 50, 100: 100, 101: 100, 100000: 100}
	for in, want := range cases {
		if got := ClampLimit(in); got != want {
			t.Fatalf("ClampLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestQueryInRange(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	q := Query{Start: &start, End: &end}
	if !q.InRange(start) || !q.InRange(end) {
		t.Fatal("bounds must be inclusive")
	}
	if q.InRange(start.Add(-time.Millisecond)) || q.InRange(end.Add(time.Millisecond)) {
		t.Fatal("expected values outside bounds to be excluded")
	}
	if q.InRange(time.Time{}) {
		t.Fatal("unparseable timestamps must be excluded by a lower bound")
	}
	if !(Query{End: &end}).InRange(time.Time{}) {
		t.Fatal("without a lower bound epoch zero is in range")
	}
}

func TestQueueKey(t *testing.T) {
	job := AutoDeployJob{Project: ProjectConfig{Slug: "acme-app"}, Context: AutoDeployContext{Branch: "feature/x"}}
	if job.QueueKey() != "acme-app:feature/x" {
		t.Fatalf("unexpected queue key %q", job.QueueKey())
	}
}
