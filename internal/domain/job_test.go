package domain

import (
	"errors"
	"testing"
)

func TestParseJobStatus(t *testing.T) {
	cases := map[string]JobStatus{
		"success":  JobStatusSuccess,
		" RUNNING": JobStatusRunning,
		"queued":   JobStatusQueued,
		"banned":   JobStatusBanned,
		"":         JobStatusUnknown,
		"weird":    JobStatusUnknown,
	}
	for raw, want := range cases {
		if got := ParseJobStatus(raw); got != want {
			t.Fatalf("ParseJobStatus(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestJobStatusTerminal(t *testing.T) {
	terminal := []JobStatus{JobStatusSuccess, JobStatusFailed, JobStatusBanned, JobStatusExpired, JobStatusCancelled, JobStatusProcessingFailed}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Fatalf("%q should be terminal", s)
		}
	}
	for _, s := range []JobStatus{JobStatusQueued, JobStatusRunning, JobStatusUnknown} {
		if s.IsTerminal() {
			t.Fatalf("%q should not be terminal", s)
		}
	}
}

func TestApplyRejectsTerminalRegression(t *testing.T) {
	terminal := []JobStatus{JobStatusSuccess, JobStatusFailed, JobStatusBanned, JobStatusExpired, JobStatusCancelled, JobStatusProcessingFailed}
	for _, from := range terminal {
		for _, to := range []JobStatus{JobStatusQueued, JobStatusRunning, JobStatusUnknown} {
			job := &GenerationJob{Status: from, Progress: 100}
			err := job.Apply(JobUpdate{Status: to, Progress: 10})
			if !errors.Is(err, ErrTerminalRegression) {
				t.Fatalf("%s -> %s: expected regression error, got %v", from, to, err)
			}
			if job.Status != from || job.Progress != 100 {
				t.Fatalf("%s -> %s: record mutated to %s/%d", from, to, job.Status, job.Progress)
			}
		}
	}
}

func TestApplySuccessMayBecomeProcessingFailed(t *testing.T) {
	job := &GenerationJob{Status: JobStatusSuccess}
	if err := job.Apply(JobUpdate{Status: JobStatusProcessingFailed, Progress: 100}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := job.Apply(JobUpdate{Status: JobStatusSuccess, Progress: 100}); !errors.Is(err, ErrTerminalRegression) {
		t.Fatalf("processing_failed -> success should be rejected, got %v", err)
	}
}

func TestApplyRelocatedSuccessStaysSuccess(t *testing.T) {
	job := &GenerationJob{Status: JobStatusSuccess, Progress: 100, ResultModelURL: "m1", ResultImageURL: "i1"}
	err := job.Apply(JobUpdate{Status: JobStatusProcessingFailed, Progress: 100})
	if !errors.Is(err, ErrTerminalRegression) {
		t.Fatalf("expected regression error, got %v", err)
	}
	if job.Status != JobStatusSuccess || job.ResultModelURL != "m1" {
		t.Fatalf("record mutated: %+v", job)
	}
}

func TestApplyKeepProgress(t *testing.T) {
	job := &GenerationJob{Status: JobStatusRunning, Progress: 70}
	if err := job.Apply(JobUpdate{Status: JobStatusExpired, KeepProgress: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != JobStatusExpired || job.Progress != 70 {
		t.Fatalf("got %s/%d, want expired/70", job.Status, job.Progress)
	}
}

func TestApplyResultURLsAreWriteOnce(t *testing.T) {
	job := &GenerationJob{Status: JobStatusRunning}
	if err := job.Apply(JobUpdate{Status: JobStatusSuccess, Progress: 100, ResultModelURL: "m1", ResultImageURL: "i1"}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := job.Apply(JobUpdate{Status: JobStatusSuccess, Progress: 100, ResultModelURL: "m2", ResultImageURL: "i2"}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if job.ResultModelURL != "m1" || job.ResultImageURL != "i1" {
		t.Fatalf("result urls overwritten: %q %q", job.ResultModelURL, job.ResultImageURL)
	}
}

func TestApplyToleratesProgressRegression(t *testing.T) {
	job := &GenerationJob{Status: JobStatusRunning, Progress: 60}
	if err := job.Apply(JobUpdate{Status: JobStatusRunning, Progress: 40}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Progress != 40 {
		t.Fatalf("progress = %d, want 40", job.Progress)
	}
	if err := job.Apply(JobUpdate{Status: JobStatusRunning, Progress: 140}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Progress != 100 {
		t.Fatalf("progress = %d, want clamp to 100", job.Progress)
	}
}

func TestJobFilterNormalize(t *testing.T) {
	f := JobFilter{PageSize: 500, SortField: "createTime; drop table"}
	f.Normalize()
	if f.Page != 1 || f.PageSize != MaxPageSize {
		t.Fatalf("paging = %d/%d", f.Page, f.PageSize)
	}
	if f.SortField != "created_at" {
		t.Fatalf("sort field = %q", f.SortField)
	}
}

func TestPrincipalCanManage(t *testing.T) {
	job := &GenerationJob{OwnerID: "u1"}
	if !(Principal{ID: "u1"}).CanManage(job) {
		t.Fatal("owner should manage own job")
	}
	if (Principal{ID: "u2"}).CanManage(job) {
		t.Fatal("stranger should not manage job")
	}
	if !(Principal{ID: "u2", Role: UserRoleAdmin}).CanManage(job) {
		t.Fatal("admin should manage any job")
	}
}
