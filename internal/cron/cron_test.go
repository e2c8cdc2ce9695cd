package cron

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewCronJob(t *testing.T) {
	job := NewCronJob("memory.flush", Schedule{Kind: "cron", Expr: "0 */5 * * * *"}, Payload{Kind: "memory.flush"})
	if job.ID == "" {
		t.Error("job should get an id")
	}
	if !job.Enabled {
		t.Error("new jobs start enabled")
	}
	if job.State.LastRunAtMs == 0 {
		t.Error("last run should initialize to now")
	}
}

func TestEnsureJobIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cron.json")
	s := NewService(path)

	first, err := s.EnsureJob("memory.flush", Schedule{Kind: "cron", Expr: "0 */5 * * * *"}, Payload{Kind: "memory.flush"})
	if err != nil {
		t.Fatalf("EnsureJob: %v", err)
	}
	second, err := s.EnsureJob("memory.flush", Schedule{Kind: "cron", Expr: "* * * * * *"}, Payload{Kind: "other"})
	if err != nil {
		t.Fatalf("EnsureJob (again): %v", err)
	}
	if second.ID != first.ID {
		t.Error("second EnsureJob should return the existing job")
	}
	if len(s.ListJobs()) != 1 {
		t.Errorf("jobs = %d, want 1", len(s.ListJobs()))
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("store file not written: %v", err)
	}
}

func TestEnsureJobPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cron.json")

	s1 := NewService(path)
	if _, err := s1.EnsureJob("aliases.save", Schedule{Kind: "cron", Expr: "0 0 * * * *"}, Payload{Kind: "aliases.save"}); err != nil {
		t.Fatal(err)
	}

	s2 := NewService(path)
	if err := s2.load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	jobs := s2.ListJobs()
	if len(jobs) != 1 || jobs[0].Name != "aliases.save" {
		t.Errorf("jobs after reload = %+v", jobs)
	}
}

func TestRemoveJob(t *testing.T) {
	s := NewService(filepath.Join(t.TempDir(), "cron.json"))
	job, err := s.EnsureJob("memory.flush", Schedule{Kind: "every", EveryMs: 1000}, Payload{Kind: "memory.flush"})
	if err != nil {
		t.Fatal(err)
	}

	if !s.RemoveJob(job.ID) {
		t.Error("RemoveJob should report the job removed")
	}
	if len(s.ListJobs()) != 0 {
		t.Error("job still listed after removal")
	}
	if s.RemoveJob(job.ID) {
		t.Error("removing twice should fail")
	}
}

func TestExecuteJobRecordsState(t *testing.T) {
	s := NewService(filepath.Join(t.TempDir(), "cron.json"))
	job, err := s.EnsureJob("memory.flush", Schedule{Kind: "every", EveryMs: 60000}, Payload{Kind: "memory.flush"})
	if err != nil {
		t.Fatal(err)
	}

	var got CronJob
	s.OnJob = func(j CronJob) error {
		got = j
		return nil
	}
	s.executeJob(*job)

	if got.Payload.Kind != "memory.flush" {
		t.Errorf("handler payload = %+v", got.Payload)
	}
	jobs := s.ListJobs()
	if jobs[0].State.LastStatus != "ok" {
		t.Errorf("status = %q", jobs[0].State.LastStatus)
	}
}
