package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// Service runs scheduled jobs: cron-expression jobs through robfig/cron,
// interval jobs through a one-second tick loop. Jobs persist in a JSON
// file so schedules survive restarts.
type Service struct {
	storePath string
	OnJob     func(job CronJob) error

	mu       sync.Mutex
	jobs     []CronJob
	cron     *rcron.Cron
	entryMap map[string]rcron.EntryID
	cancel   context.CancelFunc
}

func NewService(storePath string) *Service {
	return &Service{
		storePath: storePath,
		entryMap:  make(map[string]rcron.EntryID),
	}
}

func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel

	if err := s.load(); err != nil {
		log.Printf("[cron] warning: failed to load jobs: %v", err)
	}

	s.cron = rcron.New(rcron.WithSeconds())
	for i := range s.jobs {
		if s.jobs[i].Enabled && s.jobs[i].Schedule.Kind == "cron" {
			s.registerJob(&s.jobs[i])
		}
	}
	count := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	log.Printf("[cron] started with %d jobs", count)

	go s.tickLoop(runCtx)
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if s.cron != nil {
		stopCtx := s.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
			log.Printf("[cron] stop timeout waiting for running jobs")
		}
	}
	log.Printf("[cron] stopped")
}

// EnsureJob registers a named job if no job with that name exists yet;
// the gateway uses it for its built-in schedules.
func (s *Service) EnsureJob(name string, schedule Schedule, payload Payload) (*CronJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].Name == name {
			job := s.jobs[i]
			return &job, nil
		}
	}

	job := NewCronJob(name, schedule, payload)
	s.jobs = append(s.jobs, job)
	if job.Schedule.Kind == "cron" && s.cron != nil && job.Enabled {
		s.registerJob(&s.jobs[len(s.jobs)-1])
	}
	if err := s.save(); err != nil {
		return nil, fmt.Errorf("save jobs: %w", err)
	}
	return &job, nil
}

func (s *Service) RemoveJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, job := range s.jobs {
		if job.ID == id {
			if entryID, ok := s.entryMap[id]; ok && s.cron != nil {
				s.cron.Remove(entryID)
				delete(s.entryMap, id)
			}
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			_ = s.save()
			return true
		}
	}
	return false
}

func (s *Service) ListJobs() []CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CronJob, len(s.jobs))
	copy(out, s.jobs)
	return out
}

func (s *Service) registerJob(job *CronJob) {
	jobCopy := *job
	id, err := s.cron.AddFunc(job.Schedule.Expr, func() {
		s.executeJob(jobCopy)
	})
	if err != nil {
		log.Printf("[cron] failed to register job %s (%s): %v", job.Name, job.Schedule.Expr, err)
		return
	}
	s.entryMap[job.ID] = id
}

func (s *Service) executeJob(job CronJob) {
	if s.OnJob == nil {
		log.Printf("[cron] no OnJob handler set")
		return
	}

	err := s.OnJob(job)

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.jobs {
		if s.jobs[i].ID != job.ID {
			continue
		}
		s.jobs[i].State.LastRunAtMs = time.Now().UnixMilli()
		if err != nil {
			s.jobs[i].State.LastStatus = "error"
			s.jobs[i].State.LastError = err.Error()
			log.Printf("[cron] job %s error: %v", job.Name, err)
		} else {
			s.jobs[i].State.LastStatus = "ok"
			s.jobs[i].State.LastError = ""
		}
		break
	}
	_ = s.save()
}

func (s *Service) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now().UnixMilli()
			s.mu.Lock()
			var due []CronJob
			for i := range s.jobs {
				job := &s.jobs[i]
				if !job.Enabled || job.Schedule.Kind != "every" || job.Schedule.EveryMs <= 0 {
					continue
				}
				if now >= job.State.LastRunAtMs+job.Schedule.EveryMs {
					due = append(due, *job)
				}
			}
			s.mu.Unlock()

			for _, job := range due {
				s.executeJob(job)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) load() error {
	data, err := os.ReadFile(s.storePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, &s.jobs)
}

func (s *Service) save() error {
	if err := os.MkdirAll(filepath.Dir(s.storePath), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.jobs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.storePath, data, 0644)
}
