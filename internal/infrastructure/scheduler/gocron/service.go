package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	log "github.com/sirupsen/logrus"
)

const heightTimeout = 10 * time.Second

// BlockHeightFunc returns the current chain tip.
type BlockHeightFunc func(ctx context.Context) (uint32, error)

// Service runs tasks once the chain reaches a given block height. The tip
// is checked every interval, starting right after a task is scheduled.
type Service struct {
	scheduler *gocron.Scheduler
	height    BlockHeightFunc
	interval  time.Duration

	mu   sync.Mutex
	jobs map[string]*gocron.Job
}

func NewScheduler(height BlockHeightFunc, interval time.Duration) *Service {
	svc := gocron.NewScheduler(time.UTC)
	svc.SingletonModeAll()
	return &Service{
		scheduler: svc,
		height:    height,
		interval:  interval,
		jobs:      make(map[string]*gocron.Job),
	}
}

func (s *Service) Start() {
	s.scheduler.StartAsync()
}

func (s *Service) Stop() {
	s.scheduler.Stop()
}

// ScheduleAtHeight runs task once the tip is at least target. Scheduling
// an id again replaces the previous task.
func (s *Service) ScheduleAtHeight(id string, target uint32, task func()) error {
	if task == nil {
		return fmt.Errorf("missing task")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.jobs[id]; ok {
		s.scheduler.RemoveByReference(job)
	}

	job, err := s.scheduler.Every(s.interval).Do(s.checkHeight, id, target, task)
	if err != nil {
		return err
	}
	s.jobs[id] = job

	log.WithField("swap", id).Debugf("scheduled task at block height %d", target)
	return nil
}

func (s *Service) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.jobs[id]; ok {
		s.scheduler.RemoveByReference(job)
		delete(s.jobs, id)
	}
}

// Pending returns the ids of the tasks still waiting for their height.
func (s *Service) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}

func (s *Service) checkHeight(id string, target uint32, task func()) {
	ctx, cancel := context.WithTimeout(context.Background(), heightTimeout)
	defer cancel()

	current, err := s.height(ctx)
	if err != nil {
		log.WithError(err).WithField("swap", id).Warn("failed to get block height")
		return
	}
	if current < target {
		log.WithField("swap", id).Debugf("block height %d, waiting for %d", current, target)
		return
	}

	s.mu.Lock()
	job, ok := s.jobs[id]
	if ok {
		s.scheduler.RemoveByReference(job)
		delete(s.jobs, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	task()
}
