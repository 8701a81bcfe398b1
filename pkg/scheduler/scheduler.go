package scheduler

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"PricePulse/pkg/logger"
)

// Job is a named unit of scheduled work.
type Job interface {
	Name() string
	Run() error
}

// Scheduler runs background jobs on cron schedules.
type Scheduler struct {
	cron *cron.Cron
	log  *logger.Logger
}

func New(log *logger.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		log:  log,
	}
}

// AddJob registers a job. Schedule uses standard 5-field cron syntax or
// descriptors like "@daily".
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.log.Info("scheduled job started", logger.String("job", job.Name()))
		if err := job.Run(); err != nil {
			s.log.Error("scheduled job failed",
				logger.String("job", job.Name()),
				logger.Error(err),
			)
			return
		}
		s.log.Info("scheduled job completed", logger.String("job", job.Name()))
	})
	if err != nil {
		return fmt.Errorf("add job %s: %w", job.Name(), err)
	}
	s.log.Info("job registered",
		logger.String("job", job.Name()),
		logger.String("schedule", schedule),
	)
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for any running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
