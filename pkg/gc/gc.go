// Package gc runs the scheduled deletion of deprecated versions.
package gc

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/cuemby/hutch/pkg/errdefs"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/storage"
)

// Job sweeps old versions on a cron schedule, retaining the configured
// number of newest versions per domain (the active one always survives).
type Job struct {
	index      *storage.Index
	spec       string
	maxReserve int
	cron       *cron.Cron
	logger     zerolog.Logger
}

// New builds the job; the schedule is a standard five-field cron spec.
func New(index *storage.Index, spec string, maxReserve int) *Job {
	return &Job{
		index:      index,
		spec:       spec,
		maxReserve: maxReserve,
		cron:       cron.New(),
		logger:     log.WithComponent("gc"),
	}
}

// Start registers the schedule and begins running sweeps in the
// background.
func (j *Job) Start() error {
	if _, err := j.cron.AddFunc(j.spec, j.Run); err != nil {
		return errdefs.ErrFatal.New("gc schedule %q: %v", j.spec, err)
	}
	j.cron.Start()
	j.logger.Info().Str("cron", j.spec).Int("max_reserve", j.maxReserve).Msg("version gc scheduled")
	return nil
}

// Run performs one sweep. Exported so the admin API and tests can force
// a sweep without waiting for the schedule.
func (j *Job) Run() {
	deleted := j.index.DeleteOldAll(j.maxReserve)
	j.logger.Info().Int("deleted", deleted).Msg("version gc sweep finished")
}

// Stop cancels the schedule. Running sweeps finish.
func (j *Job) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}
