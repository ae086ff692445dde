package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nolongerevil/state-server-go/internal/config"
)

// Sweeper deletes expired rows and reports how many went away.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// SweepJob runs every registered sweeper once at start and then on each tick.
// A failing sweeper is logged and retried on the next tick.
type SweepJob struct {
	tasks    []sweepTask
	interval time.Duration
	timeout  time.Duration
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

type sweepTask struct {
	name string
	fn   func(context.Context) (int64, error)
}

func NewSweepJob(interval time.Duration) *SweepJob {
	return &SweepJob{
		interval: interval,
		timeout:  config.SweepRunTimeout,
		done:     make(chan struct{}),
	}
}

// Register adds a sweeper under name. It must be called before Start.
func (j *SweepJob) Register(name string, s Sweeper) *SweepJob {
	j.tasks = append(j.tasks, sweepTask{name: name, fn: s.Sweep})
	return j
}

func (j *SweepJob) Start() {
	j.wg.Add(1)
	go j.run()
	log.Info().Dur("interval", j.interval).Int("tasks", len(j.tasks)).Msg("sweep job started")
}

// Stop signals the loop and waits for an in-flight pass to finish.
func (j *SweepJob) Stop() {
	j.stopOnce.Do(func() {
		close(j.done)
		j.wg.Wait()
		log.Info().Msg("sweep job stopped")
	})
}

func (j *SweepJob) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.sweep()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *SweepJob) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	for _, task := range j.tasks {
		j.runSweep(ctx, task.name, task.fn)
	}
}

func (j *SweepJob) runSweep(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to sweep %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("swept %s", name)
	}
}
