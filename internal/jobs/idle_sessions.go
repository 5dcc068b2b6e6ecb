package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// IdleEnder is the part of *sessions.Manager the reaper drives.
type IdleEnder interface {
	EndIdle(ctx context.Context, maxIdle time.Duration) int
}

// IdleSessionReaper ends recovery sessions abandoned by their operator.
// Ending them records the outcome and frees the session slot.
type IdleSessionReaper struct {
	sessions IdleEnder
	maxIdle  time.Duration
	interval time.Duration
	log      logrus.FieldLogger
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewIdleSessionReaper creates the job. interval defaults to a tenth of
// maxIdle, and at least one second.
func NewIdleSessionReaper(s IdleEnder, maxIdle, interval time.Duration, log logrus.FieldLogger) *IdleSessionReaper {
	if interval <= 0 {
		interval = maxIdle / 10
	}
	if interval < time.Second {
		interval = time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &IdleSessionReaper{
		sessions: s,
		maxIdle:  maxIdle,
		interval: interval,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background job.
func (j *IdleSessionReaper) Start() {
	j.wg.Add(1)
	go j.run()
	j.log.Infof("idle reaper: started (max idle %v, interval %v)", j.maxIdle, j.interval)
}

// Stop stops the job and waits for a sweep in progress. Safe to call twice.
func (j *IdleSessionReaper) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
	j.wg.Wait()
}

func (j *IdleSessionReaper) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.sweep()
		case <-j.stopCh:
			return
		}
	}
}

func (j *IdleSessionReaper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if n := j.sessions.EndIdle(ctx, j.maxIdle); n > 0 {
		j.log.Infof("idle reaper: ended %d idle sessions", n)
	}
}
