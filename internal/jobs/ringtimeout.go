package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/carelink/callsignal/internal/audit"
	"github.com/carelink/callsignal/internal/repository"
)

// RingTimeoutJob sweeps ringing call legs that have been waiting longer
// than the ring timeout and marks them missed. Legs that transition
// concurrently (accepted or ended between the query and the update) are
// skipped by the store's guarded update.
type RingTimeoutJob struct {
	callRepo    repository.CallSessionRepository
	ringTimeout time.Duration
	interval    time.Duration
	done        chan struct{}
}

func NewRingTimeoutJob(callRepo repository.CallSessionRepository, ringTimeout, interval time.Duration) *RingTimeoutJob {
	return &RingTimeoutJob{
		callRepo:    callRepo,
		ringTimeout: ringTimeout,
		interval:    interval,
		done:        make(chan struct{}),
	}
}

func (j *RingTimeoutJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Dur("ring_timeout", j.ringTimeout).Msg("ring timeout job started")
}

func (j *RingTimeoutJob) Stop() {
	close(j.done)
	log.Info().Msg("ring timeout job stopped")
}

func (j *RingTimeoutJob) run() {
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

func (j *RingTimeoutJob) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-j.ringTimeout)
	count, err := j.callRepo.MarkRingingMissedBefore(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("failed to sweep ringing calls")
		return
	}
	if count > 0 {
		audit.Log(ctx, audit.Event{
			Type:    audit.EventCallMissed,
			Details: map[string]any{"count": count},
		})
		log.Info().Int64("count", count).Msg("marked unanswered calls missed")
	}
}
