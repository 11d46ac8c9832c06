package poller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/carelink/callsignal/internal/errors"
	"github.com/carelink/callsignal/internal/model"
)

// StatusGetter is the slice of the store API the caller poller needs.
type StatusGetter interface {
	GetStatus(ctx context.Context, legID string) (*model.CallSession, error)
}

// CallerPoller watches the legs of one outgoing call until each leaves the
// ringing state. It emits one OnStatusChange per observed change; repeat
// reads of the same status are no-ops. Once no leg is still ringing the
// poller stops itself.
type CallerPoller struct {
	store            StatusGetter
	interval         time.Duration
	failureThreshold int

	OnStatusChange func(leg model.CallSession)
	OnLegGone      func(legID string)
	OnUnhealthy    func(err error)

	mu       sync.Mutex
	observed map[string]model.CallStatus
	failures int
	sick     bool

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewCallerPoller(store StatusGetter, legIDs []string, interval time.Duration, failureThreshold int) *CallerPoller {
	observed := make(map[string]model.CallStatus, len(legIDs))
	for _, id := range legIDs {
		observed[id] = model.StatusRinging
	}
	return &CallerPoller{
		store:            store,
		interval:         interval,
		failureThreshold: failureThreshold,
		observed:         observed,
		done:             make(chan struct{}),
	}
}

func (p *CallerPoller) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.run(ctx)
}

// Stop halts polling; a tick in flight finishes first. Idempotent.
func (p *CallerPoller) Stop() {
	p.Shutdown()
	p.wg.Wait()
}

// Shutdown signals the poller to stop without waiting for the in-flight
// tick. Unlike Stop it is safe to call from inside a poller callback.
func (p *CallerPoller) Shutdown() {
	p.stopOnce.Do(func() {
		close(p.done)
	})
}

func (p *CallerPoller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	if done := p.tick(ctx); done {
		return
	}

	for {
		select {
		case <-p.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if done := p.tick(ctx); done {
				return
			}
		}
	}
}

// tick polls every leg still in flight and reports whether the poller is
// finished.
func (p *CallerPoller) tick(ctx context.Context) bool {
	p.mu.Lock()
	inFlight := make([]string, 0, len(p.observed))
	for id, status := range p.observed {
		if status == model.StatusRinging {
			inFlight = append(inFlight, id)
		}
	}
	p.mu.Unlock()

	if len(inFlight) == 0 {
		return true
	}

	anyFailed := false
	var lastErr error
	for _, legID := range inFlight {
		leg, err := p.store.GetStatus(ctx, legID)
		if err != nil {
			if apperrors.GetCode(err) == apperrors.ErrCodeNotFound {
				p.mu.Lock()
				delete(p.observed, legID)
				p.mu.Unlock()
				if p.OnLegGone != nil {
					p.OnLegGone(legID)
				}
				continue
			}
			anyFailed = true
			lastErr = err
			continue
		}

		p.mu.Lock()
		prev := p.observed[legID]
		changed := leg.Status != prev
		if changed {
			p.observed[legID] = leg.Status
		}
		p.mu.Unlock()

		if changed && p.OnStatusChange != nil {
			p.OnStatusChange(*leg)
		}
	}

	if anyFailed {
		p.recordFailure(lastErr)
	} else {
		p.recordSuccess()
	}

	p.mu.Lock()
	remaining := 0
	for _, status := range p.observed {
		if status == model.StatusRinging {
			remaining++
		}
	}
	p.mu.Unlock()

	return remaining == 0
}

func (p *CallerPoller) recordFailure(err error) {
	p.mu.Lock()
	p.failures++
	crossed := p.failures >= p.failureThreshold && !p.sick
	if crossed {
		p.sick = true
	}
	p.mu.Unlock()

	log.Warn().Err(err).Msg("outgoing call poll failed")
	if crossed && p.OnUnhealthy != nil {
		p.OnUnhealthy(err)
	}
}

func (p *CallerPoller) recordSuccess() {
	p.mu.Lock()
	p.failures = 0
	p.sick = false
	p.mu.Unlock()
}
