// Package poller reconciles client call state against the store by
// fixed-interval polling. Pollers never mutate the store; they only
// observe and emit events.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/carelink/callsignal/internal/model"
)

// IncomingLister is the slice of the store API the callee poller needs.
type IncomingLister interface {
	ListIncoming(ctx context.Context, calleeID string) ([]model.CallSession, error)
}

// CalleePoller watches for ringing legs addressed to one user. Each leg id
// produces at most one OnIncoming event; when several legs ring at once the
// later ones wait until the notified one is answered or withdrawn, so the
// user is only ever looking at one incoming-call prompt.
type CalleePoller struct {
	store            IncomingLister
	calleeID         string
	interval         time.Duration
	failureThreshold int

	OnIncoming  func(leg model.CallSession)
	OnWithdrawn func(legID string)
	OnUnhealthy func(err error)

	mu       sync.Mutex
	seen     map[string]bool
	activeID string
	failures int
	sick     bool

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewCalleePoller(store IncomingLister, calleeID string, interval time.Duration, failureThreshold int) *CalleePoller {
	return &CalleePoller{
		store:            store,
		calleeID:         calleeID,
		interval:         interval,
		failureThreshold: failureThreshold,
		seen:             make(map[string]bool),
		done:             make(chan struct{}),
	}
}

func (p *CalleePoller) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.run(ctx)
}

// Stop halts polling. A tick in flight finishes first; after Stop returns
// no further event fires. Safe to call more than once.
func (p *CalleePoller) Stop() {
	p.Shutdown()
	p.wg.Wait()
}

// Shutdown signals the poller to stop without waiting for the in-flight
// tick. Unlike Stop it is safe to call from inside a poller callback.
func (p *CalleePoller) Shutdown() {
	p.stopOnce.Do(func() {
		close(p.done)
	})
}

func (p *CalleePoller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick(ctx)

	for {
		select {
		case <-p.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *CalleePoller) tick(ctx context.Context) {
	legs, err := p.store.ListIncoming(ctx, p.calleeID)
	if err != nil {
		p.recordFailure(err)
		return
	}
	p.recordSuccess()

	ringing := make(map[string]bool, len(legs))
	for _, leg := range legs {
		ringing[leg.ID] = true
	}

	p.mu.Lock()
	var withdrawn string
	if p.activeID != "" && !ringing[p.activeID] {
		withdrawn = p.activeID
		p.activeID = ""
	}

	var next *model.CallSession
	if p.activeID == "" {
		for i := range legs {
			if !p.seen[legs[i].ID] {
				next = &legs[i]
				p.seen[next.ID] = true
				p.activeID = next.ID
				break
			}
		}
	}
	p.mu.Unlock()

	if withdrawn != "" && p.OnWithdrawn != nil {
		p.OnWithdrawn(withdrawn)
	}
	if next != nil && p.OnIncoming != nil {
		p.OnIncoming(*next)
	}
}

// ClearActive releases the notification slot after the user answered or
// dismissed the prompt, letting the next queued leg through on the
// following tick.
func (p *CalleePoller) ClearActive(legID string) {
	p.mu.Lock()
	if p.activeID == legID {
		p.activeID = ""
	}
	p.mu.Unlock()
}

func (p *CalleePoller) recordFailure(err error) {
	p.mu.Lock()
	p.failures++
	crossed := p.failures >= p.failureThreshold && !p.sick
	if crossed {
		p.sick = true
	}
	p.mu.Unlock()

	log.Warn().Err(err).Str("calleeId", p.calleeID).Msg("incoming call poll failed")
	if crossed && p.OnUnhealthy != nil {
		p.OnUnhealthy(err)
	}
}

func (p *CalleePoller) recordSuccess() {
	p.mu.Lock()
	p.failures = 0
	p.sick = false
	p.mu.Unlock()
}
