package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/carelink/callsignal/internal/config"
	apperrors "github.com/carelink/callsignal/internal/errors"
	"github.com/carelink/callsignal/internal/media"
	"github.com/carelink/callsignal/internal/model"
	"github.com/carelink/callsignal/internal/poller"
	"github.com/carelink/callsignal/internal/service"
	"github.com/carelink/callsignal/internal/transport"
)

// ErrCallNoLongerActive reports an accept that arrived after the leg had
// already left the ringing state. It is an expected race outcome, not a
// failure.
var ErrCallNoLongerActive = errors.New("call is no longer active")

// ErrCallInProgress reports an attempt to start or accept a call while
// another one is already active locally.
var ErrCallInProgress = errors.New("another call is already in progress")

// CallState is the controller's local projection of where its call stands.
// It is advisory; the store's persisted status always wins on conflict.
type CallState string

const (
	StateIdle    CallState = "idle"
	StateCalling CallState = "calling"
	StateInCall  CallState = "in_call"
)

// StartOptions selects the media to capture for a call.
type StartOptions struct {
	Audio bool
	Video bool
}

// OutgoingCall reports the result of a call initiation. Legs mirrors the
// store's per-leg outcomes: some may have failed while siblings ring.
type OutgoingCall struct {
	CallType       model.CallType
	GroupSessionID *string
	Legs           []service.LegResult
}

// Controller drives one call at a time for a single local user: media
// first, then signaling, then peer transport. Every exit path funnels
// through the same cleanup so no tracks, tickers or transport sessions
// outlive the call.
type Controller struct {
	store     StoreClient
	acquirer  media.Acquirer
	transport transport.Transport
	userID    string

	pollInterval     time.Duration
	failureThreshold int

	// OnPeerStatus receives reconciliation events for outgoing legs.
	OnPeerStatus func(leg model.CallSession)
	// OnRemoteEnded fires when the far side ends or rejects and local
	// cleanup has run.
	OnRemoteEnded func()

	mu      sync.Mutex
	state   CallState
	current *activeCall
}

type activeCall struct {
	callType       model.CallType
	legID          string
	groupSessionID *string
	info           model.CallInfo

	stream  *media.Stream
	session transport.Session
	poller  *poller.CallerPoller

	connectedAt time.Time

	endOnce sync.Once
}

func NewController(store StoreClient, acquirer media.Acquirer, tr transport.Transport, userID string, pollInterval time.Duration, failureThreshold int) *Controller {
	if failureThreshold <= 0 {
		failureThreshold = config.PollFailureThreshold
	}
	return &Controller{
		store:            store,
		acquirer:         acquirer,
		transport:        tr,
		userID:           userID,
		pollInterval:     pollInterval,
		failureThreshold: failureThreshold,
		state:            StateIdle,
	}
}

// State reports the local projection. In-flight transitions settle within
// one poll interval of the store's answer.
func (c *Controller) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Info describes the current call, or nil when idle.
func (c *Controller) Info() model.CallInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	return c.current.info
}

// Duration reports elapsed connected time. Zero until the peer transport
// actually connects; acceptance alone starts nothing.
func (c *Controller) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.current.connectedAt.IsZero() {
		return 0
	}
	return time.Since(c.current.connectedAt)
}

// StartCall initiates a call to one or more callees. Media is acquired
// before anything touches the store, so a dead camera fails fast with the
// specific device error and no signaling state to unwind. The transport
// bootstraps eagerly as initiator while the callees are still ringing.
func (c *Controller) StartCall(ctx context.Context, calleeIDs []string, opts StartOptions) (*OutgoingCall, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return nil, ErrCallInProgress
	}
	c.state = StateCalling
	c.mu.Unlock()

	stream, err := c.acquirer.Acquire(ctx, media.Constraints{Audio: opts.Audio, Video: opts.Video})
	if err != nil {
		c.resetToIdle()
		return nil, err
	}

	result, err := c.store.CreateCall(ctx, service.CreateCallParams{
		CallerID:  c.userID,
		CalleeIDs: calleeIDs,
	})
	if err != nil {
		stream.Close()
		c.resetToIdle()
		return nil, err
	}

	legIDs := make([]string, 0, len(result.Legs))
	for _, leg := range result.Legs {
		if leg.LegID != "" {
			legIDs = append(legIDs, leg.LegID)
		}
	}

	sessionKey := legIDs[0]
	if result.GroupSessionID != nil {
		sessionKey = *result.GroupSessionID
	}

	session, err := c.transport.Bootstrap(ctx, sessionKey, transport.RoleInitiator)
	if err != nil {
		stream.Close()
		c.resetToIdle()
		// Callees are still ringing against a call that can never
		// connect; withdraw it.
		for _, legID := range legIDs {
			if _, endErr := c.store.EndCall(context.WithoutCancel(ctx), legID, c.userID); endErr != nil {
				log.Warn().Err(endErr).Str("legId", legID).Msg("failed to withdraw leg after transport failure")
			}
		}
		return nil, err
	}

	call := &activeCall{
		callType:       result.CallType,
		legID:          legIDs[0],
		groupSessionID: result.GroupSessionID,
		stream:         stream,
		session:        session,
	}
	if result.CallType == model.CallTypeGroup {
		call.info = model.GroupInfo{GroupSessionID: *result.GroupSessionID}
	} else {
		call.info = model.DirectInfo{LegID: legIDs[0], Peer: result.Legs[0].CalleeID}
	}

	session.OnConnected(func() { c.markConnected(call) })
	session.OnDisconnected(func() { c.endLocal(call, false) })

	p := poller.NewCallerPoller(c.store, legIDs, c.pollInterval, c.failureThreshold)
	p.OnStatusChange = func(leg model.CallSession) { c.reconcile(call, leg) }
	p.OnLegGone = func(legID string) {
		c.reconcile(call, model.CallSession{ID: legID, Status: model.StatusEnded})
	}
	call.poller = p

	c.mu.Lock()
	c.current = call
	c.mu.Unlock()

	p.Start(ctx)

	return &OutgoingCall{
		CallType:       result.CallType,
		GroupSessionID: result.GroupSessionID,
		Legs:           result.Legs,
	}, nil
}

// Accept answers a ringing leg. When the accept loses against a concurrent
// cancellation or timeout, the result is ErrCallNoLongerActive and no call
// is established; media acquired for the attempt is released.
func (c *Controller) Accept(ctx context.Context, legID string, opts StartOptions) (model.CallInfo, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return nil, ErrCallInProgress
	}
	c.state = StateCalling
	c.mu.Unlock()

	stream, err := c.acquirer.Acquire(ctx, media.Constraints{Audio: opts.Audio, Video: opts.Video})
	if err != nil {
		c.resetToIdle()
		return nil, err
	}

	result, err := c.store.AcceptCall(ctx, legID, c.userID)
	if err != nil {
		stream.Close()
		c.resetToIdle()
		return nil, err
	}
	if !result.Active {
		stream.Close()
		c.resetToIdle()
		return nil, ErrCallNoLongerActive
	}

	sessionKey := result.LegID
	if result.GroupSessionID != nil {
		sessionKey = *result.GroupSessionID
	}

	session, err := c.transport.Bootstrap(ctx, sessionKey, transport.RoleJoiner)
	if err != nil {
		stream.Close()
		if _, endErr := c.store.EndCall(context.WithoutCancel(ctx), result.LegID, c.userID); endErr != nil {
			log.Warn().Err(endErr).Str("legId", result.LegID).Msg("failed to end leg after transport failure")
		}
		c.resetToIdle()
		return nil, err
	}

	call := &activeCall{
		legID:          result.LegID,
		groupSessionID: result.GroupSessionID,
		stream:         stream,
		session:        session,
	}
	if result.GroupSessionID != nil {
		call.callType = model.CallTypeGroup
		call.info = model.GroupInfo{
			GroupSessionID: *result.GroupSessionID,
			Participants:   result.Roster,
		}
	} else {
		call.callType = model.CallTypeDirect
		call.info = model.DirectInfo{LegID: result.LegID, Peer: result.CallerID}
	}

	session.OnConnected(func() { c.markConnected(call) })
	session.OnDisconnected(func() { c.endLocal(call, false) })

	c.mu.Lock()
	c.current = call
	c.state = StateInCall
	c.mu.Unlock()

	return call.info, nil
}

// Reject declines a ringing leg. No local call state is created, so there
// is nothing to clean up beyond the store transition; a leg that already
// settled rejects as a no-op.
func (c *Controller) Reject(ctx context.Context, legID string) error {
	_, err := c.store.RejectCall(ctx, legID, c.userID)
	return err
}

// End hangs up the current call. It is the universal cancellation
// primitive: idempotent, safe to call concurrently with remote teardown,
// and it always runs full local cleanup even when the store is
// unreachable.
func (c *Controller) End(ctx context.Context) error {
	c.mu.Lock()
	call := c.current
	c.mu.Unlock()

	if call == nil {
		return nil
	}

	var storeErr error
	call.endOnce.Do(func() {
		storeErr = c.endInStore(ctx, call)
		c.cleanup(call)
	})
	return storeErr
}

// RefreshRoster re-resolves group participants from the store. Direct
// calls return nil.
func (c *Controller) RefreshRoster(ctx context.Context) ([]model.RosterMember, error) {
	c.mu.Lock()
	call := c.current
	c.mu.Unlock()

	if call == nil || call.groupSessionID == nil {
		return nil, nil
	}

	roster, err := c.store.Roster(ctx, *call.groupSessionID, c.userID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.current == call {
		call.info = model.GroupInfo{GroupSessionID: *call.groupSessionID, Participants: roster}
	}
	c.mu.Unlock()

	return roster, nil
}

func (c *Controller) endInStore(ctx context.Context, call *activeCall) error {
	// Cleanup must run even when the caller's context is already gone.
	ctx = context.WithoutCancel(ctx)

	var err error
	if call.callType == model.CallTypeGroup && call.groupSessionID != nil {
		_, err = c.store.EndGroupCall(ctx, *call.groupSessionID, c.userID)
	} else {
		_, err = c.store.EndCall(ctx, call.legID, c.userID)
	}
	if err != nil && apperrors.GetCode(err) != apperrors.ErrCodeNotFound {
		log.Warn().Err(err).Str("legId", call.legID).Msg("end call signaling failed")
		return err
	}
	return nil
}

// endLocal tears the call down without asking the store to transition,
// used when the far side already ended it.
func (c *Controller) endLocal(call *activeCall, endInStore bool) {
	call.endOnce.Do(func() {
		if endInStore {
			_ = c.endInStore(context.Background(), call)
		}
		c.cleanup(call)
		if c.OnRemoteEnded != nil {
			c.OnRemoteEnded()
		}
	})
}

// cleanup releases everything the call holds. Runs exactly once per call
// via endOnce; after it returns there are no live tracks, pollers or
// transport sessions.
func (c *Controller) cleanup(call *activeCall) {
	// Shutdown, not Stop: cleanup may be running on the poller's own
	// goroutine when a reconcile event triggered the teardown.
	if call.poller != nil {
		call.poller.Shutdown()
	}
	if call.session != nil {
		if err := call.session.Close(); err != nil {
			log.Warn().Err(err).Msg("transport session close failed")
		}
	}
	if call.stream != nil {
		call.stream.Close()
	}

	c.mu.Lock()
	if c.current == call {
		c.current = nil
		c.state = StateIdle
	}
	c.mu.Unlock()
}

func (c *Controller) markConnected(call *activeCall) {
	c.mu.Lock()
	if c.current == call && call.connectedAt.IsZero() {
		call.connectedAt = time.Now()
		c.state = StateInCall
	}
	c.mu.Unlock()
}

// reconcile folds a polled store status into local state. The store's
// answer always wins: optimistic local state is corrected, not defended.
func (c *Controller) reconcile(call *activeCall, leg model.CallSession) {
	if c.OnPeerStatus != nil {
		c.OnPeerStatus(leg)
	}

	switch leg.Status {
	case model.StatusAccepted:
		c.mu.Lock()
		if c.current == call && c.state == StateCalling {
			c.state = StateInCall
		}
		c.mu.Unlock()
	case model.StatusRejected, model.StatusMissed, model.StatusEnded:
		if call.callType == model.CallTypeDirect {
			c.endLocal(call, false)
		} else {
			c.maybeEndGroup(call)
		}
	}
}

// maybeEndGroup ends the local group call only when no leg remains ringing
// or accepted; one callee declining must not tear down the call for the
// rest.
func (c *Controller) maybeEndGroup(call *activeCall) {
	if call.groupSessionID == nil {
		return
	}

	roster, err := c.store.Roster(context.Background(), *call.groupSessionID, c.userID)
	if err != nil {
		log.Warn().Err(err).Msg("roster check after leg settled failed")
		return
	}
	if len(roster) > 0 {
		return
	}

	legs, err := c.store.ListOutgoing(context.Background(), c.userID)
	if err != nil {
		log.Warn().Err(err).Msg("outgoing check after leg settled failed")
		return
	}
	for _, leg := range legs {
		if leg.GroupSessionID != nil && *leg.GroupSessionID == *call.groupSessionID &&
			leg.Status == model.StatusRinging {
			return
		}
	}

	c.endLocal(call, false)
}

func (c *Controller) resetToIdle() {
	c.mu.Lock()
	if c.current == nil {
		c.state = StateIdle
	}
	c.mu.Unlock()
}
