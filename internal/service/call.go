package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/carelink/callsignal/internal/audit"
	apperrors "github.com/carelink/callsignal/internal/errors"
	"github.com/carelink/callsignal/internal/model"
	"github.com/carelink/callsignal/internal/repository"
)

const maxGroupCallees = 16

// LegResult reports the outcome of creating one leg of a call. A failed leg
// carries Error and an empty LegID; sibling legs are unaffected.
type LegResult struct {
	CalleeID string `json:"calleeId"`
	LegID    string `json:"legId,omitempty"`
	Error    string `json:"error,omitempty"`
}

type CreateCallParams struct {
	CallerID       string   `json:"callerId"`
	CalleeIDs      []string `json:"calleeIds"`
	ConversationID *string  `json:"conversationId,omitempty"`
}

type CreateCallResult struct {
	CallType       model.CallType `json:"callType"`
	GroupSessionID *string        `json:"groupSessionId,omitempty"`
	Legs           []LegResult    `json:"legs"`
}

// AcceptResult is returned for every accept attempt. Active=false means the
// leg was no longer ringing (caller cancelled, timed out, or a concurrent
// end won); that is an expected outcome of polling, not an error.
type AcceptResult struct {
	Active         bool                 `json:"active"`
	Status         model.CallStatus     `json:"status"`
	LegID          string               `json:"legId"`
	CallerID       string               `json:"callerId"`
	GroupSessionID *string              `json:"groupSessionId,omitempty"`
	Roster         []model.RosterMember `json:"roster,omitempty"`
}

type EndResult struct {
	Status model.CallStatus `json:"status"`
}

// TxRunner runs a function inside a store transaction. Satisfied by
// *database.DB; nil when the backend has no transactions.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

// callLimiter is satisfied by *CallRateLimiter; nil disables limiting.
type callLimiter interface {
	Allow(ctx context.Context, callerID string) (allowed bool, resetAt time.Time)
}

type CallService struct {
	repo    repository.CallSessionRepository
	tx      TxRunner
	limiter callLimiter
}

func NewCallService(repo repository.CallSessionRepository, tx TxRunner, limiter callLimiter) *CallService {
	return &CallService{
		repo:    repo,
		tx:      tx,
		limiter: limiter,
	}
}

// CreateCall fans a call initiation out into one leg per callee. One callee
// makes a direct call; more make a group call sharing a fresh group session
// id. Leg creation failures are reported per leg and do not abort siblings;
// the call as a whole fails only when no leg could be created.
func (s *CallService) CreateCall(ctx context.Context, params CreateCallParams) (*CreateCallResult, error) {
	if params.CallerID == "" {
		return nil, apperrors.MissingRequired("callerId")
	}
	callees := dedupe(params.CalleeIDs)
	if len(callees) == 0 {
		return nil, apperrors.MissingRequired("calleeIds")
	}
	if len(callees) > maxGroupCallees {
		return nil, apperrors.InvalidInput("calleeIds", fmt.Sprintf("at most %d callees per call", maxGroupCallees))
	}
	for _, callee := range callees {
		if callee == params.CallerID {
			return nil, apperrors.InvalidInput("calleeIds", "caller cannot call itself")
		}
	}

	if s.limiter != nil {
		allowed, resetAt := s.limiter.Allow(ctx, params.CallerID)
		if !allowed {
			audit.Log(ctx, audit.Event{Type: audit.EventRateLimitExceed, ActorID: params.CallerID})
			return nil, apperrors.RateLimitExceeded().WithDetails(map[string]any{
				"resetAt": resetAt.Unix(),
			})
		}
	}

	callType := model.CallTypeDirect
	var groupSessionID *string
	if len(callees) > 1 {
		callType = model.CallTypeGroup
		gid := uuid.NewString()
		groupSessionID = &gid
	}

	result := &CreateCallResult{
		CallType:       callType,
		GroupSessionID: groupSessionID,
		Legs:           make([]LegResult, 0, len(callees)),
	}

	created := 0
	for _, calleeID := range callees {
		leg, err := s.repo.Create(ctx, model.CreateCallLegParams{
			CallerID:       params.CallerID,
			CalleeID:       calleeID,
			CallType:       callType,
			GroupSessionID: groupSessionID,
			ConversationID: params.ConversationID,
		})
		if err != nil {
			log.Error().Err(err).
				Str("callerId", params.CallerID).
				Str("calleeId", calleeID).
				Msg("create call leg failed")
			result.Legs = append(result.Legs, LegResult{CalleeID: calleeID, Error: "failed to create leg"})
			continue
		}
		created++
		result.Legs = append(result.Legs, LegResult{CalleeID: calleeID, LegID: leg.ID})
	}

	if created == 0 {
		return nil, apperrors.Database(fmt.Errorf("no call leg could be created"))
	}

	audit.Log(ctx, audit.Event{
		Type:     audit.EventCallCreate,
		ActorID:  params.CallerID,
		CallType: string(callType),
		Details:  map[string]any{"legs": created, "callees": len(callees)},
	})

	log.Info().
		Str("callerId", params.CallerID).
		Str("callType", string(callType)).
		Int("legs", created).
		Msg("call created")

	return result, nil
}

// AcceptCall transitions one ringing leg to accepted on behalf of its
// callee and resolves the roster the joining client needs. A leg that is no
// longer ringing yields Active=false with the authoritative status.
func (s *CallService) AcceptCall(ctx context.Context, legID, calleeID string) (*AcceptResult, error) {
	leg, err := s.repo.FindByID(ctx, legID)
	if err != nil {
		return nil, fmt.Errorf("find leg: %w", err)
	}
	if leg == nil {
		return nil, apperrors.NotFound("Call leg")
	}
	if leg.CalleeID != calleeID {
		return nil, apperrors.NotLegOwner(legID)
	}

	status, applied, err := s.repo.UpdateStatus(ctx, legID, model.ActionAccept, calleeID)
	if err != nil {
		return nil, fmt.Errorf("accept leg: %w", err)
	}

	result := &AcceptResult{
		Active:         applied,
		Status:         status,
		LegID:          leg.ID,
		CallerID:       leg.CallerID,
		GroupSessionID: leg.GroupSessionID,
	}

	if !applied {
		log.Info().
			Str("legId", legID).
			Str("calleeId", calleeID).
			Str("status", string(status)).
			Msg("accept raced a terminal transition, call no longer active")
		return result, nil
	}

	if leg.GroupSessionID != nil {
		roster, err := s.Roster(ctx, *leg.GroupSessionID, calleeID)
		if err != nil {
			// The accept is already persisted; the client can re-resolve.
			log.Error().Err(err).Str("legId", legID).Msg("roster resolution failed after accept")
		} else {
			result.Roster = roster
		}
	}

	audit.Log(ctx, audit.Event{Type: audit.EventCallAccept, ActorID: calleeID, LegID: legID})
	log.Info().Str("legId", legID).Str("calleeId", calleeID).Msg("call accepted")

	return result, nil
}

// RejectCall transitions a ringing leg to rejected. A leg already past
// ringing is a successful no-op.
func (s *CallService) RejectCall(ctx context.Context, legID, calleeID string) (*EndResult, error) {
	leg, err := s.repo.FindByID(ctx, legID)
	if err != nil {
		return nil, fmt.Errorf("find leg: %w", err)
	}
	if leg == nil {
		return nil, apperrors.NotFound("Call leg")
	}
	if leg.CalleeID != calleeID {
		return nil, apperrors.NotLegOwner(legID)
	}

	status, applied, err := s.repo.UpdateStatus(ctx, legID, model.ActionReject, calleeID)
	if err != nil {
		return nil, fmt.Errorf("reject leg: %w", err)
	}

	if applied {
		audit.Log(ctx, audit.Event{Type: audit.EventCallReject, ActorID: calleeID, LegID: legID})
		log.Info().Str("legId", legID).Str("calleeId", calleeID).Msg("call rejected")
	}

	return &EndResult{Status: status}, nil
}

// EndCall is the universal cancellation primitive: callable by either party
// from any state, idempotent, never an error once the leg exists.
func (s *CallService) EndCall(ctx context.Context, legID, actorID string) (*EndResult, error) {
	leg, err := s.repo.FindByID(ctx, legID)
	if err != nil {
		return nil, fmt.Errorf("find leg: %w", err)
	}
	if leg == nil {
		return nil, apperrors.NotFound("Call leg")
	}
	if actorID != leg.CallerID && actorID != leg.CalleeID {
		return nil, apperrors.NotLegOwner(legID)
	}

	status, applied, err := s.repo.UpdateStatus(ctx, legID, model.ActionEnd, actorID)
	if err != nil {
		return nil, fmt.Errorf("end leg: %w", err)
	}

	if applied {
		audit.Log(ctx, audit.Event{Type: audit.EventCallEnd, ActorID: actorID, LegID: legID})
		log.Info().Str("legId", legID).Str("actorId", actorID).Msg("call ended")
	}

	return &EndResult{Status: status}, nil
}

// EndGroupCall ends every leg of a group call. On postgres the legs are
// ended in one transaction so pollers never observe a half-ended group;
// transactionless backends end leg by leg, which is safe because end is
// idempotent.
func (s *CallService) EndGroupCall(ctx context.Context, groupSessionID, actorID string) (*EndResult, error) {
	legs, err := s.repo.FindByGroupID(ctx, groupSessionID)
	if err != nil {
		return nil, fmt.Errorf("find group legs: %w", err)
	}
	if len(legs) == 0 {
		return nil, apperrors.NotFound("Group session")
	}

	member := false
	for _, leg := range legs {
		if actorID == leg.CallerID || actorID == leg.CalleeID {
			member = true
			break
		}
	}
	if !member {
		return nil, apperrors.NotLegOwner(groupSessionID)
	}

	endAll := func(repo repository.CallSessionRepository) error {
		for _, leg := range legs {
			if _, _, err := repo.UpdateStatus(ctx, leg.ID, model.ActionEnd, actorID); err != nil {
				return fmt.Errorf("end leg %s: %w", leg.ID, err)
			}
		}
		return nil
	}

	if s.tx != nil {
		err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
			return endAll(s.repo.WithTx(tx))
		})
	} else {
		err = endAll(s.repo)
	}
	if err != nil {
		return nil, err
	}

	audit.Log(ctx, audit.Event{
		Type:    audit.EventCallEnd,
		ActorID: actorID,
		Details: map[string]any{"groupSessionId": groupSessionID, "legs": len(legs)},
	})
	log.Info().Str("groupSessionId", groupSessionID).Str("actorId", actorID).Int("legs", len(legs)).Msg("group call ended")

	return &EndResult{Status: model.StatusEnded}, nil
}

// Roster resolves the participants of a group call that have already
// accepted, excluding excludeUserID, plus the caller. It is re-resolved on
// demand so late joiners show up on the next resolution.
func (s *CallService) Roster(ctx context.Context, groupSessionID, excludeUserID string) ([]model.RosterMember, error) {
	legs, err := s.repo.FindByGroupID(ctx, groupSessionID)
	if err != nil {
		return nil, fmt.Errorf("find group legs: %w", err)
	}
	if len(legs) == 0 {
		return nil, apperrors.NotFound("Group session")
	}

	roster := []model.RosterMember{}
	if callerID := legs[0].CallerID; callerID != excludeUserID {
		roster = append(roster, model.RosterMember{UserID: callerID})
	}
	for _, leg := range legs {
		if leg.Status != model.StatusAccepted || leg.CalleeID == excludeUserID {
			continue
		}
		roster = append(roster, model.RosterMember{UserID: leg.CalleeID, LegID: leg.ID})
	}
	return roster, nil
}

// GetStatus returns the authoritative leg, the caller-side poll surface for
// a single leg.
func (s *CallService) GetStatus(ctx context.Context, legID string) (*model.CallSession, error) {
	leg, err := s.repo.FindByID(ctx, legID)
	if err != nil {
		return nil, fmt.Errorf("find leg: %w", err)
	}
	if leg == nil {
		return nil, apperrors.NotFound("Call leg")
	}
	return leg, nil
}

// ListIncoming returns the legs currently ringing for a callee.
func (s *CallService) ListIncoming(ctx context.Context, calleeID string) ([]model.CallSession, error) {
	if calleeID == "" {
		return nil, apperrors.MissingRequired("calleeId")
	}
	return s.repo.FindRingingByCallee(ctx, calleeID)
}

// ListOutgoing returns the caller's in-flight legs plus recently settled
// ones, so the caller-side poller observes final transitions.
func (s *CallService) ListOutgoing(ctx context.Context, callerID string) ([]model.CallSession, error) {
	if callerID == "" {
		return nil, apperrors.MissingRequired("callerId")
	}
	return s.repo.FindActiveByCaller(ctx, callerID)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
