package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/carelink/callsignal/internal/model"
)

// MemoryCallSessionRepository is an in-memory store backend for tests and
// local development. The mutex makes each transition atomic, mirroring the
// guarded UPDATE of the postgres backend and the Lua script of the redis
// backend: concurrent accept/end still resolves to a single persisted
// status.
type MemoryCallSessionRepository struct {
	mu   sync.Mutex
	legs map[string]*model.CallSession

	// FailCreateFor makes Create fail for the given callee ids, so tests
	// can exercise per-leg fan-out failures.
	FailCreateFor map[string]error
}

func NewMemoryCallSessionRepository() *MemoryCallSessionRepository {
	return &MemoryCallSessionRepository{
		legs: make(map[string]*model.CallSession),
	}
}

func (r *MemoryCallSessionRepository) WithTx(tx *sqlx.Tx) CallSessionRepository {
	return r
}

func (r *MemoryCallSessionRepository) Create(ctx context.Context, params model.CreateCallLegParams) (*model.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err, ok := r.FailCreateFor[params.CalleeID]; ok {
		return nil, err
	}

	now := time.Now()
	leg := &model.CallSession{
		ID:             uuid.NewString(),
		CallerID:       params.CallerID,
		CalleeID:       params.CalleeID,
		CallType:       params.CallType,
		GroupSessionID: params.GroupSessionID,
		ConversationID: params.ConversationID,
		Status:         model.StatusRinging,
		CreatedAt:      now,
		LastUpdatedAt:  now,
	}
	r.legs[leg.ID] = leg

	copied := *leg
	return &copied, nil
}

func (r *MemoryCallSessionRepository) FindByID(ctx context.Context, id string) (*model.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	leg, ok := r.legs[id]
	if !ok {
		return nil, nil
	}
	copied := *leg
	return &copied, nil
}

func (r *MemoryCallSessionRepository) FindRingingByCallee(ctx context.Context, calleeID string) ([]model.CallSession, error) {
	return r.filter(func(leg *model.CallSession) bool {
		return leg.CalleeID == calleeID && leg.Status == model.StatusRinging
	}), nil
}

func (r *MemoryCallSessionRepository) FindActiveByCaller(ctx context.Context, callerID string) ([]model.CallSession, error) {
	horizon := time.Now().Add(-time.Minute)
	return r.filter(func(leg *model.CallSession) bool {
		if leg.CallerID != callerID {
			return false
		}
		return leg.Status == model.StatusRinging || leg.Status == model.StatusAccepted || leg.LastUpdatedAt.After(horizon)
	}), nil
}

func (r *MemoryCallSessionRepository) FindByGroupID(ctx context.Context, groupSessionID string) ([]model.CallSession, error) {
	return r.filter(func(leg *model.CallSession) bool {
		return leg.GroupSessionID != nil && *leg.GroupSessionID == groupSessionID
	}), nil
}

func (r *MemoryCallSessionRepository) UpdateStatus(ctx context.Context, legID string, action model.TransitionAction, actorID string) (model.CallStatus, bool, error) {
	target, ok := action.TargetStatus()
	if !ok {
		return "", false, errors.New("unknown transition action")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	leg, found := r.legs[legID]
	if !found {
		return "", false, ErrLegNotFound
	}

	allowed := false
	for _, source := range transitionSources(action) {
		if string(leg.Status) == source {
			allowed = true
			break
		}
	}
	if !allowed {
		return leg.Status, false, nil
	}

	leg.Status = target
	leg.LastUpdatedAt = time.Now()
	return leg.Status, true, nil
}

func (r *MemoryCallSessionRepository) MarkRingingMissedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for _, leg := range r.legs {
		if leg.Status == model.StatusRinging && leg.CreatedAt.Before(cutoff) {
			leg.Status = model.StatusMissed
			leg.LastUpdatedAt = time.Now()
			count++
		}
	}
	return count, nil
}

func (r *MemoryCallSessionRepository) filter(pred func(*model.CallSession) bool) []model.CallSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	legs := []model.CallSession{}
	for _, leg := range r.legs {
		if pred(leg) {
			legs = append(legs, *leg)
		}
	}
	sort.Slice(legs, func(i, j int) bool {
		return legs[i].CreatedAt.Before(legs[j].CreatedAt)
	})
	return legs
}
