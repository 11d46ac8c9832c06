package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/carelink/callsignal/internal/model"
)

// ErrLegNotFound is returned by UpdateStatus when the leg does not exist.
var ErrLegNotFound = errors.New("call leg not found")

// CallSessionRepository is the single source of truth for leg status. The
// monotonic state machine is enforced here, at the store, so that two
// participants racing to mutate the same leg resolve to exactly one
// persisted outcome.
type CallSessionRepository interface {
	Create(ctx context.Context, params model.CreateCallLegParams) (*model.CallSession, error)
	FindByID(ctx context.Context, id string) (*model.CallSession, error)
	// FindRingingByCallee returns the legs currently ringing for a callee,
	// oldest first.
	FindRingingByCallee(ctx context.Context, calleeID string) ([]model.CallSession, error)
	// FindActiveByCaller returns the caller's legs that have not reached a
	// terminal state, plus legs that became terminal within the last poll
	// horizon so the caller-side poller can observe the final transition.
	FindActiveByCaller(ctx context.Context, callerID string) ([]model.CallSession, error)
	FindByGroupID(ctx context.Context, groupSessionID string) ([]model.CallSession, error)
	// UpdateStatus applies action to the leg if the state machine allows it.
	// It returns the status persisted after the attempt and whether this
	// call performed the transition. A lost race or an already-terminal leg
	// is (currentStatus, false, nil), never an error.
	UpdateStatus(ctx context.Context, legID string, action model.TransitionAction, actorID string) (model.CallStatus, bool, error)
	// MarkRingingMissedBefore moves legs still ringing since before cutoff
	// to missed. Used by the ring-timeout sweep.
	MarkRingingMissedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// WithTx returns a repository bound to the given transaction. Backends
	// without transactions return themselves; their transitions are atomic
	// on their own.
	WithTx(tx *sqlx.Tx) CallSessionRepository
}

// callSessionDB is satisfied by both *sqlx.DB and *sqlx.Tx
type callSessionDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type callSessionRepo struct {
	db callSessionDB
}

func NewCallSessionRepository(db *sqlx.DB) CallSessionRepository {
	return &callSessionRepo{db: db}
}

func (r *callSessionRepo) WithTx(tx *sqlx.Tx) CallSessionRepository {
	return &callSessionRepo{db: tx}
}

func (r *callSessionRepo) Create(ctx context.Context, params model.CreateCallLegParams) (*model.CallSession, error) {
	var leg model.CallSession
	err := r.db.GetContext(ctx, &leg, `
		INSERT INTO call_sessions
			(id, caller_id, callee_id, call_type, group_session_id, conversation_id, status, created_at, last_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'ringing', NOW(), NOW())
		RETURNING *
	`, uuid.NewString(), params.CallerID, params.CalleeID, params.CallType, params.GroupSessionID, params.ConversationID)
	if err != nil {
		return nil, err
	}
	return &leg, nil
}

func (r *callSessionRepo) FindByID(ctx context.Context, id string) (*model.CallSession, error) {
	var leg model.CallSession
	err := r.db.GetContext(ctx, &leg, `
		SELECT * FROM call_sessions WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &leg, nil
}

func (r *callSessionRepo) FindRingingByCallee(ctx context.Context, calleeID string) ([]model.CallSession, error) {
	legs := []model.CallSession{}
	err := r.db.SelectContext(ctx, &legs, `
		SELECT * FROM call_sessions
		WHERE callee_id = $1 AND status = 'ringing'
		ORDER BY created_at ASC
	`, calleeID)
	if err != nil {
		return nil, err
	}
	return legs, nil
}

func (r *callSessionRepo) FindActiveByCaller(ctx context.Context, callerID string) ([]model.CallSession, error) {
	legs := []model.CallSession{}
	err := r.db.SelectContext(ctx, &legs, `
		SELECT * FROM call_sessions
		WHERE caller_id = $1
		AND (status IN ('ringing', 'accepted') OR last_updated_at > NOW() - INTERVAL '1 minute')
		ORDER BY created_at ASC
	`, callerID)
	if err != nil {
		return nil, err
	}
	return legs, nil
}

func (r *callSessionRepo) FindByGroupID(ctx context.Context, groupSessionID string) ([]model.CallSession, error) {
	legs := []model.CallSession{}
	err := r.db.SelectContext(ctx, &legs, `
		SELECT * FROM call_sessions
		WHERE group_session_id = $1
		ORDER BY created_at ASC
	`, groupSessionID)
	if err != nil {
		return nil, err
	}
	return legs, nil
}

// transitionSources maps an action to the statuses it may be applied from.
// This mirrors model.CanTransition but expressed as SQL guard values.
func transitionSources(action model.TransitionAction) []string {
	switch action {
	case model.ActionAccept, model.ActionReject, model.ActionMiss:
		return []string{string(model.StatusRinging)}
	case model.ActionEnd:
		return []string{
			string(model.StatusRinging), string(model.StatusAccepted),
			string(model.StatusRejected), string(model.StatusMissed),
		}
	}
	return nil
}

func (r *callSessionRepo) UpdateStatus(ctx context.Context, legID string, action model.TransitionAction, actorID string) (model.CallStatus, bool, error) {
	target, ok := action.TargetStatus()
	if !ok {
		return "", false, errors.New("unknown transition action")
	}

	var status model.CallStatus
	err := r.db.GetContext(ctx, &status, `
		UPDATE call_sessions
		SET status = $2, last_updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
		RETURNING status
	`, legID, target, pq.Array(transitionSources(action)))
	if err == nil {
		return status, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", false, err
	}

	// Guard did not match: the other side won the race or the leg is
	// already terminal. The persisted status is authoritative for both.
	err = r.db.GetContext(ctx, &status, `
		SELECT status FROM call_sessions WHERE id = $1
	`, legID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, ErrLegNotFound
	}
	if err != nil {
		return "", false, err
	}
	return status, false, nil
}

func (r *callSessionRepo) MarkRingingMissedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE call_sessions
		SET status = 'missed', last_updated_at = NOW()
		WHERE status = 'ringing' AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
