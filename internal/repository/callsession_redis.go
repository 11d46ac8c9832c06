package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/carelink/callsignal/internal/model"
	"github.com/carelink/callsignal/internal/redis"
)

// transitionScript applies a guarded status transition to one leg hash and
// keeps the ringing indexes in sync. Running it as a single EVAL makes the
// accept/end race resolve to exactly one persisted outcome, same as the
// guarded UPDATE on postgres.
//
// KEYS[1] leg hash, KEYS[2] callee ringing set, KEYS[3] ringing zset
// ARGV[1] target status, ARGV[2] comma-joined allowed source statuses,
// ARGV[3] now (RFC3339Nano), ARGV[4] leg id
// Returns {1, status} when applied, {0, status} when the guard failed,
// {-1, ''} when the leg does not exist.
var transitionScript = goredis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
    return {-1, ''}
end

local allowed = false
for source in string.gmatch(ARGV[2], '[^,]+') do
    if status == source then
        allowed = true
    end
end

if not allowed then
    return {0, status}
end

redis.call('HSET', KEYS[1], 'status', ARGV[1], 'last_updated_at', ARGV[3])
if status == 'ringing' then
    redis.call('SREM', KEYS[2], ARGV[4])
    redis.call('ZREM', KEYS[3], ARGV[4])
end

return {1, ARGV[1]}
`)

type redisCallSessionRepo struct {
	client *redis.Client
}

// NewRedisCallSessionRepository returns a CallSessionRepository backed by
// redis hashes and index sets instead of postgres rows.
func NewRedisCallSessionRepository(client *redis.Client) CallSessionRepository {
	return &redisCallSessionRepo{client: client}
}

// WithTx is a no-op for redis: every transition is a single atomic script.
func (r *redisCallSessionRepo) WithTx(tx *sqlx.Tx) CallSessionRepository {
	return r
}

func (r *redisCallSessionRepo) Create(ctx context.Context, params model.CreateCallLegParams) (*model.CallSession, error) {
	now := time.Now().UTC()
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

	fields := map[string]any{
		"id":              leg.ID,
		"caller_id":       leg.CallerID,
		"callee_id":       leg.CalleeID,
		"call_type":       string(leg.CallType),
		"status":          string(leg.Status),
		"created_at":      now.Format(time.RFC3339Nano),
		"last_updated_at": now.Format(time.RFC3339Nano),
	}
	if leg.GroupSessionID != nil {
		fields["group_session_id"] = *leg.GroupSessionID
	}
	if leg.ConversationID != nil {
		fields["conversation_id"] = *leg.ConversationID
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, redis.LegKey(leg.ID), fields)
	pipe.SAdd(ctx, redis.CalleeRingingKey(leg.CalleeID), leg.ID)
	pipe.SAdd(ctx, redis.CallerLegsKey(leg.CallerID), leg.ID)
	pipe.ZAdd(ctx, redis.RingingIndexKey(), goredis.Z{Score: float64(now.Unix()), Member: leg.ID})
	if leg.GroupSessionID != nil {
		pipe.SAdd(ctx, redis.GroupKey(*leg.GroupSessionID), leg.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("create call leg: %w", err)
	}

	return leg, nil
}

func (r *redisCallSessionRepo) FindByID(ctx context.Context, id string) (*model.CallSession, error) {
	fields, err := r.client.HGetAll(ctx, redis.LegKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return legFromHash(fields)
}

func (r *redisCallSessionRepo) FindRingingByCallee(ctx context.Context, calleeID string) ([]model.CallSession, error) {
	legs, err := r.loadSet(ctx, redis.CalleeRingingKey(calleeID))
	if err != nil {
		return nil, err
	}
	ringing := legs[:0]
	for _, leg := range legs {
		if leg.Status == model.StatusRinging {
			ringing = append(ringing, leg)
		}
	}
	return ringing, nil
}

func (r *redisCallSessionRepo) FindActiveByCaller(ctx context.Context, callerID string) ([]model.CallSession, error) {
	legs, err := r.loadSet(ctx, redis.CallerLegsKey(callerID))
	if err != nil {
		return nil, err
	}
	horizon := time.Now().Add(-time.Minute)
	active := legs[:0]
	for _, leg := range legs {
		if leg.Status == model.StatusRinging || leg.Status == model.StatusAccepted || leg.LastUpdatedAt.After(horizon) {
			active = append(active, leg)
		}
	}
	return active, nil
}

func (r *redisCallSessionRepo) FindByGroupID(ctx context.Context, groupSessionID string) ([]model.CallSession, error) {
	return r.loadSet(ctx, redis.GroupKey(groupSessionID))
}

func (r *redisCallSessionRepo) UpdateStatus(ctx context.Context, legID string, action model.TransitionAction, actorID string) (model.CallStatus, bool, error) {
	target, ok := action.TargetStatus()
	if !ok {
		return "", false, errors.New("unknown transition action")
	}

	leg, err := r.FindByID(ctx, legID)
	if err != nil {
		return "", false, err
	}
	if leg == nil {
		return "", false, ErrLegNotFound
	}

	keys := []string{
		redis.LegKey(legID),
		redis.CalleeRingingKey(leg.CalleeID),
		redis.RingingIndexKey(),
	}
	args := []any{
		string(target),
		strings.Join(transitionSources(action), ","),
		time.Now().UTC().Format(time.RFC3339Nano),
		legID,
	}

	result, err := transitionScript.Run(ctx, r.client.Client, keys, args...).Slice()
	if err != nil {
		return "", false, fmt.Errorf("transition script: %w", err)
	}
	if len(result) != 2 {
		return "", false, fmt.Errorf("unexpected transition script result: %v", result)
	}

	applied, _ := result[0].(int64)
	status, _ := result[1].(string)
	if applied < 0 {
		return "", false, ErrLegNotFound
	}
	return model.CallStatus(status), applied == 1, nil
}

func (r *redisCallSessionRepo) MarkRingingMissedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ids, err := r.client.ZRangeByScore(ctx, redis.RingingIndexKey(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", cutoff.Unix()),
	}).Result()
	if err != nil {
		return 0, err
	}

	var count int64
	for _, id := range ids {
		_, applied, err := r.UpdateStatus(ctx, id, model.ActionMiss, "")
		if errors.Is(err, ErrLegNotFound) {
			// Index can be ahead of an expired hash; drop the stale entry.
			r.client.ZRem(ctx, redis.RingingIndexKey(), id)
			continue
		}
		if err != nil {
			return count, err
		}
		if applied {
			count++
		}
	}
	return count, nil
}

func (r *redisCallSessionRepo) loadSet(ctx context.Context, key string) ([]model.CallSession, error) {
	ids, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	legs := make([]model.CallSession, 0, len(ids))
	for _, id := range ids {
		leg, err := r.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if leg == nil {
			log.Warn().Str("legId", id).Str("key", key).Msg("index references missing leg")
			continue
		}
		legs = append(legs, *leg)
	}

	sort.Slice(legs, func(i, j int) bool {
		return legs[i].CreatedAt.Before(legs[j].CreatedAt)
	})
	return legs, nil
}

func legFromHash(fields map[string]string) (*model.CallSession, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, fields["last_updated_at"])
	if err != nil {
		return nil, fmt.Errorf("parse last_updated_at: %w", err)
	}

	leg := &model.CallSession{
		ID:            fields["id"],
		CallerID:      fields["caller_id"],
		CalleeID:      fields["callee_id"],
		CallType:      model.CallType(fields["call_type"]),
		Status:        model.CallStatus(fields["status"]),
		CreatedAt:     createdAt,
		LastUpdatedAt: updatedAt,
	}
	if gid, ok := fields["group_session_id"]; ok && gid != "" {
		leg.GroupSessionID = &gid
	}
	if cid, ok := fields["conversation_id"]; ok && cid != "" {
		leg.ConversationID = &cid
	}
	return leg, nil
}
