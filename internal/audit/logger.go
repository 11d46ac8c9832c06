package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventCallCreate      EventType = "call_create"
	EventCallAccept      EventType = "call_accept"
	EventCallReject      EventType = "call_reject"
	EventCallEnd         EventType = "call_end"
	EventCallMissed      EventType = "call_missed"
	EventRateLimitExceed EventType = "rate_limit_exceeded"
)

// Event is one entry of the call lifecycle audit trail. Every persisted
// status transition logs exactly one.
type Event struct {
	Type     EventType
	ActorID  string
	LegID    string
	CallType string
	Details  map[string]any
}

func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "calls").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.ActorID != "" {
		logger = logger.With().Str("actor_id", event.ActorID).Logger()
	}
	if event.LegID != "" {
		logger = logger.With().Str("leg_id", event.LegID).Logger()
	}
	if event.CallType != "" {
		logger = logger.With().Str("call_type", event.CallType).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("call audit event")
}

func addField(e *zerolog.Event, key string, value any) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}
