package audit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventUserRegister       EventType = "user_register"
	EventDevicePaired       EventType = "device_paired"
	EventDevicePairReject   EventType = "device_pair_rejected"
	EventDevicePairTimeout  EventType = "device_pair_timeout"
	EventDevicePairConflict EventType = "device_pair_conflict"
	EventDeviceRemoved      EventType = "device_removed"
	EventAuthFailure        EventType = "api_auth_failure"
	EventRateLimitExceed    EventType = "rate_limit_exceeded"
)

type Event struct {
	Type       EventType
	TelegramID int64
	Serial     string
	Source     string
	IP         string
	UserAgent  string
	Details    map[string]interface{}
}

func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "device").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.TelegramID != 0 {
		logger = logger.With().Str("telegram_id", strconv.FormatInt(event.TelegramID, 10)).Logger()
	}
	if event.Serial != "" {
		logger = logger.With().Str("serial", event.Serial).Logger()
	}
	if event.Source != "" {
		logger = logger.With().Str("source", event.Source).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("user_agent", event.UserAgent).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	case time.Duration:
		return e.Dur(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = getClientIP(r)
	event.UserAgent = r.UserAgent()
	if event.Source == "" {
		event.Source = "api"
	}
	Log(r.Context(), event)
}

func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
