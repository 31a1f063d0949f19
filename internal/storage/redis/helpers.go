package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/chatgate/internal/storage"
)

// parseSession converts a Redis hash to Session
func parseSession(data map[string]string) (*storage.Session, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	createdAt, err := time.Parse(time.RFC3339Nano, data["created_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	lastActivityAt, err := time.Parse(time.RFC3339Nano, data["last_activity_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse last_activity_at: %w", err)
	}

	expiresAt, err := time.Parse(time.RFC3339Nano, data["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse expires_at: %w", err)
	}

	return &storage.Session{
		ID:             data["id"],
		CreatedAt:      createdAt,
		LastActivityAt: lastActivityAt,
		ExpiresAt:      expiresAt,
		ClientAddress:  data["client_address"],
		ClientAgent:    data["client_agent"],
	}, nil
}

// parseUsageRecord converts a Redis hash to UsageRecord
func parseUsageRecord(data map[string]string) (*storage.UsageRecord, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	secondsUsed, err := strconv.ParseInt(data["seconds_used_today"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse seconds_used_today: %w", err)
	}

	return &storage.UsageRecord{
		SessionID:        data["session_id"],
		SecondsUsedToday: secondsUsed,
		LastResetDate:    data["last_reset_date"],
	}, nil
}

// pairsToMap converts a flat HGETALL-style script reply to a map
func pairsToMap(values []interface{}) (map[string]string, error) {
	if len(values)%2 != 0 {
		return nil, fmt.Errorf("odd number of hash fields in reply: %d", len(values))
	}

	data := make(map[string]string, len(values)/2)
	for i := 0; i < len(values); i += 2 {
		field, ok := values[i].(string)
		if !ok {
			return nil, fmt.Errorf("unexpected field type %T in reply", values[i])
		}
		value, ok := values[i+1].(string)
		if !ok {
			return nil, fmt.Errorf("unexpected value type %T in reply", values[i+1])
		}
		data[field] = value
	}

	return data, nil
}

// toInt64 reads an integer from a script reply, which may arrive as a number or a string
func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected integer type %T in reply", v)
	}
}
