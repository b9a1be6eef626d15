package session

import "time"

// CreateRequest defines payload for creating a new reading session.
type CreateRequest struct {
	UserID   string  `json:"user_id"`
	Document string  `json:"document"`
	VoiceID  string  `json:"voice_id"`
	Speed    float64 `json:"speed"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	Status          Status    `json:"status"`
	Document        string    `json:"document"`
	VoiceID         string    `json:"voice_id"`
	Speed           float64   `json:"speed"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}
