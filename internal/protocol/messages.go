package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientControl MessageType = "client_control"

	TypeModelLoadStart    MessageType = "loading_model_start"
	TypeModelLoadProgress MessageType = "loading_model_progress"
	TypeModelLoadReady    MessageType = "loading_model_ready"
	TypeChunkCount        MessageType = "chunk_count"
	TypeStreamAudio       MessageType = "stream_audio_data"
	TypeReadingProgress   MessageType = "reading_progress"
	TypeHighlight         MessageType = "highlight"
	TypeComplete          MessageType = "complete"
	TypeErrorEvent        MessageType = "error_event"
)

// Control actions accepted from the UI client.
const (
	ActionPlay  = "play"
	ActionPause = "pause"
	ActionStop  = "stop"
	ActionSeek  = "seek"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientControl carries a play/pause/stop/seek intent. OffsetPercent is
// required for seek, optional for play (absent means resume), and ignored
// otherwise.
type ClientControl struct {
	Type          MessageType `json:"type"`
	SessionID     string      `json:"session_id"`
	Action        string      `json:"action"`
	OffsetPercent *float64    `json:"offset_percent,omitempty"`
	VoiceID       string      `json:"voice_id,omitempty"`
	Speed         float64     `json:"speed,omitempty"`
}

type ModelLoadStart struct {
	Type   MessageType `json:"type"`
	Device string      `json:"device"`
}

type ModelLoadProgress struct {
	Type     MessageType `json:"type"`
	Progress float64     `json:"progress"`
}

// VoiceInfo describes one synthesis voice for the UI picker.
type VoiceInfo struct {
	Name     string `json:"name"`
	Language string `json:"language"`
	Gender   string `json:"gender"`
}

type ModelLoadReady struct {
	Type   MessageType          `json:"type"`
	Voices map[string]VoiceInfo `json:"voices"`
}

type ChunkCount struct {
	Type  MessageType `json:"type"`
	Count int         `json:"count"`
}

// StreamAudio mirrors one synthesized chunk to the client: the audio as a
// base64 WAV payload plus the exact source text it was rendered from.
type StreamAudio struct {
	Type        MessageType `json:"type"`
	Seq         int         `json:"seq"`
	AudioBase64 string      `json:"audio_base64"`
	Text        string      `json:"text"`
}

type ReadingProgress struct {
	Type    MessageType `json:"type"`
	Percent float64     `json:"percent"`
}

// Highlight reports the estimated character offset currently being spoken,
// measured from the start of the visible text.
type Highlight struct {
	Type       MessageType `json:"type"`
	CharOffset int         `json:"char_offset"`
}

type Complete struct {
	Type      MessageType `json:"type"`
	Cancelled bool        `json:"cancelled,omitempty"`
}

type ErrorEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Source string      `json:"source"`
	Detail string      `json:"detail"`
}

// ParseClientMessage decodes and validates an inbound websocket payload.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		switch msg.Action {
		case ActionPlay, ActionPause, ActionStop, ActionSeek:
		default:
			return nil, fmt.Errorf("invalid client_control action %q", msg.Action)
		}
		if msg.Action == ActionSeek && msg.OffsetPercent == nil {
			return nil, errors.New("seek requires offset_percent")
		}
		if msg.OffsetPercent != nil && (*msg.OffsetPercent < 0 || *msg.OffsetPercent > 100) {
			return nil, errors.New("offset_percent out of range")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
