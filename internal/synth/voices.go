package synth

import "github.com/lecternfm/lectern/internal/protocol"

// DefaultVoice is used when a session does not pick one.
const DefaultVoice = "af_heart"

// Voices lists the synthesis voices the local model ships with, keyed by
// voice id. Backs the loading_model_ready message and the voices endpoint.
func Voices() map[string]protocol.VoiceInfo {
	return map[string]protocol.VoiceInfo{
		"af_heart":    {Name: "Heart", Language: "en-US", Gender: "female"},
		"af_bella":    {Name: "Bella", Language: "en-US", Gender: "female"},
		"af_river":    {Name: "River", Language: "en-US", Gender: "female"},
		"af_sarah":    {Name: "Sarah", Language: "en-US", Gender: "female"},
		"af_sky":      {Name: "Sky", Language: "en-US", Gender: "female"},
		"af_nicole":   {Name: "Nicole", Language: "en-US", Gender: "female"},
		"am_adam":     {Name: "Adam", Language: "en-US", Gender: "male"},
		"am_michael":  {Name: "Michael", Language: "en-US", Gender: "male"},
		"bf_emma":     {Name: "Emma", Language: "en-GB", Gender: "female"},
		"bf_isabella": {Name: "Isabella", Language: "en-GB", Gender: "female"},
		"bm_george":   {Name: "George", Language: "en-GB", Gender: "male"},
		"bm_lewis":    {Name: "Lewis", Language: "en-GB", Gender: "male"},
	}
}

// KnownVoice reports whether id is in the shipped catalog.
func KnownVoice(id string) bool {
	_, ok := Voices()[id]
	return ok
}
