package httpapi

import (
	"net/http"
	"sort"

	"github.com/lecternfm/lectern/internal/protocol"
	"github.com/lecternfm/lectern/internal/synth"
)

type voiceSummary struct {
	VoiceID  string `json:"voice_id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Gender   string `json:"gender"`
}

type listVoicesResponse struct {
	DefaultVoiceID string         `json:"default_voice_id"`
	Voices         []voiceSummary `json:"voices"`
}

func (s *Server) handleListVoices(w http.ResponseWriter, _ *http.Request) {
	catalog := synth.Voices()

	ids := make([]string, 0, len(catalog))
	for id := range catalog {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	voices := make([]voiceSummary, 0, len(ids))
	for _, id := range ids {
		v := catalog[id]
		voices = append(voices, voiceSummary{
			VoiceID:  id,
			Name:     v.Name,
			Language: v.Language,
			Gender:   v.Gender,
		})
	}

	defaultID := s.cfg.Voice
	if defaultID == "" {
		defaultID = synth.DefaultVoice
	}
	respondJSON(w, http.StatusOK, listVoicesResponse{
		DefaultVoiceID: defaultID,
		Voices:         voices,
	})
}

func voicesReadyMessage() protocol.ModelLoadReady {
	return protocol.ModelLoadReady{
		Type:   protocol.TypeModelLoadReady,
		Voices: synth.Voices(),
	}
}
