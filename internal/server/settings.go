package server

import (
	"net/http"

	"github.com/solo125812/st-voyageai-memory/internal/config"
	"github.com/solo125812/st-voyageai-memory/internal/engine"
)

type settingsResponse struct {
	Settings config.Settings `json:"settings"`
	Writable bool            `json:"writable"`
	Notice   *engine.Notice  `json:"notice,omitempty"`
}

// maskAPIKey shows the first 7 and last 4 characters of a key.
func maskAPIKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) < 12 {
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}

func redactSettings(s config.Settings) config.Settings {
	s.Summarizer.APIKey = maskAPIKey(s.Summarizer.APIKey)
	s.Embedding.APIKey = maskAPIKey(s.Embedding.APIKey)
	return s
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, settingsResponse{
		Settings: redactSettings(s.engine.Settings()),
		Writable: s.engine.SettingsWritable(),
	})
}

// putSettings applies a partial update. Fields absent from the body keep
// their current value, and an API key sent back in its masked form is left
// unchanged.
func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	current := s.engine.Settings()
	next := current
	if !decodeBody(w, r, &next) {
		return
	}
	if next.Summarizer.APIKey == maskAPIKey(current.Summarizer.APIKey) {
		next.Summarizer.APIKey = current.Summarizer.APIKey
	}
	if next.Embedding.APIKey == maskAPIKey(current.Embedding.APIKey) {
		next.Embedding.APIKey = current.Embedding.APIKey
	}

	saved, err := s.engine.SaveSettings(next)
	if err != nil {
		respondFailure(w, r, "Save settings", err)
		return
	}
	notice := engine.Successf("Settings saved.")
	respondJSON(w, http.StatusOK, settingsResponse{
		Settings: redactSettings(saved),
		Writable: true,
		Notice:   &notice,
	})
}
