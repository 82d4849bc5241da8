package api

import (
	"net/http"
	"strings"

	"github.com/mirrorkit/notionmirror/internal/settings"
)

// secretKeys are masked in GET responses so a stored token never leaves the
// server once written.
var secretKeys = map[string]bool{
	settings.KeyAPIKey: true,
}

const maskedValue = "********"

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	module := strings.TrimSpace(r.PathValue("module"))
	if module == "" {
		jsonError(w, "module is required", http.StatusBadRequest)
		return
	}

	values, err := s.settings.ForModule(module)
	if err != nil {
		s.logger.Error("failed to load settings", "module", module, "error", err)
		jsonError(w, "failed to load settings", http.StatusInternalServerError)
		return
	}
	for key := range values {
		if secretKeys[key] && values[key] != "" {
			values[key] = maskedValue
		}
	}
	jsonResponse(w, http.StatusOK, map[string]any{
		"module":   module,
		"settings": values,
	})
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	module := strings.TrimSpace(r.PathValue("module"))
	if module == "" {
		jsonError(w, "module is required", http.StatusBadRequest)
		return
	}

	var values map[string]string
	if !decodeJSONBody(w, r, &values) {
		return
	}
	// Masked values round-tripped from a GET must not clobber the secret.
	for key, value := range values {
		if secretKeys[key] && value == maskedValue {
			delete(values, key)
		}
	}
	if len(values) == 0 {
		jsonResponse(w, http.StatusOK, map[string]string{"status": "unchanged"})
		return
	}

	if err := s.settings.Save(module, values); err != nil {
		s.logger.Error("failed to save settings", "module", module, "error", err)
		jsonError(w, "failed to save settings", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"status": "saved"})
}
