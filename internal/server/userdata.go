package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	haven "github.com/haven-app/haven/internal"
)

var statusSuccess = map[string]string{"status": "success"}

// saveUserDoc persists a raw JSON document under the authenticated user.
func (s *server) saveUserDoc(w http.ResponseWriter, r *http.Request, path string, doc json.RawMessage) {
	identity := haven.IdentityFromContext(r.Context())
	if err := s.deps.Store.Save(r.Context(), identity.UserID, path, doc); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: save %s: %v", haven.ErrStorage, path, err))
		return
	}
	writeJSON(w, http.StatusOK, statusSuccess)
}

func (s *server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SettingsFile json.RawMessage `json:"settings_file"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body: "+err.Error()))
		return
	}
	if len(req.SettingsFile) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse("missing settings_file"))
		return
	}
	s.saveUserDoc(w, r, "settings.json", req.SettingsFile)
}

func (s *server) handleSaveAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountJSON json.RawMessage `json:"account_json"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body: "+err.Error()))
		return
	}
	if len(req.AccountJSON) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse("missing account_json"))
		return
	}
	s.saveUserDoc(w, r, "account.json", req.AccountJSON)
}

func (s *server) handleBackupDateSummary(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date     string          `json:"date"`
		DataJSON json.RawMessage `json:"data_json"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body: "+err.Error()))
		return
	}
	if req.Date == "" || len(req.DataJSON) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse("missing date or data_json"))
		return
	}

	identity := haven.IdentityFromContext(r.Context())
	if err := s.deps.Store.Save(r.Context(), identity.UserID, "data/"+req.Date+".json", req.DataJSON); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: save backup: %v", haven.ErrStorage, err))
		return
	}
	if _, err := s.deps.Backups.Bump(r.Context(), identity.UserID, req.Date); err != nil {
		// The backup itself is stored; a counter failure is not worth a 500.
		slog.LogAttrs(r.Context(), slog.LevelError, "backup counter bump failed",
			slog.String("user_id", identity.UserID),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, http.StatusOK, statusSuccess)
}

type deleteAccountRequest struct {
	UserID           string `json:"userId"`
	Reason           string `json:"reason"`
	AdditionalReason string `json:"additionalReason,omitempty"`
	Timestamp        string `json:"timestamp"`
}

func (s *server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	var req deleteAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body: "+err.Error()))
		return
	}
	if req.UserID == "" || req.Reason == "" || req.Timestamp == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("missing required fields: userId, reason, or timestamp"))
		return
	}

	identity := haven.IdentityFromContext(r.Context())
	if req.UserID != identity.UserID {
		s.writeError(w, r, fmt.Errorf("%w: user id does not match authenticated user", haven.ErrForbidden))
		return
	}

	doc, err := json.Marshal(map[string]string{
		"reason":           req.Reason,
		"additionalReason": req.AdditionalReason,
		"timestamp":        req.Timestamp,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.saveUserDoc(w, r, "deletion_reason.json", doc)
}
