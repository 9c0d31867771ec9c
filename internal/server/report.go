package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	haven "github.com/haven-app/haven/internal"
)

// crashReport is the client crash payload. Field names follow the mobile
// client's camelCase convention.
type crashReport struct {
	Error      string          `json:"error"       validate:"required"`
	StackTrace string          `json:"stackTrace"  validate:"required"`
	Logs       []string        `json:"logs"        validate:"required"`
	Timestamp  string          `json:"timestamp"   validate:"required"`
	DeviceInfo json.RawMessage `json:"deviceInfo,omitempty"`
	AppVersion string          `json:"appVersion,omitempty"`
}

func (s *server) handleCrashReport(w http.ResponseWriter, r *http.Request) {
	var report crashReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body: "+err.Error()))
		return
	}
	if err := s.validate.Struct(&report); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid crash report: "+err.Error()))
		return
	}

	doc, err := json.Marshal(&report)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// One file per report; the timestamp keeps listings chronological and
	// the UUID avoids collisions within a second.
	name := fmt.Sprintf("crashes/crash_%s_%s.json",
		time.Now().UTC().Format("2006-01-02T15-04-05"),
		uuid.Must(uuid.NewV7()).String(),
	)

	identity := haven.IdentityFromContext(r.Context())
	if err := s.deps.Store.Save(r.Context(), identity.UserID, name, doc); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: save crash report: %v", haven.ErrStorage, err))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"status": "Crash report received."})
}
