package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	haven "github.com/haven-app/haven/internal"
)

type chatProxyRequest struct {
	Messages []haven.Message `json:"messages"`
}

type chatProxyResponse struct {
	Reply string `json:"reply"`
}

func (s *server) handleChatProxy(w http.ResponseWriter, r *http.Request) {
	var req chatProxyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body: "+err.Error()))
		return
	}
	if len(req.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse("messages is required"))
		return
	}
	for i, m := range req.Messages {
		if m.Role == "" || m.Content == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse(fmt.Sprintf("message %d is missing role or content", i)))
			return
		}
	}

	identity := haven.IdentityFromContext(r.Context())
	reply, err := s.deps.Chat.Execute(r.Context(), identity.UserID, req.Messages)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, chatProxyResponse{Reply: reply})
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func errorResponse(msg string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = "invalid_request_error"
	return e
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, haven.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, haven.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, haven.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, haven.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, haven.ErrBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err to an HTTP status. Server-side failures (upstream,
// persistence) are logged in full but reported to the client as a generic
// message so provider and storage details never leak.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		slog.LogAttrs(r.Context(), slog.LevelError, "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
			slog.String("request_id", haven.RequestIDFromContext(r.Context())),
		)
		writeJSON(w, status, errorResponse("internal server error"))
		return
	}
	writeJSON(w, status, errorResponse(err.Error()))
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call. Saves 1 alloc/req.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
