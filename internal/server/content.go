package server

import (
	"net/http"
	"strconv"
)

func (s *server) handleDailyContent(w http.ResponseWriter, r *http.Request) {
	clientVersion := 0
	if raw := r.URL.Query().Get("version"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse("version must be a non-negative integer"))
			return
		}
		clientVersion = v
	}

	res, err := s.deps.Content.Daily(r.Context(), clientVersion)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleVersion(w http.ResponseWriter, r *http.Request) {
	doc, err := s.deps.Version.GetOrRefresh(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(http.StatusOK)
	w.Write(doc)
}
