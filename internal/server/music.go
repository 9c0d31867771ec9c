package server

import "net/http"

func (s *server) handleMusicTrack(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	song := q.Get("song_name")
	artist := q.Get("artist_name")
	if song == "" || artist == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("song_name and artist_name are required"))
		return
	}

	res, err := s.deps.Music.Lookup(r.Context(), song, artist, q.Get("market"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
