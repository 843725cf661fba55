package api

import (
	"net/http"
)

// handleGoogleAuth redirects the caller into Google's consent flow. The
// subject identifies who is connecting; it lands back in the state token.
func (s *Server) handleGoogleAuth(w http.ResponseWriter, r *http.Request) {
	subject := r.URL.Query().Get("subject")
	if subject == "" {
		subject = "default"
	}
	authURL, err := s.calendar.AuthURL(subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleGoogleCallback finishes the consent flow. Unauthenticated: Google
// calls it, and the signed state token is the integrity check.
func (s *Server) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errMsg := q.Get("error"); errMsg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "consent denied: " + errMsg})
		return
	}
	state, code := q.Get("state"), q.Get("code")
	if state == "" || code == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "state and code are required"})
		return
	}

	subject, err := s.calendar.Connect(r.Context(), state, code)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "connected", "subject": subject})
}
