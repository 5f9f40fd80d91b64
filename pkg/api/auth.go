package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const tokenTTL = 24 * time.Hour

// Admin is the single API user allowed to log in.
type Admin struct {
	Username     string
	PasswordHash string // bcrypt
}

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.Signer == nil || s.Admin.Username == "" {
		http.Error(w, "login disabled", http.StatusNotFound)
		return
	}
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.Username != s.Admin.Username ||
		bcrypt.CompareHashAndPassword([]byte(s.Admin.PasswordHash), []byte(req.Password)) != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	token, err := s.Signer.Generate(req.Username, tokenTTL)
	if err != nil {
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, s.Logger, http.StatusOK, map[string]string{"token": token})
}

// tokenMatches compares in constant time; an empty want never matches.
func tokenMatches(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// authFunc accepts the static token (X-Auth-Token or Bearer) or a valid JWT.
// With neither configured every request is allowed.
func (s *Server) authFunc() func(r *http.Request) bool {
	if s.Token == "" && s.Signer == nil {
		return func(_ *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		h := r.Header.Get("X-Auth-Token")
		if h == "" {
			authz := r.Header.Get("Authorization")
			if strings.HasPrefix(authz, "Bearer ") {
				h = strings.TrimPrefix(authz, "Bearer ")
			}
		}
		if h == "" {
			return false
		}
		if tokenMatches(h, s.Token) {
			return true
		}
		if s.Signer != nil {
			if _, err := s.Signer.Parse(h); err == nil {
				return true
			}
		}
		return false
	}
}
