package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yunogate/yunogate/internal/auth"
	"github.com/yunogate/yunogate/internal/config"
	"github.com/yunogate/yunogate/internal/repository"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// whoAmIResponse is the JSON shape returned by /debug/whoami.
type whoAmIResponse struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	IsStaff     bool   `json:"is_staff"`
	IsSuperuser bool   `json:"is_superuser"`
	SessionID   string `json:"session_id,omitempty"`
}

// HandleWhoAmI reports the identity the binder attached to the request. The
// authorization middleware has already made sure the caller is staff.
func HandleWhoAmI() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.GetPrincipal(r.Context())
		if !ok {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, whoAmIResponse{
			UserID:      principal.UserID,
			Username:    principal.Username,
			Email:       principal.Email,
			IsStaff:     principal.IsStaff,
			IsSuperuser: principal.IsSuperuser,
			SessionID:   principal.SessionID,
		})
	}
}

// HandleLogout revokes the bound session and clears the session cookie. The
// proxy-side SSO logout still governs the assertion; this endpoint only ends
// the local session early. Anonymous calls are a no-op.
func HandleLogout(sessions repository.SessionRepository, cfg *config.Config, log *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.GetPrincipal(r.Context())
		if ok && principal.SessionID != "" {
			if err := sessions.Revoke(r.Context(), principal.SessionID); err != nil && !repository.IsNotFound(err) {
				log.WithError(err).WithField("session_id", principal.SessionID).Error("logout revocation failed")
				http.Error(w, "logout failed", http.StatusInternalServerError)
				return
			}
			log.WithFields(logrus.Fields{
				"username":   principal.Username,
				"session_id": principal.SessionID,
			}).Info("session logged out")
		}

		http.SetCookie(w, &http.Cookie{
			Name:     cfg.SSO.SessionCookie,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		w.WriteHeader(http.StatusNoContent)
	}
}

type userResponse struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	FullName    string `json:"full_name,omitempty"`
	IsStaff     bool   `json:"is_staff"`
	IsSuperuser bool   `json:"is_superuser"`
	IsActive    bool   `json:"is_active"`
	LastLoginAt string `json:"last_login_at,omitempty"`
}

// HandleListUsers lists all provisioned users for the admin surface.
func HandleListUsers(users repository.UserRepository, log *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all, err := users.List(r.Context())
		if err != nil {
			log.WithError(err).Error("list users failed")
			http.Error(w, "lookup failed", http.StatusInternalServerError)
			return
		}

		out := make([]userResponse, 0, len(all))
		for i := range all {
			u := &all[i]
			resp := userResponse{
				ID:          u.ID,
				Username:    u.Username,
				Email:       u.Email,
				FullName:    u.FullName(),
				IsStaff:     u.IsStaff,
				IsSuperuser: u.IsSuperuser,
				IsActive:    u.IsActive,
			}
			if u.LastLoginAt != nil {
				resp.LastLoginAt = u.LastLoginAt.UTC().Format(time.RFC3339)
			}
			out = append(out, resp)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type attemptResponse struct {
	Origin    string `json:"origin"`
	Username  string `json:"username"`
	Reason    string `json:"reason"`
	Path      string `json:"path,omitempty"`
	CreatedAt string `json:"created_at"`
}

// HandleListAttempts exposes the lockout ledger for the admin surface.
func HandleListAttempts(attempts repository.AccessAttemptRepository, log *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all, err := attempts.List(r.Context())
		if err != nil {
			log.WithError(err).Error("list access attempts failed")
			http.Error(w, "lookup failed", http.StatusInternalServerError)
			return
		}

		out := make([]attemptResponse, 0, len(all))
		for _, a := range all {
			out = append(out, attemptResponse{
				Origin:    a.Origin,
				Username:  a.Username,
				Reason:    a.Reason,
				Path:      a.Path,
				CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}
