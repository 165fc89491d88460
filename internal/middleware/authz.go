package middleware

import (
	"errors"
	"net/http"

	"github.com/casbin/casbin/v2"
	"github.com/sirupsen/logrus"

	"github.com/yunogate/yunogate/internal/auth"
)

// NewAuthzMiddleware constructs a chi middleware that enforces Casbin policies
// for the routes it is mounted on. The subject is the role derived from the
// principal's capability flags; anonymous requests are rejected outright.
func NewAuthzMiddleware(enforcer casbin.IEnforcer, log *logrus.Logger) (func(http.Handler) http.Handler, error) {
	if enforcer == nil {
		return nil, errors.New("authz middleware requires casbin enforcer")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.GetPrincipal(r.Context())
			if !ok {
				http.Error(w, "unauthenticated", http.StatusUnauthorized)
				return
			}

			allowed, err := enforcer.Enforce(principal.Role(), r.URL.Path, r.Method)
			if err != nil {
				log.WithError(err).WithFields(logrus.Fields{
					"username": principal.Username,
					"path":     r.URL.Path,
				}).Error("authorization check failed")
				http.Error(w, "authorization error", http.StatusInternalServerError)
				return
			}
			if !allowed {
				log.WithFields(logrus.Fields{
					"username": principal.Username,
					"role":     principal.Role(),
					"path":     r.URL.Path,
				}).Warn("authorization denied")
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}, nil
}
