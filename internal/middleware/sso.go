// Package middleware wires the trust-verification pipeline into the HTTP
// request path. Every request passes through the SSO binder; the authorization
// middleware additionally gates the operator surfaces.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yunogate/yunogate/internal/auth"
	"github.com/yunogate/yunogate/internal/config"
	"github.com/yunogate/yunogate/internal/db/models"
	"github.com/yunogate/yunogate/internal/lockout"
	"github.com/yunogate/yunogate/internal/provision"
	"github.com/yunogate/yunogate/internal/reconcile"
	"github.com/yunogate/yunogate/internal/repository"
)

// SSODependencies bundles collaborators required by the session binder.
type SSODependencies struct {
	Reconciler  *reconcile.Reconciler
	Provisioner *provision.Provisioner
	Users       repository.UserRepository
	Sessions    repository.SessionRepository
	Guard       *lockout.Guard
	Log         *logrus.Logger
}

// NewSSOMiddleware builds the session binder.
//
// On every request the proxy assertion is re-reconciled against all redundant
// channels. A valid bound session only skips provisioning and the finalize
// hook, never the verification itself. Rejections are answered with a generic
// 403 so a spoofing client learns nothing about which channel disagreed; the
// specific reason goes to the log and the lockout ledger instead.
func NewSSOMiddleware(cfg *config.Config, deps SSODependencies) (func(http.Handler) http.Handler, error) {
	if deps.Reconciler == nil {
		return nil, errors.New("sso middleware requires reconciler")
	}
	if deps.Provisioner == nil {
		return nil, errors.New("sso middleware requires provisioner")
	}
	if deps.Users == nil || deps.Sessions == nil {
		return nil, errors.New("sso middleware requires user and session repositories")
	}
	if deps.Guard == nil {
		return nil, errors.New("sso middleware requires lockout guard")
	}

	b := &binder{cfg: cfg, deps: deps}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b.serve(w, r, next)
		})
	}, nil
}

type binder struct {
	cfg  *config.Config
	deps SSODependencies
}

func (b *binder) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx := r.Context()
	assertions := reconcile.FromRequest(r, b.cfg.SSO)

	if b.deps.Guard.Blocked(ctx, assertions.Origin) {
		b.deps.Log.WithFields(logrus.Fields{
			"origin": assertions.Origin,
			"path":   assertions.Path,
		}).Warn("request from locked-out origin")
		accessDenied(w)
		return
	}

	result := b.deps.Reconciler.Reconcile(assertions)
	switch result.Outcome {
	case reconcile.OutcomeNoAssertion:
		// The proxy no longer asserts a user. Any session bound earlier is
		// force-expired so a stale cookie cannot outlive the SSO logout.
		b.dropBoundSession(w, r)
		next.ServeHTTP(w, r)

	case reconcile.OutcomeRejected:
		if err := b.deps.Guard.RecordFailure(ctx, assertions.Origin, assertions.RemoteUser, string(result.Reason), assertions.Path); err != nil {
			b.deps.Log.WithError(err).Error("failed to record rejected attempt")
		}
		accessDenied(w)

	case reconcile.OutcomeAccepted:
		b.bind(w, r, next, assertions, result.Username)

	default:
		b.deps.Log.WithField("outcome", result.Outcome).Error("unknown reconciliation outcome")
		http.Error(w, "authentication error", http.StatusInternalServerError)
	}
}

// bind attaches the verified username to a session, creating user and session
// rows on the login transition.
func (b *binder) bind(w http.ResponseWriter, r *http.Request, next http.Handler, assertions reconcile.Assertions, username string) {
	ctx := r.Context()

	if principal, ok := b.resumeSession(w, r, username); ok {
		b.deps.Guard.Reset(assertions.Origin)
		next.ServeHTTP(w, r.WithContext(auth.SetPrincipal(ctx, principal)))
		return
	}

	// Login transition: first verified request without a matching session.
	user, created, err := b.deps.Provisioner.Provision(ctx, username, provision.Profile{
		Email: assertions.Email,
		Name:  assertions.Name,
	})
	if err != nil {
		level := b.deps.Log.WithError(err).WithField("username", username)
		if errors.Is(err, provision.ErrFinalizeContract) {
			level.Error("finalize hook violated identity contract")
		} else {
			level.Error("provisioning failed")
		}
		http.Error(w, "authentication error", http.StatusInternalServerError)
		return
	}
	if !user.IsActive {
		b.deps.Log.WithField("username", user.Username).Warn("deactivated user asserted by proxy")
		accessDenied(w)
		return
	}

	session, err := b.createSession(w, r, user, assertions.Origin)
	if err != nil {
		b.deps.Log.WithError(err).WithField("username", user.Username).Error("session creation failed")
		http.Error(w, "authentication error", http.StatusInternalServerError)
		return
	}

	b.deps.Log.WithFields(logrus.Fields{
		"username": user.Username,
		"user_id":  user.ID,
		"created":  created,
	}).Info("login bound to new session")

	b.deps.Guard.Reset(assertions.Origin)
	principal := principalFor(user, session.ID)
	next.ServeHTTP(w, r.WithContext(auth.SetPrincipal(ctx, principal)))
}

// resumeSession binds the request to an existing session when the session
// cookie resolves to a live session for the same username the proxy asserts.
// Any failure falls back to the login transition.
func (b *binder) resumeSession(w http.ResponseWriter, r *http.Request, username string) (auth.Principal, bool) {
	ctx := r.Context()

	cookie, err := r.Cookie(b.cfg.SSO.SessionCookie)
	if err != nil || cookie.Value == "" {
		return auth.Principal{}, false
	}

	session, err := b.deps.Sessions.GetByTokenHash(ctx, auth.HashSessionToken(cookie.Value))
	if err != nil {
		if !repository.IsNotFound(err) {
			b.deps.Log.WithError(err).Error("session lookup failed")
		}
		return auth.Principal{}, false
	}

	// A session for a different user than the proxy now asserts is dead: the
	// browser switched identities behind the same cookie jar.
	if session.Username != username {
		b.revoke(r.Context(), w, session.ID)
		return auth.Principal{}, false
	}

	user, err := b.deps.Users.GetByID(ctx, session.UserID)
	if err != nil {
		b.deps.Log.WithError(err).WithField("session_id", session.ID).Error("session user lookup failed")
		return auth.Principal{}, false
	}
	if err := auth.ValidateSession(session.ExpiresAt, session.Revoked, user.IsActive); err != nil {
		b.revoke(r.Context(), w, session.ID)
		return auth.Principal{}, false
	}

	if err := b.deps.Sessions.UpdateLastUsed(ctx, session.ID); err != nil {
		b.deps.Log.WithError(err).Warn("failed to touch session")
	}
	return principalFor(user, session.ID), true
}

func (b *binder) createSession(w http.ResponseWriter, r *http.Request, user *models.User, origin string) (*models.Session, error) {
	token, tokenHash, err := auth.GenerateSessionToken()
	if err != nil {
		return nil, err
	}

	session := &models.Session{
		UserID:    user.ID,
		Username:  user.Username,
		TokenHash: tokenHash,
		ExpiresAt: time.Now().Add(b.cfg.SSO.SessionTTL),
	}
	if ua := r.UserAgent(); ua != "" {
		session.UserAgent = &ua
	}
	if origin != "" {
		session.IPAddress = &origin
	}
	if err := b.deps.Sessions.Create(r.Context(), session); err != nil {
		return nil, err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     b.cfg.SSO.SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !b.cfg.Debug,
	})
	return session, nil
}

// dropBoundSession revokes the session referenced by the session cookie, if
// any, and clears the cookie.
func (b *binder) dropBoundSession(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(b.cfg.SSO.SessionCookie)
	if err != nil || cookie.Value == "" {
		return
	}

	session, err := b.deps.Sessions.GetByTokenHash(r.Context(), auth.HashSessionToken(cookie.Value))
	if err == nil {
		b.revoke(r.Context(), w, session.ID)
		b.deps.Log.WithField("session_id", session.ID).Info("session dropped after proxy logout")
	}
	clearSessionCookie(w, b.cfg.SSO.SessionCookie)
}

func (b *binder) revoke(ctx context.Context, w http.ResponseWriter, sessionID string) {
	// Revocation failures are logged only, the request itself still proceeds
	// as unauthenticated.
	if err := b.deps.Sessions.Revoke(ctx, sessionID); err != nil && !repository.IsNotFound(err) {
		b.deps.Log.WithError(err).WithField("session_id", sessionID).Error("session revocation failed")
	}
	clearSessionCookie(w, b.cfg.SSO.SessionCookie)
}

func principalFor(user *models.User, sessionID string) auth.Principal {
	return auth.Principal{
		UserID:      user.ID,
		Username:    user.Username,
		Email:       user.Email,
		IsStaff:     user.IsStaff,
		IsSuperuser: user.IsSuperuser,
		SessionID:   sessionID,
	}
}

func clearSessionCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// accessDenied answers a rejected request without revealing which channel
// disagreed.
func accessDenied(w http.ResponseWriter) {
	http.Error(w, "access denied", http.StatusForbidden)
}
