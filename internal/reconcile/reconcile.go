// Package reconcile decides whether the redundant identity assertions carried by one
// request agree on a single username.
//
// The reverse proxy asserts the authenticated username through several channels at
// once: the remote-user header, a signed portal cookie (or a legacy plain cookie),
// a mirrored secondary header, and the username half of a Basic Authorization
// credential. Requiring all present channels to agree means a compromised or
// misconfigured single header cannot silently authenticate as another user; any one
// disagreeing channel is fatal, not best-effort.
package reconcile

import (
	"encoding/base64"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/yunogate/yunogate/internal/ssotoken"
)

// Reason is the stable machine-readable code attached to a rejection. Operators rely
// on the distinction between reasons to tell spoofing attempts from misconfiguration,
// so reasons are never collapsed.
type Reason string

const (
	ReasonCookieMissing         Reason = "cookie_missing"
	ReasonCookieMismatch        Reason = "cookie_mismatch"
	ReasonCookieInvalid         Reason = "cookie_invalid"
	ReasonAuthUserMissing       Reason = "auth_user_missing"
	ReasonAuthUserMismatch      Reason = "auth_user_mismatch"
	ReasonBasicAuthMissing      Reason = "basic_auth_missing"
	ReasonBasicAuthMismatch     Reason = "basic_auth_mismatch"
	ReasonUnsupportedAuthScheme Reason = "unsupported_auth_scheme"
)

// Outcome classifies a reconciliation result.
type Outcome string

const (
	// OutcomeNoAssertion means no proxy header was present: the request is anonymous.
	// This is not a rejection and must never reach the lockout ledger.
	OutcomeNoAssertion Outcome = "no_assertion"

	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
)

// Result is the outcome of reconciling one request's assertions. Consumed immediately
// by the session binder; never persisted.
type Result struct {
	Outcome  Outcome
	Username string // canonical username when accepted, asserted username when rejected
	Reason   Reason // set when Outcome == OutcomeRejected
	Err      error  // underlying cause, set for cookie_invalid
}

// Accepted reports whether the assertions reconciled to a single username.
func (r Result) Accepted() bool { return r.Outcome == OutcomeAccepted }

// Rejected reports whether any channel disagreed.
func (r Result) Rejected() bool { return r.Outcome == OutcomeRejected }

// Reconciler checks a request's identity assertions against each other.
type Reconciler struct {
	verifier              *ssotoken.Verifier // nil when no pre-shared key is configured
	allowUnverifiedCookie bool
	log                   *logrus.Logger
}

// New creates a reconciler. verifier may be nil only when allowUnverifiedCookie is
// set; log defaults to the logrus standard logger.
func New(verifier *ssotoken.Verifier, allowUnverifiedCookie bool, log *logrus.Logger) *Reconciler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Reconciler{
		verifier:              verifier,
		allowUnverifiedCookie: allowUnverifiedCookie,
		log:                   log,
	}
}

// Reconcile runs the ordered channel checks and short-circuits on the first failure.
// Every decision is logged with the source channel and the compared usernames.
func (rc *Reconciler) Reconcile(a Assertions) Result {
	if a.RemoteUser == "" {
		return Result{Outcome: OutcomeNoAssertion}
	}

	if res, ok := rc.checkCookie(a); !ok {
		return res
	}
	if res, ok := rc.checkAuthUser(a); !ok {
		return res
	}
	if res, ok := rc.checkBasicAuth(a); !ok {
		return res
	}

	rc.log.WithFields(logrus.Fields{
		"outcome":     OutcomeAccepted,
		"remote_user": a.RemoteUser,
	}).Info("identity assertions reconciled")

	return Result{Outcome: OutcomeAccepted, Username: a.RemoteUser}
}

// checkCookie verifies the portal JWT cookie or, in legacy installations, the plain
// username cookie. A missing cookie is tolerated only in explicit unverified mode.
func (rc *Reconciler) checkCookie(a Assertions) (Result, bool) {
	if a.PortalToken != "" {
		if rc.verifier == nil {
			if rc.allowUnverifiedCookie {
				return Result{}, true
			}
			return rc.reject(a, ReasonCookieInvalid, "portal", "", nil), false
		}
		if err := rc.verifier.Verify(a.PortalToken, a.RemoteUser); err != nil {
			// Every token error class collapses to cookie_invalid at this boundary;
			// the underlying error keeps the detail for the server-side log.
			return rc.reject(a, ReasonCookieInvalid, "portal", "", err), false
		}
		return Result{}, true
	}

	if a.LegacyUser != "" {
		if a.LegacyUser != a.RemoteUser {
			return rc.reject(a, ReasonCookieMismatch, "legacy-cookie", a.LegacyUser, nil), false
		}
		return Result{}, true
	}

	if rc.allowUnverifiedCookie {
		rc.log.WithField("remote_user", a.RemoteUser).
			Warn("no SSO cookie present, tolerated by unverified-cookie mode")
		return Result{}, true
	}

	return rc.reject(a, ReasonCookieMissing, "cookie", "", nil), false
}

// checkAuthUser compares the mirrored username header with the primary assertion.
func (rc *Reconciler) checkAuthUser(a Assertions) (Result, bool) {
	if a.AuthUser == "" {
		return rc.reject(a, ReasonAuthUserMissing, "auth-user-header", "", nil), false
	}
	if a.AuthUser != a.RemoteUser {
		return rc.reject(a, ReasonAuthUserMismatch, "auth-user-header", a.AuthUser, nil), false
	}
	return Result{}, true
}

// checkBasicAuth compares the username half of the Basic credential. The password is
// never checked; authentication is delegated entirely to the SSO gateway.
func (rc *Reconciler) checkBasicAuth(a Assertions) (Result, bool) {
	if a.Authorization == "" {
		return rc.reject(a, ReasonBasicAuthMissing, "authorization", "", nil), false
	}

	scheme, payload, found := strings.Cut(a.Authorization, " ")
	if !found || !strings.EqualFold(scheme, "basic") {
		return rc.reject(a, ReasonUnsupportedAuthScheme, "authorization", scheme, nil), false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return rc.reject(a, ReasonUnsupportedAuthScheme, "authorization", "", err), false
	}

	username, _, _ := strings.Cut(string(decoded), ":")
	if username != a.RemoteUser {
		return rc.reject(a, ReasonBasicAuthMismatch, "authorization", username, nil), false
	}
	return Result{}, true
}

func (rc *Reconciler) reject(a Assertions, reason Reason, source, compared string, err error) Result {
	entry := rc.log.WithFields(logrus.Fields{
		"outcome":     OutcomeRejected,
		"reason":      reason,
		"source":      source,
		"remote_user": a.RemoteUser,
	})
	if compared != "" {
		entry = entry.WithField("compared", compared)
	}
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error("identity assertion rejected")

	return Result{Outcome: OutcomeRejected, Username: a.RemoteUser, Reason: reason, Err: err}
}
