// Package provision maps a reconciled username to a durable user record.
//
// Provisioning happens on the login transition only, never on every request: the
// session binder calls Provision exactly once when a request moves into the
// authenticated state. Creation is made idempotent under concurrency by the unique
// constraint on the username column; the loser of a creation race re-fetches the
// winner's row.
package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/yunogate/yunogate/internal/db/models"
	"github.com/yunogate/yunogate/internal/repository"
)

// Finalizer is the deployment-specific hook run after a user is provisioned. It may
// grant capability flags or normalize profile fields, and must return a user with the
// same identity it was given. It is injected at construction time; there is no global
// registry.
type Finalizer func(*models.User) (*models.User, error)

// ErrFinalizeContract marks a finalize hook returning a user with a different
// identity than it was given. This is a programming error in the deployment's hook,
// not a recoverable condition: the request must abort.
var ErrFinalizeContract = errors.New("finalize hook violated contract")

// Profile carries the optional proxy-supplied profile hints for one login.
type Profile struct {
	Email string
	Name  string
}

// Provisioner creates and updates user records for reconciled identities.
type Provisioner struct {
	users     repository.UserRepository
	finalize  Finalizer
	adminUser string
	log       *logrus.Logger
}

// New creates a provisioner. finalize may be nil, in which case no deployment hook
// runs. adminUser names the identity that gets staff/superuser on creation.
func New(users repository.UserRepository, finalize Finalizer, adminUser string, log *logrus.Logger) *Provisioner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Provisioner{
		users:     users,
		finalize:  finalize,
		adminUser: adminUser,
		log:       log,
	}
}

// NormalizeUsername applies the documented quirk for malformed proxy usernames:
// a stray comma-separated value ("alice,alice") is cut at the first comma. This is
// explicit policy, observed in production gateways, not silent sanitisation.
func NormalizeUsername(username string) string {
	username, _, _ = strings.Cut(username, ",")
	return strings.TrimSpace(username)
}

// Provision looks up or creates the user for a reconciled username and runs the merge
// and finalize steps for this login event. The bool result reports whether the user
// was newly created.
func (p *Provisioner) Provision(ctx context.Context, username string, profile Profile) (*models.User, bool, error) {
	username = NormalizeUsername(username)
	if username == "" {
		return nil, false, fmt.Errorf("provision: empty username")
	}

	user, err := p.users.GetByUsername(ctx, username)
	created := false
	switch {
	case err == nil:
	case repository.IsNotFound(err):
		user, created, err = p.create(ctx, username)
		if err != nil {
			return nil, false, err
		}
	default:
		return nil, false, fmt.Errorf("provision lookup: %w", err)
	}

	if err := p.mergeProfile(ctx, user, profile); err != nil {
		return nil, false, err
	}

	user, err = p.runFinalize(ctx, user)
	if err != nil {
		return nil, false, err
	}

	if err := p.users.UpdateLastLogin(ctx, user.ID); err != nil {
		return nil, false, fmt.Errorf("provision: %w", err)
	}

	return user, created, nil
}

// create inserts a new SSO-only user. On a unique-constraint violation another
// request won the creation race; the winner's row is re-fetched and used as-is.
func (p *Provisioner) create(ctx context.Context, username string) (*models.User, bool, error) {
	user := &models.User{
		Username:          username,
		IsActive:          true,
		HasUsablePassword: false, // SSO is authoritative, password auth never works
	}
	if p.adminUser != "" && username == p.adminUser {
		user.IsStaff = true
		user.IsSuperuser = true
	}

	if err := p.users.Create(ctx, user); err != nil {
		if repository.IsUniqueViolation(err) {
			winner, lookupErr := p.users.GetByUsername(ctx, username)
			if lookupErr != nil {
				return nil, false, fmt.Errorf("provision race re-fetch: %w", lookupErr)
			}
			p.log.WithField("username", username).Info("provisioning race resolved, user already exists")
			return winner, false, nil
		}
		return nil, false, fmt.Errorf("provision create: %w", err)
	}

	p.log.WithFields(logrus.Fields{
		"username":  username,
		"staff":     user.IsStaff,
		"superuser": user.IsSuperuser,
	}).Info("provisioned new user")

	return user, true, nil
}

// mergeProfile folds the proxy-supplied profile hints into the user record using
// field-level diffing so unrelated columns stay untouched.
func (p *Provisioner) mergeProfile(ctx context.Context, user *models.User, profile Profile) error {
	var fields []string

	if profile.Email != "" && user.Email != profile.Email {
		p.log.WithFields(logrus.Fields{
			"username": user.Username,
			"old":      user.Email,
			"new":      profile.Email,
		}).Info("updating user email")
		user.Email = profile.Email
		fields = append(fields, "email")
	}

	if profile.Name != "" {
		firstName, lastName := splitName(profile.Name)
		if user.FirstName != firstName {
			user.FirstName = firstName
			fields = append(fields, "first_name")
		}
		if user.LastName != lastName {
			user.LastName = lastName
			fields = append(fields, "last_name")
		}
	}

	if len(fields) == 0 {
		return nil
	}
	if err := p.users.UpdateFields(ctx, user, fields...); err != nil {
		return fmt.Errorf("merge profile: %w", err)
	}
	return nil
}

// runFinalize invokes the deployment hook and enforces its identity contract.
func (p *Provisioner) runFinalize(ctx context.Context, user *models.User) (*models.User, error) {
	if p.finalize == nil {
		return user, nil
	}

	// Hooks habitually mutate in place and return their argument, so snapshot the
	// pre-hook state to diff against.
	before := *user

	finalized, err := p.finalize(user)
	if err != nil {
		return nil, fmt.Errorf("finalize hook: %w", err)
	}
	if finalized == nil || finalized.ID != before.ID || finalized.Username != before.Username {
		return nil, fmt.Errorf("%w: got user %q, want %q", ErrFinalizeContract, finalizedIdentity(finalized), before.Username)
	}

	// Persist profile fields and capability flags the hook may have changed.
	if finalized.IsStaff != before.IsStaff || finalized.IsSuperuser != before.IsSuperuser ||
		finalized.Email != before.Email || finalized.FirstName != before.FirstName || finalized.LastName != before.LastName {
		if err := p.users.UpdateFields(ctx, finalized,
			"email", "first_name", "last_name", "is_staff", "is_superuser"); err != nil {
			return nil, fmt.Errorf("persist finalized user: %w", err)
		}
	}

	return finalized, nil
}

func finalizedIdentity(user *models.User) string {
	if user == nil {
		return "<nil>"
	}
	return user.Username
}

func splitName(raw string) (firstName, lastName string) {
	if first, rest, found := strings.Cut(raw, " "); found {
		return first, rest
	}
	// Single token names go into the last-name slot, matching the gateway convention.
	return "", raw
}
