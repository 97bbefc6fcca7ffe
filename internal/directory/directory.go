// Package directory resolves a user's trusted circle from the user store.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"voice-guard-go/internal/apperr"
	"voice-guard-go/internal/types"
)

// Directory is read-only key-value access to user records. Missing values
// come back as "" or an empty slice with a nil error; errors mean the store
// could not be reached.
type Directory interface {
	Username(ctx context.Context, userID string) (string, error)
	ContactIDs(ctx context.Context, userID string) ([]string, error)
	Email(ctx context.Context, userID string) (string, error)
	Token(ctx context.Context, userID string) (string, error)
}

const lookupLimit = 8

type Resolver struct {
	dir Directory
	log *logrus.Entry
}

func NewResolver(dir Directory, log *logrus.Entry) *Resolver {
	return &Resolver{dir: dir, log: log.WithField("module", "directory")}
}

// Resolve loads the username and every contact's email and push token. Only
// the user's own username and contact list can fail it; a contact whose email
// or token cannot be read is kept with that field empty.
func (r *Resolver) Resolve(ctx context.Context, userID string) (types.Circle, error) {
	start := time.Now()
	circle := types.Circle{UserID: userID}

	name, err := r.dir.Username(ctx, userID)
	if err != nil {
		return circle, apperr.New(apperr.Directory, "username", err)
	}
	circle.Username = name

	ids, err := r.dir.ContactIDs(ctx, userID)
	if err != nil {
		return circle, apperr.New(apperr.Directory, "contacts", err)
	}
	ids = dedupe(ids, userID)

	contacts := make([]types.Contact, len(ids))
	failures := make([]error, len(ids))
	// Lookups settle independently: a bad record only costs that contact
	// the channel it failed on.
	var g errgroup.Group
	g.SetLimit(lookupLimit)
	for i, id := range ids {
		g.Go(func() error {
			c := types.Contact{UserID: id}
			var emailErr, tokenErr error
			if c.Email, emailErr = r.dir.Email(ctx, id); emailErr != nil {
				c.Email = ""
				emailErr = fmt.Errorf("email: %w", emailErr)
			}
			if c.NotificationToken, tokenErr = r.dir.Token(ctx, id); tokenErr != nil {
				c.NotificationToken = ""
				tokenErr = fmt.Errorf("token: %w", tokenErr)
			}
			contacts[i] = c
			failures[i] = errors.Join(emailErr, tokenErr)
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range failures {
		if err == nil {
			continue
		}
		r.log.WithFields(logrus.Fields{
			"user_id":    userID,
			"contact_id": ids[i],
			"error":      err.Error(),
			"error_kind": apperr.Directory,
		}).Warn("contact lookup failed, continuing with what resolved")
	}
	circle.Contacts = contacts

	r.log.WithFields(logrus.Fields{
		"user_id":     userID,
		"contacts":    len(contacts),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("trusted circle resolved")
	return circle, nil
}

// dedupe drops blanks, repeats and the user themself, keeping first-seen order.
func dedupe(ids []string, self string) []string {
	seen := map[string]bool{self: true}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
