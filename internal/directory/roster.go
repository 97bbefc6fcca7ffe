package directory

import (
	"context"
	"sync"
)

// Entry is one user row in a file-backed roster.
type Entry struct {
	Username string   `yaml:"username"`
	Email    string   `yaml:"email"`
	Token    string   `yaml:"token"`
	Contacts []string `yaml:"contacts"`
}

// Roster is an in-memory directory used for local runs and small deployments.
// Its contents can be swapped while incidents are reading it.
type Roster struct {
	mu    sync.RWMutex
	users map[string]Entry
}

var _ Directory = (*Roster)(nil)

func NewRoster(users map[string]Entry) *Roster {
	r := &Roster{}
	r.Replace(users)
	return r
}

func (r *Roster) Replace(users map[string]Entry) {
	if users == nil {
		users = map[string]Entry{}
	}
	r.mu.Lock()
	r.users = users
	r.mu.Unlock()
}

func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

func (r *Roster) get(userID string) Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.users[userID]
}

func (r *Roster) Username(_ context.Context, userID string) (string, error) {
	return r.get(userID).Username, nil
}

func (r *Roster) ContactIDs(_ context.Context, userID string) ([]string, error) {
	return append([]string(nil), r.get(userID).Contacts...), nil
}

func (r *Roster) Email(_ context.Context, userID string) (string, error) {
	return r.get(userID).Email, nil
}

func (r *Roster) Token(_ context.Context, userID string) (string, error) {
	return r.get(userID).Token, nil
}
