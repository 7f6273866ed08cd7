// Package registry tracks which clients are currently logged in.
//
// One LoginRegistry is created per server and shared by reference with every
// session. Keys are client identities, values the content identity found for
// them in the store plus the session that registered it.
package registry

import (
	"context"
	"log/slog"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

// Entry is one logged-in client
type Entry struct {
	ContentID string `json:"content_id"`
	SessionID string `json:"session_id"` // owning session
}

type LoginRegistry struct {
	entries *xsync.MapOf[string, Entry]
	logger  *slog.Logger
}

func New(logger *slog.Logger) *LoginRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoginRegistry{
		entries: xsync.NewMapOf[string, Entry](),
		logger:  logger,
	}
}

// Register inserts or replaces the entry for clientID. It returns the
// previous entry when one was replaced.
func (r *LoginRegistry) Register(clientID, contentID, sessionID string) (Entry, bool) {
	prev, replaced := r.entries.LoadAndStore(clientID, Entry{ContentID: contentID, SessionID: sessionID})
	if replaced && prev.SessionID != sessionID {
		r.logger.Info("login_ownership_transferred",
			"client_id", clientID,
			"from_session", prev.SessionID,
			"to_session", sessionID,
		)
	}
	r.dump("register")
	return prev, replaced
}

// Remove deletes clientID regardless of owner
func (r *LoginRegistry) Remove(clientID string) bool {
	_, ok := r.entries.LoadAndDelete(clientID)
	if ok {
		r.dump("remove")
	}
	return ok
}

// RemoveOwned deletes clientID only while sessionID still owns it, so a
// closing session never drops an entry a newer login has taken over.
func (r *LoginRegistry) RemoveOwned(clientID, sessionID string) bool {
	removed := false
	r.entries.Compute(clientID, func(old Entry, loaded bool) (Entry, bool) {
		if loaded && old.SessionID == sessionID {
			removed = true
			return old, true
		}
		// keep whatever is there; a missing key stays missing
		return old, !loaded
	})
	if removed {
		r.dump("remove")
	}
	return removed
}

func (r *LoginRegistry) Lookup(clientID string) (Entry, bool) {
	return r.entries.Load(clientID)
}

func (r *LoginRegistry) Contains(clientID string) bool {
	_, ok := r.entries.Load(clientID)
	return ok
}

func (r *LoginRegistry) Len() int {
	return r.entries.Size()
}

// Snapshot copies the current client -> content mapping. Registrations
// racing with the copy may or may not be included.
func (r *LoginRegistry) Snapshot() map[string]string {
	out := make(map[string]string, r.entries.Size())
	r.entries.Range(func(clientID string, e Entry) bool {
		out[clientID] = e.ContentID
		return true
	})
	return out
}

// Entries is like Snapshot but keeps session ownership
func (r *LoginRegistry) Entries() map[string]Entry {
	out := make(map[string]Entry, r.entries.Size())
	r.entries.Range(func(clientID string, e Entry) bool {
		out[clientID] = e
		return true
	})
	return out
}

// Clear drops every entry (server shutdown)
func (r *LoginRegistry) Clear() {
	r.entries.Clear()
	r.dump("clear")
}

// dump logs the table of logged-in clients at debug level
func (r *LoginRegistry) dump(reason string) {
	if !r.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	snap := r.Snapshot()
	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([]any, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, slog.String(id, snap[id]))
	}
	r.logger.Debug("logged_in_clients",
		"reason", reason,
		"count", len(ids),
		slog.Group("clients", rows...),
	)
}
