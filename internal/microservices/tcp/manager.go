package tcp

import (
	"log/slog"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

type SessionManager struct {
	sessions *xsync.MapOf[string, *Session]
	// key: session ID, value: live session
	logger *slog.Logger
}

func NewSessionManager(logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		sessions: xsync.NewMapOf[string, *Session](),
		logger:   logger,
	}
}

func (m *SessionManager) Add(s *Session) {
	m.sessions.Store(s.ID, s)
	m.logger.Info("session_added",
		"session_id", s.ID,
		"remote_addr", s.RemoteAddr(),
		"active", m.sessions.Size(),
	)
}

func (m *SessionManager) Remove(s *Session) {
	if _, ok := m.sessions.LoadAndDelete(s.ID); ok {
		m.logger.Info("session_removed",
			"session_id", s.ID,
			"active", m.sessions.Size(),
		)
	}
}

func (m *SessionManager) Count() int {
	return m.sessions.Size()
}

func (m *SessionManager) IsConnected(sessionID string) bool {
	_, ok := m.sessions.Load(sessionID)
	return ok
}

// Sessions lists live sessions ordered by connect time
func (m *SessionManager) Sessions() []SessionInfo {
	out := make([]SessionInfo, 0, m.sessions.Size())
	m.sessions.Range(func(_ string, s *Session) bool {
		out = append(out, s.Info())
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// CloseAll closes every session's connection; each session then runs its
// own cleanup and removes itself.
func (m *SessionManager) CloseAll() {
	m.sessions.Range(func(id string, s *Session) bool {
		s.Close()
		m.logger.Info("session_closed_by_server", "session_id", id)
		return true
	})
}
