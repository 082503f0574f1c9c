// Package auth tracks the current session and the sync mode derived from it.
package auth

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/harmonia-player/harmonia/internal/constants"
	"github.com/harmonia-player/harmonia/internal/domain"
	"github.com/harmonia-player/harmonia/internal/store"
)

// Session is the persisted identity. A guest session has no token and
// never talks to the backend.
type Session struct {
	UserID string `json:"user_id"`
	Guest  bool   `json:"guest"`
	Token  string `json:"token,omitempty"`
}

// Manager caches the session in memory and persists it through the
// settings repo so it survives restarts.
type Manager struct {
	mu       sync.RWMutex
	settings *store.SettingsRepo
	current  Session
}

func NewManager(settings *store.SettingsRepo) (*Manager, error) {
	m := &Manager{
		settings: settings,
		current:  Session{UserID: constants.GuestUserID, Guest: true},
	}

	raw, err := settings.Get(store.SettingSession)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if raw != "" {
		var s Session
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("failed to parse stored session: %w", err)
		}
		m.current = s
	}
	return m, nil
}

func (m *Manager) Current() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *Manager) UserID() string {
	return m.Current().UserID
}

// Mode reports how mutations should be flagged for sync.
func (m *Manager) Mode() domain.SyncMode {
	if m.Current().Guest {
		return domain.ModeGuest
	}
	return domain.ModeAuthenticated
}

func (m *Manager) Token() string {
	return m.Current().Token
}

// SignIn replaces the session with an authenticated one and persists it.
func (m *Manager) SignIn(userID, token string) error {
	return m.set(Session{UserID: userID, Token: token})
}

// SignOut reverts to the guest session.
func (m *Manager) SignOut() error {
	return m.set(Session{UserID: constants.GuestUserID, Guest: true})
}

func (m *Manager) set(s Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := m.settings.Set(store.SettingSession, string(data)); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}

	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
	return nil
}
