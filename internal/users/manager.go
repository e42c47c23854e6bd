package users

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Manager is the multi-user config store. All users persist in a single
// JSON file in the data directory, rewritten atomically on each mutation.
// Mutations notify the registered listener so the engine can invalidate its
// active-user cache.
type Manager struct {
	dataDir   string
	usersFile string

	mu       sync.RWMutex
	users    map[string]*UserConfig
	adminIDs map[string]bool

	onChange func()
}

// NewManager loads the user store from dataDir, creating the directory if
// needed. A corrupt users file is a startup error: the operator must repair
// it rather than have the process silently drop configurations.
func NewManager(dataDir string, adminIDs []string) (*Manager, error) {
	m := &Manager{
		dataDir:   dataDir,
		usersFile: filepath.Join(dataDir, "users.json"),
		users:     make(map[string]*UserConfig),
		adminIDs:  make(map[string]bool),
	}
	for _, id := range adminIDs {
		id = strings.TrimSpace(id)
		if id != "" {
			m.adminIDs[id] = true
		}
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// OnChange registers a callback invoked after every persisted mutation.
func (m *Manager) OnChange(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.usersFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading users file: %w", err)
	}

	var raw map[string]*UserConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("users file %s is corrupt: %w", m.usersFile, err)
	}

	for id, cfg := range raw {
		for i, s := range cfg.Whitelist {
			cfg.Whitelist[i] = strings.ToUpper(s)
		}
		for i, s := range cfg.Blacklist {
			cfg.Blacklist[i] = strings.ToUpper(s)
		}
		m.users[id] = cfg
	}
	log.Info().Int("users", len(m.users)).Msg("user store loaded")
	return nil
}

// save rewrites the users file atomically. Callers hold the write lock.
func (m *Manager) save() {
	data, err := json.MarshalIndent(m.users, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("marshaling user store")
		return
	}

	tmp := m.usersFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Error().Err(err).Msg("writing user store")
		return
	}
	if err := os.Rename(tmp, m.usersFile); err != nil {
		log.Error().Err(err).Msg("replacing user store")
		return
	}
}

// notify invokes the change listener. Callers must not hold m.mu: the
// listener may call back into the manager.
func (m *Manager) notify() {
	m.mu.RLock()
	fn := m.onChange
	m.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Get returns an isolated copy of the config for userID, or nil if unknown.
func (m *Manager) Get(userID string) *UserConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.users[userID].Clone()
}

// GetOrCreate returns the config for userID, registering a new user with
// default settings on first contact. Contact from a user reactivates them.
func (m *Manager) GetOrCreate(userID, username, chatID string) *UserConfig {
	m.mu.Lock()

	cfg, ok := m.users[userID]
	changed := false
	if !ok {
		cfg = NewUserConfig(userID)
		cfg.Username = username
		if chatID != "" {
			cfg.ChatID = chatID
		}
		cfg.IsAdmin = m.adminIDs[userID]
		m.users[userID] = cfg
		m.save()
		changed = true
		log.Info().Str("user", userID).Str("username", username).Msg("user registered")
	} else {
		if username != "" && cfg.Username != username {
			cfg.Username = username
			changed = true
		}
		if chatID != "" && cfg.ChatID != chatID {
			cfg.ChatID = chatID
			changed = true
		}
		if !cfg.IsActive {
			// The user initiated contact again; resume deliveries.
			cfg.IsActive = true
			changed = true
		}
		if changed {
			m.save()
		}
	}

	out := cfg.Clone()
	m.mu.Unlock()

	if changed {
		m.notify()
	}
	return out
}

// Update applies fn to the user's config under the write lock, persists and
// notifies the change listener after the lock is released.
func (m *Manager) Update(userID string, fn func(*UserConfig)) bool {
	m.mu.Lock()
	cfg, ok := m.users[userID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	fn(cfg)
	m.save()
	m.mu.Unlock()

	m.notify()
	return true
}

// SetActive flips the user's active flag.
func (m *Manager) SetActive(userID string, active bool) {
	m.Update(userID, func(c *UserConfig) { c.IsActive = active })
}

// SetProfile applies a preset threshold bundle.
func (m *Manager) SetProfile(userID string, profile AlertProfile) {
	m.Update(userID, func(c *UserConfig) { ApplyProfile(c, profile) })
}

// SetAlertMode sets the base alert mode.
func (m *Manager) SetAlertMode(userID string, mode AlertMode) {
	m.Update(userID, func(c *UserConfig) {
		c.AlertMode.Mode = mode
		if mode == ModeRepeat {
			c.AlertMode.Repeat.Enabled = true
		}
	})
}

// SetNightMode enables or disables the night window.
func (m *Manager) SetNightMode(userID string, enabled bool) {
	m.Update(userID, func(c *UserConfig) { c.AlertMode.Night.Enabled = enabled })
}

// SetNightWindow sets the local-time night window bounds.
func (m *Manager) SetNightWindow(userID, start, end string) error {
	if _, err := parseClock(start); err != nil {
		return err
	}
	if _, err := parseClock(end); err != nil {
		return err
	}
	m.Update(userID, func(c *UserConfig) {
		c.AlertMode.Night.Start = start
		c.AlertMode.Night.End = end
	})
	return nil
}

// SetTimezone sets the user's fixed UTC offset.
func (m *Manager) SetTimezone(userID string, offset int, name string) {
	m.Update(userID, func(c *UserConfig) {
		c.TimezoneOffset = offset
		if name == "" {
			name = fmt.Sprintf("UTC%+d", offset)
		}
		c.TimezoneName = name
	})
}

// SetWatchMode sets the symbol admission mode.
func (m *Manager) SetWatchMode(userID string, mode WatchMode) bool {
	switch mode {
	case WatchAll, WatchWhitelist, WatchBlacklist:
	default:
		return false
	}
	return m.Update(userID, func(c *UserConfig) { c.WatchMode = mode })
}

// AddToWhitelist appends symbols to the user's whitelist.
func (m *Manager) AddToWhitelist(userID string, symbols []string) {
	m.Update(userID, func(c *UserConfig) {
		c.Whitelist = addSymbols(c.Whitelist, symbols)
	})
}

// RemoveFromWhitelist removes symbols from the user's whitelist.
func (m *Manager) RemoveFromWhitelist(userID string, symbols []string) {
	m.Update(userID, func(c *UserConfig) {
		c.Whitelist = removeSymbols(c.Whitelist, symbols)
	})
}

// AddToBlacklist appends symbols to the user's blacklist.
func (m *Manager) AddToBlacklist(userID string, symbols []string) {
	m.Update(userID, func(c *UserConfig) {
		c.Blacklist = addSymbols(c.Blacklist, symbols)
	})
}

// RemoveFromBlacklist removes symbols from the user's blacklist.
func (m *Manager) RemoveFromBlacklist(userID string, symbols []string) {
	m.Update(userID, func(c *UserConfig) {
		c.Blacklist = removeSymbols(c.Blacklist, symbols)
	})
}

func addSymbols(list, symbols []string) []string {
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		found := false
		for _, have := range list {
			if have == s {
				found = true
				break
			}
		}
		if !found {
			list = append(list, s)
		}
	}
	return list
}

func removeSymbols(list, symbols []string) []string {
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		for i, have := range list {
			if have == s {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
	return list
}

// SetVolumeFilter configures the minimum 24h turnover gate.
func (m *Manager) SetVolumeFilter(userID string, enabled bool, minVolume float64) {
	m.Update(userID, func(c *UserConfig) {
		c.VolumeFilterEnabled = enabled
		if minVolume > 0 {
			c.MinVolume24h = minVolume
		}
	})
}

// EnableEmail turns on email delivery, optionally adding an address.
func (m *Manager) EnableEmail(userID, address string) bool {
	return m.Update(userID, func(c *UserConfig) {
		c.Email.Enabled = true
		if address != "" {
			found := false
			for _, a := range c.Email.ToAddresses {
				if a == address {
					found = true
					break
				}
			}
			if !found {
				c.Email.ToAddresses = append(c.Email.ToAddresses, address)
			}
		}
		if !HasChannel(c.NotifyChannels, ChannelEmail) {
			c.NotifyChannels = append(c.NotifyChannels, ChannelEmail)
		}
	})
}

// DisableEmail turns off email delivery.
func (m *Manager) DisableEmail(userID string) bool {
	return m.Update(userID, func(c *UserConfig) {
		c.Email.Enabled = false
		for i, ch := range c.NotifyChannels {
			if ch == ChannelEmail {
				c.NotifyChannels = append(c.NotifyChannels[:i], c.NotifyChannels[i+1:]...)
				break
			}
		}
	})
}

// ActiveUsers returns isolated copies of all active user configs, safe to
// read without synchronizing against later mutations.
func (m *Manager) ActiveUsers() []*UserConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*UserConfig, 0, len(m.users))
	for _, c := range m.users {
		if c.IsActive {
			out = append(out, c.Clone())
		}
	}
	return out
}

// AllUsers returns isolated copies of every registered user config.
func (m *Manager) AllUsers() []*UserConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*UserConfig, 0, len(m.users))
	for _, c := range m.users {
		out = append(out, c.Clone())
	}
	return out
}

// IsAdmin reports whether userID is in the admin allow-list or has the
// admin flag set.
func (m *Manager) IsAdmin(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.adminIDs[userID] {
		return true
	}
	c, ok := m.users[userID]
	return ok && c.IsAdmin
}
