package users

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), []string{"admin1"})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestGetOrCreateRegisters(t *testing.T) {
	m := newTestManager(t)

	c := m.GetOrCreate("100", "alice", "100")
	if c == nil || !c.IsActive {
		t.Fatal("new user should be active")
	}
	if c.Profile != ProfileModerate {
		t.Errorf("default profile = %v, want moderate", c.Profile)
	}
	got := m.Get("100")
	if got == nil || got.UserID != c.UserID || got.Username != "alice" {
		t.Errorf("Get returned %+v, want the registered config", got)
	}
}

func TestSnapshotsAreIsolatedCopies(t *testing.T) {
	m := newTestManager(t)
	m.GetOrCreate("100", "alice", "100")
	m.AddToBlacklist("100", []string{"BTCUSDT"})

	// A snapshot taken before a mutation must not observe it.
	snap := m.ActiveUsers()
	if len(snap) != 1 || len(snap[0].Blacklist) != 1 {
		t.Fatalf("snapshot = %+v, want one user with one blacklist entry", snap)
	}
	m.AddToBlacklist("100", []string{"ETHUSDT"})
	if len(snap[0].Blacklist) != 1 {
		t.Errorf("mutation leaked into snapshot: %v", snap[0].Blacklist)
	}

	// Writes through a returned config must not reach the store.
	c := m.Get("100")
	c.Blacklist[0] = "XUSDT"
	c.CooldownSeconds = 1
	fresh := m.Get("100")
	if fresh.Blacklist[0] != "BTCUSDT" {
		t.Errorf("stored blacklist = %v, caller write leaked in", fresh.Blacklist)
	}
	if fresh.CooldownSeconds == 1 {
		t.Error("stored cooldown mutated through a snapshot")
	}
}

func TestGetOrCreateReactivates(t *testing.T) {
	m := newTestManager(t)

	m.GetOrCreate("100", "alice", "100")
	m.SetActive("100", false)
	if m.Get("100").IsActive {
		t.Fatal("deactivation failed")
	}

	c := m.GetOrCreate("100", "alice", "100")
	if !c.IsActive {
		t.Error("contact should reactivate the user")
	}
}

func TestStoreRoundtrip(t *testing.T) {
	dir := t.TempDir()

	m1, err := NewManager(dir, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	m1.GetOrCreate("100", "alice", "100")
	m1.SetProfile("100", ProfileAggressive)
	m1.AddToBlacklist("100", []string{"dogeusdt"})

	m2, err := NewManager(dir, nil)
	if err != nil {
		t.Fatalf("reloading store: %v", err)
	}
	c := m2.Get("100")
	if c == nil {
		t.Fatal("user lost across reload")
	}
	if c.Profile != ProfileAggressive {
		t.Errorf("profile = %v, want aggressive", c.Profile)
	}
	if len(c.Blacklist) != 1 || c.Blacklist[0] != "DOGEUSDT" {
		t.Errorf("blacklist = %v, want [DOGEUSDT]", c.Blacklist)
	}
}

func TestCorruptStoreRefusesStart(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "users.json"), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewManager(dir, nil); err == nil {
		t.Fatal("corrupt store must refuse to start")
	}
}

func TestOnChangeFires(t *testing.T) {
	m := newTestManager(t)

	fired := 0
	m.OnChange(func() { fired++ })
	m.GetOrCreate("100", "alice", "100")
	m.SetAlertMode("100", ModeRepeat)

	if fired < 2 {
		t.Errorf("onChange fired %d times, want >= 2", fired)
	}
}

func TestWatchListMutations(t *testing.T) {
	m := newTestManager(t)
	m.GetOrCreate("100", "alice", "100")

	m.AddToWhitelist("100", []string{"btcusdt", "BTCUSDT", "ethusdt"})
	c := m.Get("100")
	if len(c.Whitelist) != 2 {
		t.Errorf("whitelist = %v, want deduplicated pair", c.Whitelist)
	}

	m.RemoveFromWhitelist("100", []string{"ETHUSDT"})
	if len(m.Get("100").Whitelist) != 1 {
		t.Errorf("whitelist after removal = %v", m.Get("100").Whitelist)
	}

	if !m.SetWatchMode("100", WatchWhitelist) {
		t.Error("valid watch mode rejected")
	}
	if m.SetWatchMode("100", WatchMode("bogus")) {
		t.Error("invalid watch mode accepted")
	}
}

func TestIsAdmin(t *testing.T) {
	m := newTestManager(t)
	m.GetOrCreate("admin1", "boss", "admin1")
	m.GetOrCreate("100", "alice", "100")

	if !m.IsAdmin("admin1") {
		t.Error("allow-listed user should be admin")
	}
	if m.IsAdmin("100") {
		t.Error("plain user should not be admin")
	}
}

func TestEmailMutations(t *testing.T) {
	m := newTestManager(t)
	m.GetOrCreate("100", "alice", "100")

	m.EnableEmail("100", "a@example.com")
	c := m.Get("100")
	if !c.Email.Enabled || len(c.Email.ToAddresses) != 1 {
		t.Fatalf("enable email failed: %+v", c.Email)
	}
	if !HasChannel(c.NotifyChannels, ChannelEmail) {
		t.Error("email channel not added")
	}

	m.DisableEmail("100")
	c = m.Get("100")
	if c.Email.Enabled || HasChannel(c.NotifyChannels, ChannelEmail) {
		t.Error("disable email failed")
	}
}
