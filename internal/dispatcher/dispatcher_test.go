package dispatcher

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"hawkeye-monitor/internal/models"
	"hawkeye-monitor/internal/notification"
	"hawkeye-monitor/internal/users"
)

type stubEngine struct {
	cleared     [][2]string
	invalidated int32
}

func (s *stubEngine) ClearCooldowns(userID, symbol string) {
	s.cleared = append(s.cleared, [2]string{userID, symbol})
}

func (s *stubEngine) InvalidateUserCache() {
	atomic.AddInt32(&s.invalidated, 1)
}

type fixture struct {
	disp    *Dispatcher
	users   *users.Manager
	engine  *stubEngine
	sends   *int32
	fail403 *int32
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	var sends, fail403 int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "sendMessage") {
			if atomic.LoadInt32(&fail403) != 0 {
				w.WriteHeader(http.StatusForbidden)
				w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`))
				return
			}
			atomic.AddInt32(&sends, 1)
		}
		w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	t.Cleanup(server.Close)

	m, err := users.NewManager(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("users.NewManager: %v", err)
	}
	m.GetOrCreate("u1", "alice", "u1")
	// Daytime determinism: night off unless a test turns it back on.
	m.Update("u1", func(c *users.UserConfig) {
		c.TimezoneOffset = 0
		c.AlertMode.Night.Enabled = false
	})

	f := &fixture{
		users:   m,
		engine:  &stubEngine{},
		sends:   &sends,
		fail403: &fail403,
		now:     time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
	}
	f.disp = New(m, notification.NewTelegramWithBase("test-token", server.URL), &notification.Email{})
	f.disp.SetEngine(f.engine)
	f.disp.now = func() time.Time { return f.now }
	f.disp.sleep = func(time.Duration) {}
	return f
}

func (f *fixture) user() *users.UserConfig { return f.users.Get("u1") }

func (f *fixture) alert(symbol string) *models.Alert {
	a := models.NewAlert(models.AlertPricePump, models.LevelWarning, symbol, models.MarketSpot,
		"BTC up 7.00% in 1m", models.PriceData{ChangePercent: 7, Horizon: "1m"})
	a.TargetUserID = "u1"
	return a
}

func (f *fixture) sendCount() int { return int(atomic.LoadInt32(f.sends)) }

func TestSingleModeDoesNotEnterPending(t *testing.T) {
	f := newFixture(t)

	f.disp.OnAlert(f.alert("BTCUSDT"), f.user())

	if f.sendCount() != 1 {
		t.Fatalf("sends = %d, want 1", f.sendCount())
	}
	if len(f.disp.PendingAlerts("u1")) != 0 {
		t.Error("single-mode alert entered pending")
	}
}

func TestRepeatModeResendsUntilConfirmed(t *testing.T) {
	f := newFixture(t)
	f.users.Update("u1", func(c *users.UserConfig) { c.AlertMode.Mode = users.ModeRepeat })

	a := f.alert("BTCUSDT")
	f.disp.OnAlert(a, f.user())
	if len(f.disp.PendingAlerts("u1")) != 1 {
		t.Fatal("repeat-mode alert missing from pending")
	}

	// Base repeat interval is 10s; two cycles resend twice.
	f.now = f.now.Add(11 * time.Second)
	f.disp.runRepeatCycle()
	f.now = f.now.Add(11 * time.Second)
	f.disp.runRepeatCycle()
	if f.sendCount() != 3 {
		t.Fatalf("sends = %d, want 3", f.sendCount())
	}

	if !f.disp.Confirm("u1", a.ID) {
		t.Fatal("confirm failed")
	}
	if a.Status != models.StatusConfirmed {
		t.Errorf("status = %v, want confirmed", a.Status)
	}

	f.now = f.now.Add(time.Minute)
	f.disp.runRepeatCycle()
	if f.sendCount() != 3 {
		t.Errorf("confirmed alert resent: %d sends", f.sendCount())
	}
}

func TestRepeatTermination(t *testing.T) {
	f := newFixture(t)
	f.users.Update("u1", func(c *users.UserConfig) {
		c.AlertMode.Mode = users.ModeRepeat
		c.AlertMode.Repeat.MaxRepeats = 3
	})

	a := f.alert("BTCUSDT")
	f.disp.OnAlert(a, f.user())

	for i := 0; i < 10; i++ {
		f.now = f.now.Add(11 * time.Second)
		f.disp.runRepeatCycle()
	}

	if a.SentCount > 3 {
		t.Errorf("sent %d times, cap is 3", a.SentCount)
	}
	if len(f.disp.PendingAlerts("u1")) != 0 {
		t.Error("exhausted alert still pending")
	}
}

func TestMuteContract(t *testing.T) {
	f := newFixture(t)
	f.users.Update("u1", func(c *users.UserConfig) { c.AlertMode.Mode = users.ModeRepeat })

	f.disp.OnAlert(f.alert("YUSDT"), f.user())
	if len(f.disp.PendingAlerts("u1")) != 1 {
		t.Fatal("alert not pending")
	}

	f.disp.Mute("u1", "YUSDT", 60)

	if len(f.disp.PendingAlerts("u1")) != 0 {
		t.Error("mute left pending alerts")
	}
	if !f.disp.IsMuted("u1", "YUSDT") {
		t.Error("symbol not muted")
	}
	if len(f.engine.cleared) == 0 {
		t.Error("mute must clear engine cooldowns")
	}
	if !contains(f.user().Blacklist, "YUSDT") {
		t.Error("mute must blacklist the symbol")
	}

	// Alerts for the muted symbol are dropped at the door.
	before := f.sendCount()
	f.disp.OnAlert(f.alert("YUSDT"), f.user())
	if f.sendCount() != before {
		t.Error("muted symbol still delivered")
	}

	// Expiry: the sweeper restores the symbol and notifies once.
	f.now = f.now.Add(61 * time.Minute)
	f.disp.sweepMutes()

	if f.disp.IsMuted("u1", "YUSDT") {
		t.Error("mute survived expiry")
	}
	if contains(f.user().Blacklist, "YUSDT") {
		t.Error("sweeper did not remove the blacklist entry")
	}
	if got := f.disp.Stats().QueueDepth; got != 1 {
		t.Errorf("restore notifications queued = %d, want 1", got)
	}
}

func TestUnmuteEarly(t *testing.T) {
	f := newFixture(t)

	f.disp.Mute("u1", "YUSDT", 60)
	if !f.disp.Unmute("u1", "YUSDT") {
		t.Fatal("unmute failed")
	}
	if f.disp.IsMuted("u1", "YUSDT") {
		t.Error("symbol still muted")
	}
	if contains(f.user().Blacklist, "YUSDT") {
		t.Error("unmute did not clear the blacklist")
	}
	if f.disp.Unmute("u1", "YUSDT") {
		t.Error("double unmute reported success")
	}
}

func TestNightModeEntersPending(t *testing.T) {
	f := newFixture(t)
	f.users.Update("u1", func(c *users.UserConfig) {
		c.AlertMode.Mode = users.ModeSingle
		c.AlertMode.Night.Enabled = true
		c.AlertMode.Night.Start = "23:00"
		c.AlertMode.Night.End = "07:00"
	})
	f.now = time.Date(2026, 1, 15, 23, 30, 0, 0, time.UTC)

	f.disp.OnAlert(f.alert("BTCUSDT"), f.user())
	if len(f.disp.PendingAlerts("u1")) != 1 {
		t.Error("night window must upgrade SINGLE to REPEAT")
	}
}

func TestConfirmAll(t *testing.T) {
	f := newFixture(t)
	f.users.Update("u1", func(c *users.UserConfig) { c.AlertMode.Mode = users.ModeRepeat })

	f.disp.OnAlert(f.alert("AUSDT"), f.user())
	f.disp.OnAlert(f.alert("BUSDT"), f.user())

	if n := f.disp.ConfirmAll("u1"); n != 2 {
		t.Errorf("ConfirmAll = %d, want 2", n)
	}
	if len(f.disp.PendingAlerts("u1")) != 0 {
		t.Error("pending alerts remain after ConfirmAll")
	}
}

func TestRemoveSymbolAlerts(t *testing.T) {
	f := newFixture(t)
	f.users.Update("u1", func(c *users.UserConfig) { c.AlertMode.Mode = users.ModeRepeat })

	f.disp.OnAlert(f.alert("AUSDT"), f.user())
	f.disp.OnAlert(f.alert("BUSDT"), f.user())

	if n := f.disp.RemoveSymbolAlerts("u1", "AUSDT"); n != 1 {
		t.Errorf("RemoveSymbolAlerts = %d, want 1", n)
	}
	left := f.disp.PendingAlerts("u1")
	if len(left) != 1 || left[0].Symbol != "BUSDT" {
		t.Errorf("pending after removal = %v", left)
	}
}

func TestBlockedRecipientDeactivates(t *testing.T) {
	f := newFixture(t)
	atomic.StoreInt32(f.fail403, 1)

	f.disp.OnAlert(f.alert("BTCUSDT"), f.user())

	if f.user().IsActive {
		t.Error("blocked recipient must be deactivated")
	}
	if atomic.LoadInt32(&f.engine.invalidated) == 0 {
		t.Error("deactivation must invalidate the engine user cache")
	}
}

func TestSendMessageQueueFull(t *testing.T) {
	f := newFixture(t)

	// No outbound worker is running, so the queue fills and overflow drops.
	for i := 0; i < outboundQueueSize; i++ {
		if !f.disp.SendMessage("u1", "hi", nil) {
			t.Fatalf("enqueue %d rejected below capacity", i)
		}
	}
	if f.disp.SendMessage("u1", "hi", nil) {
		t.Error("overflowing enqueue reported success")
	}
	if got := f.disp.Stats().QueueDepth; got != outboundQueueSize {
		t.Errorf("queue depth = %d, want %d", got, outboundQueueSize)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
