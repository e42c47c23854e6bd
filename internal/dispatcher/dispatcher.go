// Package dispatcher owns the outbound alert path: channel fan-out with
// retries, the bounded-rate message queue, the repeat-until-acknowledged
// loop and symbol mutes.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"hawkeye-monitor/internal/logging"
	"hawkeye-monitor/internal/metrics"
	"hawkeye-monitor/internal/models"
	"hawkeye-monitor/internal/notification"
	"hawkeye-monitor/internal/render"
	"hawkeye-monitor/internal/users"
)

const (
	outboundQueueSize = 1024
	outboundRate      = 20 // sends per second

	repeatTick   = 5 * time.Second
	sweepTick    = 60 * time.Second
	sendRetries  = 3
	retryPause   = time.Second
	broadcastGap = 100 * time.Millisecond
)

// CooldownStore is the slice of the engine the mute path needs.
type CooldownStore interface {
	ClearCooldowns(userID, symbol string)
	InvalidateUserCache()
}

type outboundMsg struct {
	chatID   string
	html     string
	keyboard notification.InlineKeyboard
}

// Stats is a point-in-time snapshot of dispatcher state.
type Stats struct {
	TotalSent    int64
	TotalFailed  int64
	PendingCount int
	MutedSymbols int
	QueueDepth   int
}

// Dispatcher delivers alerts and generic messages to users.
type Dispatcher struct {
	users    *users.Manager
	engine   CooldownStore
	telegram *notification.Telegram
	email    *notification.Email

	mu        sync.Mutex
	pending   map[string]map[string]*models.Alert
	confirmed map[string]map[string]bool
	mutes     map[string]map[string]time.Time

	outbound chan outboundMsg
	limiter  *rate.Limiter

	totalSent   int64
	totalFailed int64

	now    func() time.Time
	sleep  func(time.Duration)
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a dispatcher. engine may be set later with SetEngine to break
// the construction cycle between engine and dispatcher.
func New(userManager *users.Manager, telegram *notification.Telegram, email *notification.Email) *Dispatcher {
	return &Dispatcher{
		users:     userManager,
		telegram:  telegram,
		email:     email,
		pending:   make(map[string]map[string]*models.Alert),
		confirmed: make(map[string]map[string]bool),
		mutes:     make(map[string]map[string]time.Time),
		outbound:  make(chan outboundMsg, outboundQueueSize),
		limiter:   rate.NewLimiter(rate.Limit(outboundRate), 1),
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// SetEngine wires the cooldown store used by mute.
func (d *Dispatcher) SetEngine(engine CooldownStore) {
	d.engine = engine
}

// Start launches the outbound worker, repeat loop and mute sweeper.
func (d *Dispatcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	d.wg.Add(3)
	go func() {
		defer d.wg.Done()
		d.outboundWorker(ctx)
	}()
	go func() {
		defer d.wg.Done()
		d.repeatLoop(ctx)
	}()
	go func() {
		defer d.wg.Done()
		d.muteSweeper(ctx)
	}()
}

// Stop cancels the background tasks and waits for them.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// OnAlert is the engine sink: it registers repeating alerts and performs
// the first send attempt. Alerts for muted symbols are dropped.
func (d *Dispatcher) OnAlert(alert *models.Alert, user *users.UserConfig) {
	if d.IsMuted(user.UserID, alert.Symbol) {
		return
	}

	now := d.now().UTC()
	if user.EffectiveMode(now) == users.ModeRepeat {
		d.mu.Lock()
		if d.pending[user.UserID] == nil {
			d.pending[user.UserID] = make(map[string]*models.Alert)
		}
		d.pending[user.UserID][alert.ID] = alert
		d.mu.Unlock()
	}

	if err := d.sendAlert(alert, user); err != nil {
		logger := logging.Component("dispatcher")
		logger.Error().
			Err(err).
			Str("user", user.UserID).
			Str("alert", alert.ID).
			Msg("alert delivery failed")
		d.dropPending(user.UserID, alert.ID)
	}
}

// sendAlert performs one delivery attempt across the user's effective
// channel set. The chat channel sends directly so alerts bypass the
// generic-message rate limit; email rides the outbound queue.
func (d *Dispatcher) sendAlert(alert *models.Alert, user *users.UserConfig) error {
	now := d.now().UTC()

	d.mu.Lock()
	alert.SentCount++
	alert.LastSent = now
	alert.Status = models.StatusSent
	sentCount := alert.SentCount
	d.mu.Unlock()

	prefix := ""
	if user.IsNightTime(now) {
		prefix = "\U0001f319 "
	}
	if sentCount > 1 {
		repeat := user.EffectiveRepeat(now)
		prefix += fmt.Sprintf("\U0001f501[%d/%d] ", sentCount, repeat.MaxRepeats)
	}

	channels := user.EffectiveChannels(now)
	var firstErr error

	if users.HasChannel(channels, users.ChannelTelegram) {
		body := render.TelegramMessage(alert, prefix, user.TimezoneOffset)
		keyboard := alertKeyboard(alert)
		metrics.SendsAttempted.WithLabelValues("telegram").Inc()
		if err := d.sendTelegramWithRetry(user, body, keyboard); err != nil {
			metrics.SendsFailed.WithLabelValues("telegram").Inc()
			firstErr = err
		}
	}

	if users.HasChannel(channels, users.ChannelEmail) && user.Email.Enabled && d.email.Enabled() {
		subject := render.EmailSubject(alert)
		body := render.EmailHTML(alert, prefix, user.TimezoneOffset)
		to := append([]string(nil), user.Email.ToAddresses...)
		metrics.SendsAttempted.WithLabelValues("email").Inc()
		go func() {
			if err := d.email.Send(to, subject, body); err != nil {
				metrics.SendsFailed.WithLabelValues("email").Inc()
				logger := logging.Component("dispatcher")
				logger.Error().Err(err).Str("user", user.UserID).Msg("email send failed")
			}
		}()
	}

	d.mu.Lock()
	if firstErr == nil {
		d.totalSent++
	} else {
		d.totalFailed++
	}
	d.mu.Unlock()

	return firstErr
}

// sendTelegramWithRetry applies the transport error policy: blocked users
// are deactivated, timeouts count as delivered, transient errors retry up
// to 3 times with 1s spacing.
func (d *Dispatcher) sendTelegramWithRetry(user *users.UserConfig, html string, keyboard notification.InlineKeyboard) error {
	logger := logging.Component("dispatcher")

	var lastErr error
	for attempt := 1; attempt <= sendRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := d.telegram.SendMessage(ctx, user.ChatID, html, keyboard)
		cancel()

		if err == nil {
			return nil
		}
		if notification.IsBlocked(err) {
			logger.Warn().Str("user", user.UserID).Msg("user blocked the bot, deactivating")
			d.users.SetActive(user.UserID, false)
			d.engine.InvalidateUserCache()
			return err
		}
		if notification.IsTimeout(err) {
			// Probably delivered; retrying risks duplicates.
			logger.Warn().Str("user", user.UserID).Msg("telegram send timed out, assuming delivered")
			return nil
		}

		lastErr = err
		if attempt < sendRetries {
			d.sleep(retryPause)
		}
	}
	return fmt.Errorf("telegram send after %d attempts: %w", sendRetries, lastErr)
}

func alertKeyboard(alert *models.Alert) notification.InlineKeyboard {
	return notification.InlineKeyboard{
		{
			{Text: "✅ Ack", CallbackData: "confirm_alert_" + alert.ID},
			{Text: "\U0001f507 1h", CallbackData: fmt.Sprintf("mute_symbol_%s_60", alert.Symbol)},
			{Text: "\U0001f507 24h", CallbackData: fmt.Sprintf("mute_symbol_%s_1440", alert.Symbol)},
		},
	}
}

// repeatLoop resends unacknowledged repeating alerts on their effective
// cadence and retires exhausted ones.
func (d *Dispatcher) repeatLoop(ctx context.Context) {
	ticker := time.NewTicker(repeatTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runRepeatCycle()
		}
	}
}

func (d *Dispatcher) runRepeatCycle() {
	now := d.now().UTC()

	type due struct {
		alert *models.Alert
		user  *users.UserConfig
	}
	var resend []due

	d.mu.Lock()
	for userID, alerts := range d.pending {
		user := d.users.Get(userID)
		for alertID, alert := range alerts {
			switch {
			case user == nil || !user.IsActive:
				delete(alerts, alertID)
			case d.confirmed[userID][alertID]:
				delete(alerts, alertID)
			case d.mutedLocked(userID, alert.Symbol):
				delete(alerts, alertID)
			case alert.SentCount >= user.EffectiveRepeat(now).MaxRepeats:
				delete(alerts, alertID)
			case now.Sub(alert.LastSent) >= time.Duration(user.EffectiveRepeat(now).IntervalSeconds)*time.Second:
				resend = append(resend, due{alert: alert, user: user})
			}
		}
		if len(alerts) == 0 {
			delete(d.pending, userID)
		}
	}
	d.mu.Unlock()

	for _, r := range resend {
		if err := d.sendAlert(r.alert, r.user); err != nil {
			d.dropPending(r.user.UserID, r.alert.ID)
		}
	}
}

func (d *Dispatcher) dropPending(userID, alertID string) {
	d.mu.Lock()
	if alerts := d.pending[userID]; alerts != nil {
		delete(alerts, alertID)
		if len(alerts) == 0 {
			delete(d.pending, userID)
		}
	}
	d.mu.Unlock()
}

// Confirm acknowledges one alert by id, stopping its repeats.
func (d *Dispatcher) Confirm(userID, alertID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	alerts := d.pending[userID]
	alert, ok := alerts[alertID]
	if !ok {
		return false
	}

	alert.Status = models.StatusConfirmed
	alert.ConfirmedAt = d.now().UTC()
	delete(alerts, alertID)
	if len(alerts) == 0 {
		delete(d.pending, userID)
	}
	d.markConfirmedLocked(userID, alertID)
	return true
}

// ConfirmAll acknowledges every pending alert for the user.
func (d *Dispatcher) ConfirmAll(userID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	alerts := d.pending[userID]
	n := len(alerts)
	now := d.now().UTC()
	for alertID, alert := range alerts {
		alert.Status = models.StatusConfirmed
		alert.ConfirmedAt = now
		d.markConfirmedLocked(userID, alertID)
	}
	delete(d.pending, userID)
	return n
}

// RemoveSymbolAlerts retires every pending alert for (user, symbol),
// marking them confirmed so the repeat loop stops.
func (d *Dispatcher) RemoveSymbolAlerts(userID, symbol string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	alerts := d.pending[userID]
	removed := 0
	now := d.now().UTC()
	for alertID, alert := range alerts {
		if alert.Symbol != symbol {
			continue
		}
		alert.Status = models.StatusConfirmed
		alert.ConfirmedAt = now
		d.markConfirmedLocked(userID, alertID)
		delete(alerts, alertID)
		removed++
	}
	if len(alerts) == 0 {
		delete(d.pending, userID)
	}
	return removed
}

func (d *Dispatcher) markConfirmedLocked(userID, alertID string) {
	if d.confirmed[userID] == nil {
		d.confirmed[userID] = make(map[string]bool)
	}
	d.confirmed[userID][alertID] = true
}

// PendingAlerts returns a snapshot of the user's pending alerts.
func (d *Dispatcher) PendingAlerts(userID string) []*models.Alert {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]*models.Alert, 0, len(d.pending[userID]))
	for _, a := range d.pending[userID] {
		out = append(out, a)
	}
	return out
}

// SendMessage enqueues a generic message onto the rate-limited outbound
// queue. Returns false when the queue is full.
func (d *Dispatcher) SendMessage(chatID, html string, keyboard notification.InlineKeyboard) bool {
	select {
	case d.outbound <- outboundMsg{chatID: chatID, html: html, keyboard: keyboard}:
		return true
	default:
		logger := logging.Component("dispatcher")
		logger.Warn().Str("chat", chatID).Msg("outbound queue full, dropping message")
		return false
	}
}

// outboundWorker drains the generic queue at the global send rate.
func (d *Dispatcher) outboundWorker(ctx context.Context) {
	logger := logging.Component("dispatcher")

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-d.outbound:
			if err := d.limiter.Wait(ctx); err != nil {
				return
			}
			sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := d.telegram.SendMessage(sendCtx, msg.chatID, msg.html, msg.keyboard)
			cancel()
			if err != nil {
				logger.Warn().Err(err).Str("chat", msg.chatID).Msg("outbound message failed")
			}
		}
	}
}

// Broadcast sends html to every active user sequentially with a small gap.
// Returns the success and failure tallies.
func (d *Dispatcher) Broadcast(ctx context.Context, html string) (sent, failed int) {
	for _, user := range d.users.ActiveUsers() {
		if ctx.Err() != nil {
			return sent, failed
		}
		sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := d.telegram.SendMessage(sendCtx, user.ChatID, html, nil)
		cancel()
		if err != nil {
			failed++
		} else {
			sent++
		}
		d.sleep(broadcastGap)
	}
	return sent, failed
}

// Stats returns a snapshot of dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	pendingCount := 0
	for _, alerts := range d.pending {
		pendingCount += len(alerts)
	}
	muted := 0
	for _, symbols := range d.mutes {
		muted += len(symbols)
	}

	return Stats{
		TotalSent:    d.totalSent,
		TotalFailed:  d.totalFailed,
		PendingCount: pendingCount,
		MutedSymbols: muted,
		QueueDepth:   len(d.outbound),
	}
}
