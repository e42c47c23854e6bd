// Package bot is the Telegram command boundary: a long-poll loop that maps
// commands and callback buttons onto the monitor's operations.
package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"hawkeye-monitor/internal/binance"
	"hawkeye-monitor/internal/dispatcher"
	"hawkeye-monitor/internal/engine"
	"hawkeye-monitor/internal/logging"
	"hawkeye-monitor/internal/models"
	"hawkeye-monitor/internal/notification"
	"hawkeye-monitor/internal/render"
	"hawkeye-monitor/internal/users"
)

const (
	pollTimeout     = 30 * time.Second
	defaultMuteMins = 60
	listingSize     = 10
	listingMinVol   = 1_000_000
)

type tgUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type tgChat struct {
	ID int64 `json:"id"`
}

type tgMessage struct {
	MessageID int64   `json:"message_id"`
	From      *tgUser `json:"from"`
	Chat      tgChat  `json:"chat"`
	Text      string  `json:"text"`
}

type tgCallback struct {
	ID      string     `json:"id"`
	From    tgUser     `json:"from"`
	Message *tgMessage `json:"message"`
	Data    string     `json:"data"`
}

type tgUpdate struct {
	UpdateID      int64       `json:"update_id"`
	Message       *tgMessage  `json:"message"`
	CallbackQuery *tgCallback `json:"callback_query"`
}

// Bot drives the command loop.
type Bot struct {
	telegram *notification.Telegram
	users    *users.Manager
	feed     *binance.Feed
	engine   *engine.Engine
	disp     *dispatcher.Dispatcher
	logger   zerolog.Logger

	offset int64
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires the boundary onto the core subsystems.
func New(telegram *notification.Telegram, userManager *users.Manager, feed *binance.Feed, eng *engine.Engine, disp *dispatcher.Dispatcher) *Bot {
	return &Bot{
		telegram: telegram,
		users:    userManager,
		feed:     feed,
		engine:   eng,
		disp:     disp,
		logger:   logging.Component("bot"),
	}
}

// Start launches the long-poll loop.
func (b *Bot) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.pollLoop(ctx)
	}()
}

// Stop cancels the loop and waits.
func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
}

type getUpdatesRequest struct {
	Offset  int64 `json:"offset"`
	Timeout int   `json:"timeout"`
}

func (b *Bot) pollLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		var updates []tgUpdate
		pollCtx, cancel := context.WithTimeout(ctx, pollTimeout+10*time.Second)
		err := b.telegram.Do(pollCtx, "getUpdates", getUpdatesRequest{
			Offset:  b.offset,
			Timeout: int(pollTimeout / time.Second),
		}, &updates)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn().Err(err).Msg("getUpdates failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(3 * time.Second):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= b.offset {
				b.offset = u.UpdateID + 1
			}
			b.handleUpdate(ctx, u)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, u tgUpdate) {
	switch {
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil && u.Message.From != nil:
		b.handleMessage(u.Message)
	}
}

func (b *Bot) handleMessage(msg *tgMessage) {
	userID := strconv.FormatInt(msg.From.ID, 10)
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	user := b.users.GetOrCreate(userID, msg.From.Username, chatID)
	b.engine.InvalidateUserCache()

	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}

	fields := strings.Fields(text)
	command := strings.ToLower(fields[0])
	if i := strings.IndexByte(command, '@'); i >= 0 {
		command = command[:i]
	}
	args := fields[1:]

	switch command {
	case "/start":
		b.reply(user, b.welcome(user))
	case "/stop":
		b.users.SetActive(user.UserID, false)
		b.engine.InvalidateUserCache()
		b.reply(user, "\U0001f6d1 Alerts paused. Send any command to resume.")
	case "/status":
		b.reply(user, b.status(user))
	case "/top":
		b.reply(user, b.listing(args))
	case "/mute":
		b.reply(user, b.mute(user, args))
	case "/unmute":
		b.reply(user, b.unmute(user, args))
	case "/ack":
		b.reply(user, b.ack(user, args))
	case "/broadcast":
		b.reply(user, b.broadcast(user, text))
	default:
		b.reply(user, "Unknown command. Try /status, /top, /mute, /unmute or /ack.")
	}
}

func (b *Bot) reply(user *users.UserConfig, html string) {
	if html == "" {
		return
	}
	b.disp.SendMessage(user.ChatID, html, nil)
}

func (b *Bot) welcome(user *users.UserConfig) string {
	return fmt.Sprintf(
		"\U0001f985 <b>Hawkeye Monitor</b>\n\n"+
			"Registered as <b>%s</b> (profile: %s).\n\n"+
			"Commands:\n"+
			"/status - your settings and stats\n"+
			"/top gainers|losers|volume|spread|funding - market listings\n"+
			"/mute SYMBOL [MINUTES] - silence a symbol\n"+
			"/unmute SYMBOL - restore a symbol\n"+
			"/ack ID|all - acknowledge alerts\n"+
			"/stop - pause all alerts",
		user.UserID, user.Profile)
}

func (b *Bot) status(user *users.UserConfig) string {
	es := b.engine.Stats()
	ds := b.disp.Stats()
	pending := b.disp.PendingAlerts(user.UserID)
	mutes := b.disp.MutedSymbols(user.UserID)

	var sb strings.Builder
	sb.WriteString("\U0001f4cb <b>Status</b>\n\n")
	fmt.Fprintf(&sb, "Profile: %s | Mode: %s | Cooldown: %ds\n", user.Profile, user.AlertMode.Mode, user.CooldownSeconds)
	fmt.Fprintf(&sb, "Watch: %s (wl %d / bl %d)\n", user.WatchMode, len(user.Whitelist), len(user.Blacklist))
	fmt.Fprintf(&sb, "Night: %v %s-%s\n\n", user.AlertMode.Night.Enabled, user.AlertMode.Night.Start, user.AlertMode.Night.End)
	fmt.Fprintf(&sb, "Alerts fired: %d (escalations %d)\n", es.TotalAlerts, es.Escalations)
	fmt.Fprintf(&sb, "Sent: %d | Failed: %d | Queue: %d\n", ds.TotalSent, ds.TotalFailed, ds.QueueDepth)
	fmt.Fprintf(&sb, "Your pending: %d", len(pending))
	if len(mutes) > 0 {
		sb.WriteString("\nMuted:")
		for symbol, expiry := range mutes {
			fmt.Fprintf(&sb, " %s(until %s)", symbol, expiry.UTC().Format("15:04"))
		}
	}
	return sb.String()
}

func (b *Bot) listing(args []string) string {
	kind := "gainers"
	if len(args) > 0 {
		kind = strings.ToLower(args[0])
	}

	var sb strings.Builder
	switch kind {
	case "gainers", "losers":
		var rows []binance.RankingEntry
		if kind == "gainers" {
			sb.WriteString("\U0001f4c8 <b>Top gainers (24h)</b>\n\n")
			rows = b.feed.TopGainers(models.MarketSpot, listingSize, listingMinVol)
		} else {
			sb.WriteString("\U0001f4c9 <b>Top losers (24h)</b>\n\n")
			rows = b.feed.TopLosers(models.MarketSpot, listingSize, listingMinVol)
		}
		for i, r := range rows {
			fmt.Fprintf(&sb, "%2d. %s %+.2f%% $%s\n", i+1, models.BaseAsset(r.Symbol), r.ChangePercent, render.FormatPrice(r.Price))
		}
	case "volume":
		sb.WriteString("\U0001f4ca <b>Top turnover (24h)</b>\n\n")
		for i, r := range b.feed.TopByVolume(models.MarketSpot, listingSize, 0) {
			fmt.Fprintf(&sb, "%2d. %s %s\n", i+1, models.BaseAsset(r.Symbol), render.FormatVolume(r.QuoteVolume))
		}
	case "spread", "spreads":
		sb.WriteString("↕️ <b>Widest spot/futures spreads</b>\n\n")
		for i, r := range b.feed.TopSpreads(listingSize, listingMinVol) {
			fmt.Fprintf(&sb, "%2d. %s %+.2f%%\n", i+1, models.BaseAsset(r.Symbol), r.SpreadPercent)
		}
	case "funding":
		sb.WriteString("\U0001f4b0 <b>Highest funding rates</b>\n\n")
		for i, r := range b.feed.TopFunding(listingSize, true) {
			fmt.Fprintf(&sb, "%2d. %s %+.4f%%\n", i+1, models.BaseAsset(r.Symbol), r.RatePercent)
		}
	default:
		return "Usage: /top gainers|losers|volume|spread|funding"
	}
	return sb.String()
}

func normalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s != "" && !strings.HasSuffix(s, models.QuoteAsset) {
		s += models.QuoteAsset
	}
	return s
}

func (b *Bot) mute(user *users.UserConfig, args []string) string {
	if len(args) == 0 {
		return "Usage: /mute SYMBOL [MINUTES]"
	}
	symbol := normalizeSymbol(args[0])
	minutes := defaultMuteMins
	if len(args) > 1 {
		if m, err := strconv.Atoi(args[1]); err == nil && m > 0 {
			minutes = m
		}
	}
	expiry := b.disp.Mute(user.UserID, symbol, minutes)
	return fmt.Sprintf("\U0001f507 <b>%s</b> muted for %d min (until %s UTC)", symbol, minutes, expiry.UTC().Format("15:04"))
}

func (b *Bot) unmute(user *users.UserConfig, args []string) string {
	if len(args) == 0 {
		return "Usage: /unmute SYMBOL"
	}
	symbol := normalizeSymbol(args[0])
	if !b.disp.Unmute(user.UserID, symbol) {
		return fmt.Sprintf("%s is not muted", symbol)
	}
	return fmt.Sprintf("\U0001f514 <b>%s</b> alerts restored", symbol)
}

func (b *Bot) ack(user *users.UserConfig, args []string) string {
	if len(args) == 0 || strings.EqualFold(args[0], "all") {
		n := b.disp.ConfirmAll(user.UserID)
		return fmt.Sprintf("✅ Acknowledged %d alert(s)", n)
	}
	if b.disp.Confirm(user.UserID, args[0]) {
		return fmt.Sprintf("✅ Alert %s acknowledged", args[0])
	}
	return fmt.Sprintf("No pending alert with id %s", args[0])
}

func (b *Bot) broadcast(user *users.UserConfig, text string) string {
	if !b.users.IsAdmin(user.UserID) {
		return "Admin only."
	}
	body := strings.TrimSpace(strings.TrimPrefix(text, "/broadcast"))
	if body == "" {
		return "Usage: /broadcast MESSAGE"
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		sent, failed := b.disp.Broadcast(ctx, "\U0001f4e3 "+body)
		b.disp.SendMessage(user.ChatID, fmt.Sprintf("Broadcast done: %d sent, %d failed", sent, failed), nil)
	}()
	return "Broadcast started."
}

type answerCallbackRequest struct {
	CallbackQueryID string `json:"callback_query_id"`
	Text            string `json:"text,omitempty"`
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgCallback) {
	userID := strconv.FormatInt(cb.From.ID, 10)
	user := b.users.Get(userID)
	answer := ""

	switch {
	case strings.HasPrefix(cb.Data, "confirm_alert_"):
		alertID := strings.TrimPrefix(cb.Data, "confirm_alert_")
		if b.disp.Confirm(userID, alertID) {
			answer = "Acknowledged"
		} else {
			answer = "Already acknowledged"
		}
	case strings.HasPrefix(cb.Data, "mute_symbol_"):
		payload := strings.TrimPrefix(cb.Data, "mute_symbol_")
		idx := strings.LastIndexByte(payload, '_')
		if idx <= 0 || user == nil {
			break
		}
		symbol := payload[:idx]
		minutes, err := strconv.Atoi(payload[idx+1:])
		if err != nil || minutes <= 0 {
			break
		}
		b.disp.Mute(userID, symbol, minutes)
		answer = fmt.Sprintf("%s muted %dm", symbol, minutes)
	}

	answerCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := b.telegram.Do(answerCtx, "answerCallbackQuery", answerCallbackRequest{
		CallbackQueryID: cb.ID,
		Text:            answer,
	}, nil); err != nil {
		b.logger.Debug().Err(err).Msg("answerCallbackQuery failed")
	}
}
