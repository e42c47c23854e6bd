package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hawkeye-monitor/internal/logging"
)

// Mute suppresses one symbol for one user for minutes: the symbol joins the
// user's blacklist, outstanding repeats are retired, engine cooldowns clear
// and the expiry is recorded for the sweeper.
func (d *Dispatcher) Mute(userID, symbol string, minutes int) time.Time {
	symbol = strings.ToUpper(symbol)
	expiry := d.now().Add(time.Duration(minutes) * time.Minute)

	d.users.AddToBlacklist(userID, []string{symbol})
	d.RemoveSymbolAlerts(userID, symbol)
	if d.engine != nil {
		d.engine.ClearCooldowns(userID, symbol)
		d.engine.InvalidateUserCache()
	}

	d.mu.Lock()
	if d.mutes[userID] == nil {
		d.mutes[userID] = make(map[string]time.Time)
	}
	d.mutes[userID][symbol] = expiry
	d.mu.Unlock()

	logger := logging.Component("dispatcher")
	logger.Info().
		Str("user", userID).
		Str("symbol", symbol).
		Int("minutes", minutes).
		Msg("symbol muted")
	return expiry
}

// Unmute lifts a mute early: the symbol leaves the blacklist and the mute
// entry is deleted. Cooldowns stay cleared so the symbol can alert at once.
func (d *Dispatcher) Unmute(userID, symbol string) bool {
	symbol = strings.ToUpper(symbol)

	d.mu.Lock()
	_, ok := d.mutes[userID][symbol]
	if ok {
		delete(d.mutes[userID], symbol)
		if len(d.mutes[userID]) == 0 {
			delete(d.mutes, userID)
		}
	}
	d.mu.Unlock()

	if !ok {
		return false
	}

	d.users.RemoveFromBlacklist(userID, []string{symbol})
	if d.engine != nil {
		d.engine.ClearCooldowns(userID, symbol)
		d.engine.InvalidateUserCache()
	}
	return true
}

// IsMuted reports whether the symbol is currently muted for the user.
func (d *Dispatcher) IsMuted(userID, symbol string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mutedLocked(userID, strings.ToUpper(symbol))
}

func (d *Dispatcher) mutedLocked(userID, symbol string) bool {
	expiry, ok := d.mutes[userID][symbol]
	return ok && d.now().Before(expiry)
}

// MutedSymbols returns the user's active mutes with expiries.
func (d *Dispatcher) MutedSymbols(userID string) map[string]time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]time.Time, len(d.mutes[userID]))
	for symbol, expiry := range d.mutes[userID] {
		out[symbol] = expiry
	}
	return out
}

// muteSweeper restores expired mutes once a minute, sending one restore
// notification per symbol.
func (d *Dispatcher) muteSweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweepMutes()
		}
	}
}

func (d *Dispatcher) sweepMutes() {
	now := d.now()

	type restore struct {
		userID string
		symbol string
	}
	var restored []restore

	d.mu.Lock()
	for userID, symbols := range d.mutes {
		for symbol, expiry := range symbols {
			if now.Before(expiry) {
				continue
			}
			delete(symbols, symbol)
			restored = append(restored, restore{userID: userID, symbol: symbol})
		}
		if len(symbols) == 0 {
			delete(d.mutes, userID)
		}
	}
	d.mu.Unlock()

	logger := logging.Component("dispatcher")
	for _, r := range restored {
		d.users.RemoveFromBlacklist(r.userID, []string{r.symbol})
		if d.engine != nil {
			d.engine.ClearCooldowns(r.userID, r.symbol)
			d.engine.InvalidateUserCache()
		}

		if user := d.users.Get(r.userID); user != nil && user.IsActive {
			msg := fmt.Sprintf("\U0001f514 Mute expired: <b>%s</b> alerts restored", r.symbol)
			d.SendMessage(user.ChatID, msg, nil)
		}
		logger.Info().
			Str("user", r.userID).
			Str("symbol", r.symbol).
			Msg("mute expired, symbol restored")
	}
}
