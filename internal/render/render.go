// Package render turns structured alerts into the human-facing Telegram
// and email bodies.
package render

import (
	"fmt"
	"strings"
	"time"

	"hawkeye-monitor/internal/models"
)

var levelIcons = map[models.AlertLevel]string{
	models.LevelInfo:     "ℹ️",
	models.LevelWarning:  "⚠️",
	models.LevelCritical: "\U0001f6a8",
	models.LevelExtreme:  "\U0001f525",
}

var typeIcons = map[models.AlertType]string{
	models.AlertPricePump:   "\U0001f4c8",
	models.AlertPriceDump:   "\U0001f4c9",
	models.AlertVolumeSpike: "\U0001f4ca",
	models.AlertSpreadHigh:  "⬆️",
	models.AlertSpreadLow:   "⬇️",
	models.AlertFundingHigh: "\U0001f4b0",
	models.AlertFundingLow:  "\U0001f4b8",
	models.AlertBigBidOrder: "\U0001f7e2",
	models.AlertBigAskOrder: "\U0001f534",
}

const separator = "─────────────────"

// TelegramMessage renders the alert body in Telegram HTML. prefix carries
// the repeat counter or night marker; tzOffset shifts the timestamp into
// the user's local time.
func TelegramMessage(a *models.Alert, prefix string, tzOffset int) string {
	name := models.BaseAsset(a.Symbol)
	market := "spot"
	if a.Market == models.MarketFutures {
		market = "futures"
	}

	icon := levelIcons[a.Level]
	if icon == "" {
		icon = "\U0001f4e2"
	}
	typeIcon := typeIcons[a.Type]
	if typeIcon == "" {
		typeIcon = "\U0001f4e2"
	}

	var c models.Common
	if a.Data != nil {
		c = commonOf(a.Data)
	}

	lines := []string{
		fmt.Sprintf("%s%s <b>%s %s</b> · %s", prefix, icon, typeIcon, name, market),
		"",
		"▸ " + a.Message,
		"▸ $" + FormatPrice(c.Price),
	}

	if bar := positionBar(c.Price, c.Low24h, c.High24h); bar != "" {
		lines = append(lines, "▸ "+bar)
	}

	if big, ok := a.Data.(models.BigOrderData); ok {
		side := "bid"
		if a.Type == models.AlertBigAskOrder {
			side = "ask"
		}
		lines = append(lines,
			separator,
			fmt.Sprintf("\U0001f48e Big %s: <b>%s</b>", side, FormatVolume(big.OrderValue)),
			fmt.Sprintf("\U0001f4cd Order price: %s (%+.2f%%)", FormatPrice(big.OrderPrice), big.PriceDiffPercent),
			fmt.Sprintf("⚖️ Bid/ask: %.2f", big.BidAskRatio),
		)
	}

	changeIcon := "⚪"
	if c.Change24h > 0 {
		changeIcon = "\U0001f7e2"
	} else if c.Change24h < 0 {
		changeIcon = "\U0001f534"
	}

	loc := time.FixedZone(fmt.Sprintf("UTC%+d", tzOffset), tzOffset*3600)
	lines = append(lines,
		separator,
		fmt.Sprintf("%s 24H: <b>%+.2f%%</b>", changeIcon, c.Change24h),
		fmt.Sprintf("\U0001f4c8 H: %s  \U0001f4c9 L: %s", FormatPrice(c.High24h), FormatPrice(c.Low24h)),
		"\U0001f48e Vol: "+FormatVolume(c.Volume24h),
		"",
		"⏰ "+a.Timestamp.In(loc).Format("15:04:05"),
	)

	return strings.Join(lines, "\n")
}

// EmailSubject builds the email subject, tagging urgent and escalated
// alerts.
func EmailSubject(a *models.Alert) string {
	var b strings.Builder
	if a.Level >= models.LevelCritical {
		b.WriteString("\U0001f525URGENT ")
	}
	if a.IsEscalation() {
		b.WriteString("⚡ESCALATED ")
	}
	msg := a.Message
	if len(msg) > 60 {
		msg = msg[:60]
	}
	fmt.Fprintf(&b, "[Hawkeye Alert] %s - %s", a.Symbol, msg)
	return b.String()
}

// EmailHTML builds the email body.
func EmailHTML(a *models.Alert, prefix string, tzOffset int) string {
	var c models.Common
	if a.Data != nil {
		c = commonOf(a.Data)
	}

	color := "#28a745"
	switch a.Type {
	case models.AlertPriceDump, models.AlertSpreadLow, models.AlertFundingLow, models.AlertBigAskOrder:
		color = "#dc3545"
	}

	escalationBanner := ""
	if a.IsEscalation() {
		escalationBanner = `<div style="background: #ff9800; color: white; padding: 10px; text-align: center;"><b>&#9889; Severity escalated through cooldown</b></div>`
	}

	loc := time.FixedZone(fmt.Sprintf("UTC%+d", tzOffset), tzOffset*3600)

	var b strings.Builder
	fmt.Fprintf(&b, `<div style="font-family: Arial; max-width: 600px; margin: 0 auto;">`)
	fmt.Fprintf(&b, `<div style="background: %s; color: white; padding: 20px; text-align: center;"><h1>%s&#129413; Hawkeye Alert</h1><h2>%s</h2></div>`, color, prefix, a.Symbol)
	b.WriteString(escalationBanner)
	b.WriteString(`<div style="padding: 20px; background: #f8f9fa;">`)
	fmt.Fprintf(&b, "<p><strong>Alert ID:</strong> %s</p>", a.ID)
	fmt.Fprintf(&b, "<p><strong>Type:</strong> %s</p>", a.Type)
	fmt.Fprintf(&b, "<p><strong>Level:</strong> %s %s</p>", levelIcons[a.Level], a.Level)
	fmt.Fprintf(&b, "<p><strong>Detail:</strong> %s</p>", a.Message)
	if c.Price > 0 {
		fmt.Fprintf(&b, "<p><strong>Price:</strong> $%s</p>", FormatPrice(c.Price))
	}
	if p, ok := a.Data.(models.PriceData); ok {
		fmt.Fprintf(&b, "<p><strong>Change:</strong> %+.2f%% (%s)</p>", p.ChangePercent, p.Horizon)
	}
	if c.Volume24h > 0 {
		fmt.Fprintf(&b, "<p><strong>24h turnover:</strong> %s</p>", FormatVolume(c.Volume24h))
	}
	if big, ok := a.Data.(models.BigOrderData); ok {
		fmt.Fprintf(&b, "<p><strong>Order value:</strong> %s at %s</p>", FormatVolume(big.OrderValue), FormatPrice(big.OrderPrice))
	}
	fmt.Fprintf(&b, "<p><strong>Time:</strong> %s</p>", a.Timestamp.In(loc).Format("2006-01-02 15:04:05"))
	b.WriteString("</div></div>")
	return b.String()
}

func commonOf(data models.AlertData) models.Common {
	switch d := data.(type) {
	case models.PriceData:
		return d.Common
	case models.VolumeData:
		return d.Common
	case models.SpreadAlertData:
		return d.Common
	case models.FundingData:
		return d.Common
	case models.BigOrderData:
		return d.Common
	default:
		return models.Common{}
	}
}

// positionBar shows where the price sits in its 24h range.
func positionBar(price, low, high float64) string {
	if price <= 0 || low <= 0 || high <= low {
		return ""
	}
	position := (price - low) / (high - low) * 100

	const blocks = 10
	filled := int(position / 100 * blocks)
	if filled < 0 {
		filled = 0
	}
	if filled > blocks {
		filled = blocks
	}
	bar := strings.Repeat("▓", filled) + strings.Repeat("░", blocks-filled)
	return fmt.Sprintf("L %s H (%.0f%%)", bar, position)
}

// FormatPrice renders a price with precision scaled to its magnitude.
func FormatPrice(price float64) string {
	switch {
	case price == 0:
		return "0"
	case price >= 10000:
		return humanize(fmt.Sprintf("%.0f", price))
	case price >= 1000:
		return humanize(fmt.Sprintf("%.2f", price))
	case price >= 1:
		return fmt.Sprintf("%.4f", price)
	case price >= 0.0001:
		return fmt.Sprintf("%.6f", price)
	default:
		return fmt.Sprintf("%.8f", price)
	}
}

// FormatVolume renders a quote amount with a K/M/B suffix.
func FormatVolume(v float64) string {
	switch {
	case v >= 1_000_000_000:
		return fmt.Sprintf("$%.2fB", v/1_000_000_000)
	case v >= 1_000_000:
		return fmt.Sprintf("$%.2fM", v/1_000_000)
	case v >= 1_000:
		return fmt.Sprintf("$%.2fK", v/1_000)
	default:
		return fmt.Sprintf("$%.0f", v)
	}
}

// humanize inserts thousands separators into the integer part.
func humanize(s string) string {
	intPart := s
	frac := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}

	n := len(intPart)
	if n <= 3 {
		return intPart + frac
	}
	var b strings.Builder
	lead := n % 3
	if lead > 0 {
		b.WriteString(intPart[:lead])
	}
	for i := lead; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(intPart[i : i+3])
	}
	return b.String() + frac
}
