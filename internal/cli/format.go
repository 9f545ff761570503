package cli

import (
	"fmt"
	"strings"
	"time"

	"marketsim/internal/fixedpoint"
)

// FormatAmount formats a number with two decimals and thousands separators.
func FormatAmount(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	parts := strings.Split(fmt.Sprintf("%.2f", amount), ".")
	result := groupThousands(parts[0]) + "." + parts[1]
	if negative && result != "0.00" {
		result = "-" + result
	}
	return result
}

// FormatValue formats a fixed-point amount exactly, without float rounding.
func FormatValue(v fixedpoint.Value) string {
	s := v.StringFixed(2)
	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, decPart, _ := strings.Cut(s, ".")
	result := groupThousands(intPart)
	if decPart != "" {
		result += "." + decPart
	}
	if negative {
		result = "-" + result
	}
	return result
}

// groupThousands inserts a comma every three digits from the right.
func groupThousands(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}
	var b strings.Builder
	lead := n % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatPercent formats a percentage with sign.
func FormatPercent(value float64) string {
	if value > 0 {
		return fmt.Sprintf("+%.2f%%", value)
	}
	return fmt.Sprintf("%.2f%%", value)
}

// FormatPnL formats a signed profit or loss.
func FormatPnL(v fixedpoint.Value) string {
	if v > 0 {
		return "+" + FormatValue(v)
	}
	return FormatValue(v)
}

// FormatPrice formats an instrument price. Sub-unit prices keep more
// precision so cheap instruments stay readable.
func FormatPrice(price float64) string {
	if price < 1 {
		return fmt.Sprintf("%.4f", price)
	}
	return FormatAmount(price)
}

// FormatDateTime formats a timestamp in local time.
func FormatDateTime(t time.Time) string {
	return t.Local().Format("02-Jan-2006 15:04:05")
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

// TruncateString truncates a string to max length with ellipsis.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// PadRight pads a string to the given visible width.
func PadRight(s string, length int) string {
	visible := len(stripANSI(s))
	if visible >= length {
		return s
	}
	return s + strings.Repeat(" ", length-visible)
}
