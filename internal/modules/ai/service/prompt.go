package service

import (
	"fmt"
	"strings"
)

const (
	entryPrompt = `You are a perpetual futures trading analyst.
Answer with a single JSON object: {"action": "BUY" | "SELL" | "NOTHING", "confidence": 0-100, "reasoning": "..."}.
BUY opens a long, SELL opens a short, NOTHING stays flat.`

	exitPrompt = `You are managing an open perpetual futures position.
Answer with a single JSON object: {"action": "KEEP" | "CLOSE", "confidence": 0-100, "reasoning": "..."}.
Confidence is how sure you are that closing now is right.`
)

func systemPrompt(hasPosition bool) string {
	if hasPosition {
		return exitPrompt
	}
	return entryPrompt
}

// UserPrompt — текстовая сводка по монете.
func UserPrompt(s Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Symbol: %s\nMid price: %.6g\n", s.Symbol, s.Mid)
	if len(s.Closes) > 0 {
		first, last := s.Closes[0], s.Closes[len(s.Closes)-1]
		change := 0.0
		if first > 0 {
			change = (last/first - 1) * 100
		}
		lo, hi := first, first
		for _, c := range s.Closes {
			lo = min(lo, c)
			hi = max(hi, c)
		}
		fmt.Fprintf(&b, "Last %d %s closes: change %.2f%%, low %.6g, high %.6g\n", len(s.Closes), s.Interval, change, lo, hi)
		b.WriteString("Closes:")
		for _, c := range s.Closes {
			fmt.Fprintf(&b, " %.6g", c)
		}
		b.WriteString("\n")
	}
	if s.Indicators != "" {
		fmt.Fprintf(&b, "Indicators: %s\n", s.Indicators)
	}
	if p := s.Position; p != nil {
		fmt.Fprintf(&b, "Open position: %s size %.6g entry %.6g pnl %.2f%% age %.1fh\n",
			p.Side(), p.Size, p.EntryPrice, p.PnlPercent(), s.AgeHours)
	}
	return b.String()
}
