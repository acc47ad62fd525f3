package helper

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NormTF приводит таймфрейм к виду биржи: "60m" -> "1h", "candle15m" -> "15m", "1D" -> "1d".
func NormTF(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	s = strings.TrimPrefix(s, "candle")
	switch s {
	case "60m", "1h":
		return "1h"
	case "240m", "4h":
		return "4h"
	case "1440m", "24h", "1d":
		return "1d"
	default:
		return s
	}
}

// TFDuration — длительность свечи; кроме time.ParseDuration понимает дни и недели.
func TFDuration(tf string) (time.Duration, error) {
	s := NormTF(tf)
	if n, ok := strings.CutSuffix(s, "d"); ok {
		return unitDuration(n, 24*time.Hour, tf)
	}
	if n, ok := strings.CutSuffix(s, "w"); ok {
		return unitDuration(n, 7*24*time.Hour, tf)
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("bad timeframe %q", tf)
	}
	return d, nil
}

func unitDuration(n string, unit time.Duration, tf string) (time.Duration, error) {
	k, err := strconv.Atoi(n)
	if err != nil || k <= 0 {
		return 0, fmt.Errorf("bad timeframe %q", tf)
	}
	return time.Duration(k) * unit, nil
}

// Slot — начало свечи tf, в которую попадает t.
func Slot(t time.Time, tf time.Duration) time.Time {
	if tf <= 0 {
		return t
	}
	sec := t.Unix()
	step := int64(tf / time.Second)
	sec -= sec % step
	return time.Unix(sec, 0).In(t.Location())
}
