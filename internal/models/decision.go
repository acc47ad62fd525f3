package models

import "strings"

type Action string

const (
	ActionBuy   Action = "BUY"
	ActionSell  Action = "SELL"
	ActionKeep  Action = "KEEP"
	ActionClose Action = "CLOSE"
)

// ParseAction нормализует ответ модели. Неизвестное -> KEEP.
func ParseAction(s string) Action {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "LONG":
		return ActionBuy
	case "SELL", "SHORT":
		return ActionSell
	case "CLOSE", "EXIT":
		return ActionClose
	default:
		return ActionKeep
	}
}

// Decision — результат рассуждающего коллаборатора, для ядра непрозрачен.
type Decision struct {
	Symbol     string
	Action     Action
	Confidence float64 // 0..100
	Reasoning  string
	Provider   string
}

// WantsClose: для уже открытой позиции SELL/CLOSE/EXIT означает закрытие.
// Для шорта ответ сначала проходит через ForPosition.
func (d Decision) WantsClose() bool {
	return d.Action == ActionClose || d.Action == ActionSell
}

// ForPosition приводит ответ к открытой позиции: встречное направление -> CLOSE,
// то же направление -> KEEP.
func (d Decision) ForPosition(isLong bool) Decision {
	switch {
	case d.Action == ActionSell && isLong, d.Action == ActionBuy && !isLong:
		d.Action = ActionClose
	case d.Action == ActionBuy || d.Action == ActionSell:
		d.Action = ActionKeep
	}
	return d
}
