package service

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/karmaworks-dev/ai-agents-sub000/internal/models"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/logger"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/metrics"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/num"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/tracing"

	"github.com/tidwall/gjson"
)

const defaultConfidence = 50

var votePercent = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)

// ParseDecision разбирает ответ модели. Сначала JSON {"action","confidence","reasoning"},
// иначе первая строка вида "BUY | 85%". Без процента confidence = 50.
func ParseDecision(text string) (models.Decision, error) {
	if raw, ok := extractJSON(text); ok {
		res := gjson.Parse(raw)
		action := res.Get("action")
		if !action.Exists() {
			action = res.Get("decision")
		}
		if action.Exists() {
			d := models.Decision{
				Action:     parseVote(action.String()),
				Confidence: defaultConfidence,
				Reasoning:  res.Get("reasoning").String(),
			}
			if c := res.Get("confidence"); c.Exists() {
				d.Confidence = normalizeConfidence(c.Float())
			}
			return d, nil
		}
	}

	line := firstLine(text)
	if line == "" {
		return models.Decision{}, fmt.Errorf("ParseDecision: empty response")
	}
	d := models.Decision{Confidence: defaultConfidence, Reasoning: strings.TrimSpace(text)}
	vote, rest, hasBar := strings.Cut(line, "|")
	d.Action = parseVote(vote)
	if hasBar {
		if m := votePercent.FindStringSubmatch(rest); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				d.Confidence = normalizeConfidence(v)
			}
		}
	}
	return d, nil
}

// extractJSON — от первой '{' до последней '}'.
func extractJSON(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	raw := text[start : end+1]
	if !gjson.Valid(raw) {
		return "", false
	}
	return raw, true
}

func firstLine(text string) string {
	for _, l := range strings.Split(text, "\n") {
		l = strings.TrimSpace(strings.Trim(strings.TrimSpace(l), "*#`"))
		if l != "" {
			return l
		}
	}
	return ""
}

// parseVote: точное совпадение, затем префикс, затем вхождение. NOTHING/HOLD/WAIT -> KEEP.
func parseVote(s string) models.Action {
	v := strings.ToUpper(strings.TrimSpace(s))
	for _, skip := range []string{"DO NOTHING", "NOTHING", "HOLD", "WAIT", "KEEP"} {
		if v == skip || strings.HasPrefix(v, skip) {
			return models.ActionKeep
		}
	}
	if a := models.ParseAction(v); a != models.ActionKeep {
		return a
	}
	for _, word := range []string{"CLOSE", "EXIT", "BUY", "LONG", "SELL", "SHORT"} {
		if strings.HasPrefix(v, word) {
			return models.ParseAction(word)
		}
	}
	for _, word := range []string{"CLOSE", "BUY", "SELL"} {
		if strings.Contains(v, word) {
			return models.ParseAction(word)
		}
	}
	return models.ActionKeep
}

// normalizeConfidence: доли (0..1) переводятся в проценты, результат в [0,100].
func normalizeConfidence(v float64) float64 {
	if v > 0 && v <= 1 {
		v *= 100
	}
	return num.Clamp(v, 0, 100)
}

// Snapshot — то, что модель видит по монете.
type Snapshot struct {
	Symbol     string
	Mid        float64
	Interval   string
	Closes     []float64
	// Indicators: готовая строка с EMA/RSI/Donchian, может быть пустой.
	Indicators string
	Position   *models.Position
	AgeHours   float64
}

// Decider спрашивает провайдера по умолчанию и разбирает ответ.
type Decider struct {
	registry *Registry
}

func NewDecider(registry *Registry) *Decider {
	return &Decider{registry: registry}
}

func (d *Decider) Available() bool {
	_, err := d.registry.Default()
	return err == nil
}

func (d *Decider) Decide(ctx context.Context, snap Snapshot) (dec models.Decision, err error) {
	span, ctx := tracing.StartSpan(ctx, "ai.decide")
	span.SetTag("symbol", snap.Symbol)
	defer func() {
		tracing.MarkError(span, err)
		span.Finish()
		if err != nil {
			err = fmt.Errorf("Decider.Decide %s: %w", snap.Symbol, err)
		}
	}()

	p, err := d.registry.Default()
	if err != nil {
		return dec, err
	}
	text, err := p.Generate(ctx, systemPrompt(snap.Position != nil), UserPrompt(snap))
	if err != nil {
		return dec, err
	}
	dec, err = ParseDecision(text)
	if err != nil {
		return dec, err
	}
	if snap.Position != nil {
		dec = dec.ForPosition(snap.Position.IsLong())
	}
	dec.Symbol = snap.Symbol
	dec.Provider = p.Name()

	metrics.Decisions.WithLabelValues(dec.Provider, string(dec.Action)).Inc()
	logger.Info("[AI] %s via %s: %s (%.0f%%)", snap.Symbol, dec.Provider, dec.Action, dec.Confidence)
	return dec, nil
}
