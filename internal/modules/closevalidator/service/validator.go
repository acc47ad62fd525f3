package service

import (
	"fmt"

	"github.com/karmaworks-dev/ai-agents-sub000/internal/models"
)

type Decision int

const (
	Keep Decision = iota
	Close
	Defer
)

func (d Decision) String() string {
	switch d {
	case Close:
		return "CLOSE"
	case Defer:
		return "DEFER"
	default:
		return "KEEP"
	}
}

// Тиры проверяются строго по порядку, первый сработавший решает.
const (
	TierEmergency = 0
	TierProfit    = 1
	TierYoung     = 2
	TierMature    = 3
)

// BlendFunc — confidence модели с поправкой на PnL. adjusted в [0,100].
type BlendFunc func(pnlPct, confidence float64) (adjusted, boost float64)

// LossBoostBlend: чем глубже убыток, тем меньше уверенности нужно для выхода.
func LossBoostBlend(severeLossPct, moderateLossPct, severeBoost, moderateBoost float64) BlendFunc {
	return func(pnlPct, confidence float64) (float64, float64) {
		var boost float64
		switch {
		case pnlPct <= severeLossPct:
			boost = severeBoost
		case pnlPct <= moderateLossPct:
			boost = moderateBoost
		}
		return min(100, max(0, confidence+boost)), boost
	}
}

type Config struct {
	EmergencyStopPct float64
	TakeProfitPct    float64
	MinAgeHours      float64
	SevereLossPct    float64
	ModerateLossPct  float64
	SevereBoost      float64
	ModerateBoost    float64
	MinConfidence    float64
	// Blend для зрелых позиций. nil -> LossBoostBlend из порогов выше.
	Blend BlendFunc
}

func DefaultConfig() Config {
	return Config{
		EmergencyStopPct: -2.0,
		TakeProfitPct:    0.5,
		MinAgeHours:      1.5,
		SevereLossPct:    -1.2,
		ModerateLossPct:  0.0,
		SevereBoost:      25,
		ModerateBoost:    15,
		MinConfidence:    80,
	}
}

type PositionView struct {
	Coin       string
	PnlPercent float64
	AgeHours   float64
}

type Result struct {
	Decision           Decision
	Tier               int
	Trigger            string
	Reason             string
	OriginalConfidence float64
	AdjustedConfidence float64
	Boost              float64
}

// Validator без состояния, безопасен для конкурентного использования.
type Validator struct {
	cfg      Config
	youngMix BlendFunc
}

func NewValidator(cfg Config) *Validator {
	youngMix := LossBoostBlend(cfg.SevereLossPct, cfg.ModerateLossPct, cfg.SevereBoost, cfg.ModerateBoost)
	if cfg.Blend == nil {
		cfg.Blend = youngMix
	}
	return &Validator{cfg: cfg, youngMix: youngMix}
}

func (v *Validator) lossCategory(pnl float64) string {
	switch {
	case pnl <= v.cfg.SevereLossPct:
		return "severe"
	case pnl <= v.cfg.ModerateLossPct:
		return "moderate"
	default:
		return "small"
	}
}

// Decide. opinion == nil: модель недоступна, закрывает только Tier 0.
func (v *Validator) Decide(pos PositionView, opinion *models.Decision) Result {
	var (
		conf       float64
		wantsClose bool
	)
	if opinion != nil {
		conf = opinion.Confidence
		wantsClose = opinion.WantsClose()
	}
	pnl := pos.PnlPercent

	if pnl <= v.cfg.EmergencyStopPct {
		return Result{
			Decision:           Close,
			Tier:               TierEmergency,
			Trigger:            "stop_loss",
			Reason:             fmt.Sprintf("stop loss: %s at %.2f%% (threshold %.2f%%)", pos.Coin, pnl, v.cfg.EmergencyStopPct),
			OriginalConfidence: conf,
			AdjustedConfidence: 100,
		}
	}

	if pnl >= v.cfg.TakeProfitPct {
		res := Result{
			Decision:           Keep,
			Tier:               TierProfit,
			Trigger:            "profit_target_low_confidence",
			OriginalConfidence: conf,
			AdjustedConfidence: conf,
		}
		if wantsClose && conf >= v.cfg.MinConfidence {
			res.Decision = Close
			res.Trigger = "profit_target"
			res.Reason = fmt.Sprintf("profit target: %.2f%%, close confirmed at %.0f%%", pnl, conf)
			return res
		}
		res.Reason = fmt.Sprintf("profit target: %.2f%%, no close confirmation (confidence %.0f%%)", pnl, conf)
		return res
	}

	category := v.lossCategory(pnl)

	if pos.AgeHours < v.cfg.MinAgeHours {
		if category == "small" {
			return Result{
				Decision:           Defer,
				Tier:               TierYoung,
				Trigger:            "young_protected",
				Reason:             fmt.Sprintf("protected: young position (%.1fh), pnl %.2f%%", pos.AgeHours, pnl),
				OriginalConfidence: conf,
				AdjustedConfidence: conf,
			}
		}
		adjusted, boost := v.youngMix(pnl, conf)
		return v.gate(TierYoung, "young_"+category+"_loss", pos, conf, adjusted, boost, wantsClose)
	}

	adjusted, boost := v.cfg.Blend(pnl, conf)
	return v.gate(TierMature, "mature_"+category+"_loss", pos, conf, adjusted, boost, wantsClose)
}

func (v *Validator) gate(tier int, trigger string, pos PositionView, conf, adjusted, boost float64, wantsClose bool) Result {
	res := Result{
		Decision:           Keep,
		Tier:               tier,
		Trigger:            trigger,
		OriginalConfidence: conf,
		AdjustedConfidence: adjusted,
		Boost:              boost,
	}
	if wantsClose && adjusted >= v.cfg.MinConfidence {
		res.Decision = Close
		res.Reason = fmt.Sprintf("%s: pnl %.2f%%, age %.1fh, adjusted confidence %.0f%%", trigger, pos.PnlPercent, pos.AgeHours, adjusted)
		return res
	}
	res.Trigger = trigger + "_low_confidence"
	res.Reason = fmt.Sprintf("%s: pnl %.2f%%, adjusted confidence %.0f%% < %.0f%%", trigger, pos.PnlPercent, adjusted, v.cfg.MinConfidence)
	return res
}
