package effect

import (
	"log/slog"
	"math"

	"github.com/udisondev/projectlux/internal/attribute"
)

// Emotions carried by character attributes. Each has a source-side
// "<Emotion>DamageMultiplier" and a target-side "<Emotion>Resistance".
var Emotions = []string{
	"Fear", "Anger", "Joy", "Sadness", "Trust", "Loathing", "Anticipation", "Surprise",
}

// AttackDamage computes the damage a character attack deals and outputs it
// into the target's ReceivedDamage meta attribute.
//
//	raw       = 5·R² / (Armor + 5·R) + 1
//	emotional = Σ (1 − Resistance_e) · DamageMultiplier_e · R
//
// R is the source RawDamage. A resistance within 1e-5 of 1 contributes nothing.
// Nothing is output unless the total is positive.
func AttackDamage(ctx ExecutionContext) []ModifierDef {
	rawSource := sourceValue(ctx.Source, "RawDamage", 0)
	armor := targetValue(ctx.Target, "Armor", 0)

	raw := 1.0
	if denom := armor + 5*rawSource; denom > 0 {
		raw = (5*rawSource*rawSource)/denom + 1
	}

	emotional := 0.0
	for _, e := range Emotions {
		mult := sourceValue(ctx.Source, e+"DamageMultiplier", 0)
		resist := targetValue(ctx.Target, e+"Resistance", 1)
		emotional += emotionalDamage(resist, mult, rawSource)
	}

	total := raw + emotional
	slog.Debug("attack damage calculated",
		"source", ctx.Source.ActorID,
		"raw", raw,
		"emotional", emotional,
		"total", total)

	if total <= 0 {
		return nil
	}
	return []ModifierDef{{Attribute: "ReceivedDamage", Op: attribute.OpAdd, Magnitude: total}}
}

func emotionalDamage(resist, mult, raw float64) float64 {
	diff := 1 - resist
	if math.Abs(diff) < 0.00001 {
		return 0
	}
	return diff * mult * raw
}
