package rules

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

// Canonical preset names.
const (
	PresetDefault  = "default"
	PresetStrict   = "strict"
	PresetModerate = "moderate"
	PresetLenient  = "lenient"
)

type thresholds struct {
	maxTransactions   int
	windowMinutes     int
	singleLimit       int64
	dailyLimit        int64
	maxSpeedMPH       float64
	unusualHoursStart int
	unusualHoursEnd   int
}

// presetTable differ only in thresholds and wording; every preset enables
// all four rules.
var presetTable = []struct {
	name        string
	description string
	ruleWording [4]string
	thresholds  thresholds
}{
	{
		name:        PresetDefault,
		description: "Balanced fraud detection settings",
		ruleWording: [4]string{
			"Detects rapid-fire transaction patterns",
			"Flags unusually high spending amounts",
			"Detects geographically impossible transactions",
			"Flags transactions during unusual hours",
		},
		thresholds: thresholds{5, 60, 1000, 3000, 600, 2, 5},
	},
	{
		name:        PresetStrict,
		description: "Highly sensitive fraud detection - catches more but may have false positives",
		ruleWording: [4]string{
			"Very sensitive to rapid transactions",
			"Strict spending limits",
			"Conservative travel speed threshold",
			"Broader unusual hours window",
		},
		thresholds: thresholds{3, 30, 500, 2000, 400, 1, 6},
	},
	{
		name:        PresetModerate,
		description: "Balanced fraud detection with reasonable thresholds",
		ruleWording: [4]string{
			"Moderate frequency detection",
			"Reasonable spending limits",
			"Realistic travel speed limit",
			"Standard unusual hours",
		},
		thresholds: thresholds{5, 60, 1000, 3000, 600, 2, 5},
	},
	{
		name:        PresetLenient,
		description: "Relaxed fraud detection - fewer false positives but may miss some fraud",
		ruleWording: [4]string{
			"Relaxed frequency limits",
			"Higher spending limits",
			"Lenient travel speed threshold",
			"Narrow unusual hours window",
		},
		thresholds: thresholds{10, 120, 2000, 5000, 800, 3, 4},
	},
}

// Presets returns the built-in configurations: default, strict, moderate, lenient.
func Presets() []domain.RuleConfiguration {
	out := make([]domain.RuleConfiguration, len(presetTable))
	for i := range presetTable {
		out[i] = buildPreset(i)
	}
	return out
}

// Preset returns the built-in configuration with the given name.
func Preset(name string) (domain.RuleConfiguration, error) {
	for i, def := range presetTable {
		if def.name == name {
			return buildPreset(i), nil
		}
	}
	return domain.RuleConfiguration{}, fmt.Errorf("%w: %s", domain.ErrUnknownPreset, name)
}

// IsPreset reports whether name is a built-in configuration.
func IsPreset(name string) bool {
	for _, def := range presetTable {
		if def.name == name {
			return true
		}
	}
	return false
}

func buildPreset(i int) domain.RuleConfiguration {
	def := presetTable[i]
	t := def.thresholds
	return domain.RuleConfiguration{
		Name:        def.name,
		Description: def.description,
		Rules: domain.RuleSet{
			Frequency: domain.FrequencyRule{
				Enabled:           true,
				MaxTransactions:   t.maxTransactions,
				TimeWindowMinutes: t.windowMinutes,
				Description:       def.ruleWording[0],
			},
			Amount: domain.AmountRule{
				Enabled:                true,
				SingleTransactionLimit: decimal.NewFromInt(t.singleLimit),
				DailyCumulativeLimit:   decimal.NewFromInt(t.dailyLimit),
				Description:            def.ruleWording[1],
			},
			Travel: domain.TravelRule{
				Enabled:     true,
				MaxSpeedMPH: t.maxSpeedMPH,
				Description: def.ruleWording[2],
			},
			Time: domain.TimeRule{
				Enabled:           true,
				UnusualHoursStart: t.unusualHoursStart,
				UnusualHoursEnd:   t.unusualHoursEnd,
				Description:       def.ruleWording[3],
			},
		},
	}
}
