package tier

import "fmt"

// Validate checks the §6 validation rules that apply to tier settings:
// all capacities positive, all ratios in [0,1], all intervals
// non-negative.
func Validate(settings map[Tier]Settings) error {
	for _, t := range All {
		s, ok := settings[t]
		if !ok {
			return fmt.Errorf("tier: missing settings for %s", t)
		}
		if s.Capacity <= 0 {
			return fmt.Errorf("tier %s: capacity must be positive, got %d", t, s.Capacity)
		}
		if err := ratioInRange("minImportance", t, s.MinImportance); err != nil {
			return err
		}
		if err := ratioInRange("promotionThreshold", t, s.PromotionThreshold); err != nil {
			return err
		}
		if err := ratioInRange("demotionThreshold", t, s.DemotionThreshold); err != nil {
			return err
		}
		if err := ratioInRange("decayRate", t, s.DecayRate); err != nil {
			return err
		}
		if err := ratioInRange("compressionRatio", t, s.CompressionRatio); err != nil {
			return err
		}
		if s.Retention < 0 || s.MaxInactivity < 0 || s.TTL < 0 || s.BackupFrequency < 0 {
			return fmt.Errorf("tier %s: durations must be non-negative", t)
		}
	}
	return nil
}

func ratioInRange(field string, t Tier, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("tier %s: %s must be in [0,1], got %f", t, field, v)
	}
	return nil
}
