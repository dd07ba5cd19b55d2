package strategy

import (
	"math"

	"bookpoly/internal/config"
)

// ClassifyZone buckets min(p, 1-p).
func ClassifyZone(cfg config.ZoneConfig, probUp float64) Zone {
	underdog := math.Min(probUp, 1-probUp)
	switch {
	case underdog < cfg.Danger:
		return ZoneDanger
	case underdog < cfg.Caution:
		return ZoneCaution
	case underdog < cfg.Safe:
		return ZoneSafe
	default:
		return ZoneNeutral
	}
}
