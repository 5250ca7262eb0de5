// Package playback gates rendition access by subscription tier and signs playback URLs.
package playback

import "github.com/aura-stream/backend/internal/models"

// QualityAuto lets the player or CDN pick the rendition. It is always permitted.
const QualityAuto = "auto"

// Ladder is the ordered set of renditions, lowest first.
var Ladder = []string{"360p", "480p", "720p", "1080p"}

var tierMax = map[models.Tier]string{
	models.TierFree:    "360p",
	models.TierBasic:   "480p",
	models.TierPremium: "720p",
	models.TierUltra:   "1080p",
}

// Rank returns the position of q on the ladder, or -1 for labels not on it.
func Rank(q string) int {
	for i, l := range Ladder {
		if l == q {
			return i
		}
	}
	return -1
}

// MaxQuality returns the highest rendition the tier may request. Unknown tiers get the lowest.
func MaxQuality(tier models.Tier) string {
	if q, ok := tierMax[tier]; ok {
		return q
	}
	return Ladder[0]
}

// CanWatch reports whether tier may request quality. Unknown labels fail closed.
func CanWatch(tier models.Tier, quality string) bool {
	if quality == QualityAuto {
		return true
	}
	r := Rank(quality)
	if r < 0 {
		return false
	}
	return r <= Rank(MaxQuality(tier))
}
