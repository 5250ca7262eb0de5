package playback

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aura-stream/backend/internal/models"
)

func TestMaxQuality(t *testing.T) {
	assert.Equal(t, "360p", MaxQuality(models.TierFree))
	assert.Equal(t, "480p", MaxQuality(models.TierBasic))
	assert.Equal(t, "720p", MaxQuality(models.TierPremium))
	assert.Equal(t, "1080p", MaxQuality(models.TierUltra))
	assert.Equal(t, "360p", MaxQuality(models.Tier("GOLD")))
}

func TestCanWatch(t *testing.T) {
	tests := []struct {
		tier    models.Tier
		quality string
		want    bool
	}{
		{models.TierFree, "360p", true},
		{models.TierFree, "480p", false},
		{models.TierFree, "720p", false},
		{models.TierBasic, "480p", true},
		{models.TierBasic, "1080p", false},
		{models.TierPremium, "720p", true},
		{models.TierPremium, "1080p", false},
		{models.TierUltra, "1080p", true},
		{models.TierUltra, "360p", true},
		{models.TierUltra, "4k", false},
		{models.TierUltra, "", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.tier)+"/"+tt.quality, func(t *testing.T) {
			assert.Equal(t, tt.want, CanWatch(tt.tier, tt.quality))
		})
	}
}

func TestCanWatch_autoAlwaysAllowed(t *testing.T) {
	for _, tier := range []models.Tier{models.TierFree, models.TierBasic, models.TierPremium, models.TierUltra, "unknown"} {
		assert.True(t, CanWatch(tier, QualityAuto), "tier %s", tier)
	}
}

func TestRank_isTotalOrder(t *testing.T) {
	for i := 1; i < len(Ladder); i++ {
		assert.Less(t, Rank(Ladder[i-1]), Rank(Ladder[i]))
	}
	assert.Equal(t, -1, Rank(QualityAuto))
}
