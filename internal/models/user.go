package models

import (
	"time"

	"github.com/google/uuid"
)

// Tier is a subscription level.
type Tier string

const (
	TierFree    Tier = "FREE"
	TierBasic   Tier = "BASIC"
	TierPremium Tier = "PREMIUM"
	TierUltra   Tier = "ULTRA"
)

// User is the usage-relevant view of a platform user. Credentials live elsewhere.
type User struct {
	ID                  uuid.UUID  `json:"id"`
	Email               string     `json:"email"`
	SubscriptionTier    Tier       `json:"subscription_tier"`
	SubscriptionExpires *time.Time `json:"subscription_expires,omitempty"`
	TotalWatchTime      int64      `json:"total_watch_time"`
	MonthlyDataUsed     int64      `json:"monthly_data_used"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// IsPremium is true for PREMIUM/ULTRA users whose subscription has not expired.
func (u *User) IsPremium(now time.Time) bool {
	if u.SubscriptionTier != TierPremium && u.SubscriptionTier != TierUltra {
		return false
	}
	return u.SubscriptionExpires != nil && u.SubscriptionExpires.After(now)
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	c := *u
	c.SubscriptionExpires = cloneTime(u.SubscriptionExpires)
	return &c
}
