package models

import (
	"time"
)

// Reset token lifecycle windows. Used tokens are kept for a while as an
// audit trail before the opportunistic cleanup removes them.
const (
	ResetTokenTTL            = 1 * time.Hour
	ResetTokenExpiredGrace   = 24 * time.Hour
	ResetTokenUsedRetention  = 7 * 24 * time.Hour
	ResetTokenSecretHexChars = 64 // 256 bits of entropy, hex-encoded
)

// ResetToken represents a single-use password reset token
// Collection: reset_tokens
type ResetToken struct {
	ID               string     `bson:"_id" json:"id"`
	AccountEmail     string     `bson:"account_email" json:"account_email"`
	Secret           string     `bson:"secret" json:"-"` // lookup key, never exposed
	ExpiresAt        time.Time  `bson:"expires_at" json:"expires_at"`
	CreatedAt        time.Time  `bson:"created_at" json:"created_at"`
	UsedAt           *time.Time `bson:"used_at,omitempty" json:"used_at,omitempty"`
	RequestIP        string     `bson:"request_ip,omitempty" json:"-"`
	RequestUserAgent string     `bson:"request_user_agent,omitempty" json:"-"`
}

// Used reports whether the token has been consumed
func (t *ResetToken) Used() bool {
	return t.UsedAt != nil
}

// Expired reports whether the token's validity window has passed
func (t *ResetToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Active reports whether the token is still consumable
func (t *ResetToken) Active(now time.Time) bool {
	return !t.Used() && !t.Expired(now)
}
