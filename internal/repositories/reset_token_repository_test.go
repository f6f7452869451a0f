package repositories

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/ritahq/automation-mock/internal/models"
)

var filterNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func tokenUsedAgo(age time.Duration) *models.ResetToken {
	usedAt := filterNow.Add(-age)
	return &models.ResetToken{
		AccountEmail: "ada@example.com",
		ExpiresAt:    usedAt.Add(models.ResetTokenTTL),
		UsedAt:       &usedAt,
	}
}

func tokenExpiredAgo(age time.Duration) *models.ResetToken {
	return &models.ResetToken{
		AccountEmail: "ada@example.com",
		ExpiresAt:    filterNow.Add(-age),
	}
}

func activeToken(email string) *models.ResetToken {
	return &models.ResetToken{
		AccountEmail: email,
		ExpiresAt:    filterNow.Add(30 * time.Minute),
	}
}

// matchesStale evaluates the cleanup filter's two clauses against a token
// document, mirroring the driver-side comparison for the operators the
// filter uses ($or over $lt on used_at / expires_at).
func matchesStale(t *testing.T, filter bson.M, token *models.ResetToken) bool {
	t.Helper()

	clauses, ok := filter["$or"].(bson.A)
	require.True(t, ok, "cleanup filter must be a $or")
	require.Len(t, clauses, 2)

	usedClause := clauses[0].(bson.M)
	usedCutoff := usedClause["used_at"].(bson.M)["$lt"].(time.Time)
	if token.UsedAt != nil && token.UsedAt.Before(usedCutoff) {
		return true
	}

	expiredClause := clauses[1].(bson.M)
	require.Nil(t, expiredClause["used_at"], "second clause must require used_at unset")
	expiredCutoff := expiredClause["expires_at"].(bson.M)["$lt"].(time.Time)
	return token.UsedAt == nil && token.ExpiresAt.Before(expiredCutoff)
}

func TestStaleTokenFilterCutoffs(t *testing.T) {
	filter := staleTokenFilter(filterNow)
	clauses := filter["$or"].(bson.A)

	usedCutoff := clauses[0].(bson.M)["used_at"].(bson.M)["$lt"].(time.Time)
	assert.Equal(t, filterNow.Add(-models.ResetTokenUsedRetention), usedCutoff)

	expiredCutoff := clauses[1].(bson.M)["expires_at"].(bson.M)["$lt"].(time.Time)
	assert.Equal(t, filterNow.Add(-models.ResetTokenExpiredGrace), expiredCutoff)
}

func TestStaleTokenFilterSelectsOnlyStaleTokens(t *testing.T) {
	filter := staleTokenFilter(filterNow)

	cases := []struct {
		name  string
		token *models.ResetToken
		stale bool
	}{
		{"used beyond retention", tokenUsedAgo(8 * 24 * time.Hour), true},
		{"used within retention", tokenUsedAgo(6 * 24 * time.Hour), false},
		{"used moments ago", tokenUsedAgo(time.Minute), false},
		{"unused, expired beyond grace", tokenExpiredAgo(25 * time.Hour), true},
		{"unused, expired within grace", tokenExpiredAgo(23 * time.Hour), false},
		{"unused, expired just now", tokenExpiredAgo(time.Second), false},
		{"active", activeToken("ada@example.com"), false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.stale, matchesStale(t, filter, tc.token), tc.name)
	}
}

func TestActiveTokenFilterScope(t *testing.T) {
	filter := activeTokenFilter("ada@example.com", filterNow)

	assert.Equal(t, "ada@example.com", filter["account_email"])
	assert.Nil(t, filter["used_at"], "only unconsumed tokens may be replaced")

	cutoff := filter["expires_at"].(bson.M)["$gt"].(time.Time)
	assert.Equal(t, filterNow, cutoff)

	// Expired and used tokens fall outside the filter: replacement must not
	// double as cleanup, the stale filter owns that.
	expired := tokenExpiredAgo(time.Second)
	assert.False(t, expired.ExpiresAt.After(cutoff))

	used := tokenUsedAgo(time.Minute)
	assert.NotNil(t, used.UsedAt)
}
