package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ritahq/automation-mock/internal/models"
	"github.com/ritahq/automation-mock/internal/repositories"
	"github.com/ritahq/automation-mock/pkg/uuid"
)

// TokenCode is the machine-readable reason a token check failed
type TokenCode string

const (
	CodeInvalidToken     TokenCode = "INVALID_TOKEN"
	CodeTokenAlreadyUsed TokenCode = "TOKEN_ALREADY_USED"
	CodeTokenExpired     TokenCode = "TOKEN_EXPIRED"
)

// ResetTokenStore is the persistence surface the token service needs.
type ResetTokenStore interface {
	GetBySecret(ctx context.Context, secret string) (*models.ResetToken, error)
	IssueExclusive(ctx context.Context, token *models.ResetToken, now time.Time) error
	ConsumeBySecret(ctx context.Context, secret string, now time.Time) (*models.ResetToken, error)
	DeleteByID(ctx context.Context, id string) error
}

// AccountDirectory resolves emails to known accounts.
type AccountDirectory interface {
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
}

// ResetIssue is returned by RequestReset when a token was created.
type ResetIssue struct {
	TokenID   string
	Email     string
	Secret    string
	ExpiresAt time.Time
}

// TokenCheck is the outcome of a read-only token verification.
type TokenCheck struct {
	Valid   bool      `json:"valid"`
	Email   string    `json:"email,omitempty"`
	Code    TokenCode `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
}

// TokenConsume is the outcome of a consumption attempt.
type TokenConsume struct {
	Success bool      `json:"success"`
	TokenID string    `json:"token_id,omitempty"`
	Email   string    `json:"email,omitempty"`
	Code    TokenCode `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
}

// TokenService manages the password-reset token lifecycle: issuance with
// opportunistic cleanup, read-only verification, and strictly single-use
// consumption. It never talks to the identity provider; notifying external
// systems after consumption is the caller's job.
type TokenService struct {
	tokens   ResetTokenStore
	accounts AccountDirectory
	clock    Clock
}

func NewTokenService(tokens ResetTokenStore, accounts AccountDirectory, clock Clock) *TokenService {
	if clock == nil {
		clock = SystemClock()
	}
	return &TokenService{
		tokens:   tokens,
		accounts: accounts,
		clock:    clock,
	}
}

// RequestReset issues a fresh token for the account owning the email. A nil
// result with a nil error means the account does not exist; callers must
// still report success upstream so responses don't reveal account existence.
func (s *TokenService) RequestReset(ctx context.Context, email, requestIP, requestUserAgent string) (*ResetIssue, error) {
	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if repositories.IsAccountNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	secret, err := newResetSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to generate reset secret: %w", err)
	}

	now := s.clock.Now()
	token := &models.ResetToken{
		ID:               uuid.MustNewUUID(),
		AccountEmail:     account.Email,
		Secret:           secret,
		CreatedAt:        now,
		ExpiresAt:        now.Add(models.ResetTokenTTL),
		RequestIP:        requestIP,
		RequestUserAgent: requestUserAgent,
	}

	if err := s.tokens.IssueExclusive(ctx, token, now); err != nil {
		return nil, err
	}

	return &ResetIssue{
		TokenID:   token.ID,
		Email:     token.AccountEmail,
		Secret:    secret,
		ExpiresAt: token.ExpiresAt,
	}, nil
}

// CancelIssue removes a just-issued token. One-shot compensation for when
// the notification after a successful issue cannot be dispatched.
func (s *TokenService) CancelIssue(ctx context.Context, tokenID string) error {
	return s.tokens.DeleteByID(ctx, tokenID)
}

// VerifyToken checks a secret without side effects. Malformed secrets are
// rejected before any storage lookup.
func (s *TokenService) VerifyToken(ctx context.Context, secret string) (*TokenCheck, error) {
	if !validSecretFormat(secret) {
		return &TokenCheck{Valid: false, Code: CodeInvalidToken, Message: "malformed reset token"}, nil
	}

	token, err := s.tokens.GetBySecret(ctx, secret)
	if err != nil {
		if repositories.IsTokenNotFound(err) {
			return &TokenCheck{Valid: false, Code: CodeInvalidToken, Message: "unknown reset token"}, nil
		}
		return nil, err
	}

	if token.Used() {
		return &TokenCheck{Valid: false, Code: CodeTokenAlreadyUsed, Message: "reset token has already been used"}, nil
	}
	if token.Expired(s.clock.Now()) {
		return &TokenCheck{Valid: false, Code: CodeTokenExpired, Message: "reset token has expired"}, nil
	}

	return &TokenCheck{Valid: true, Email: token.AccountEmail}, nil
}

// ConsumeToken marks a token used, exactly once. All verification checks
// are re-run here: time has passed since any earlier VerifyToken call and a
// concurrent consumer may exist. The conditional update is the single
// source of truth; losing the race yields TOKEN_ALREADY_USED even when the
// read just above saw an unused token.
func (s *TokenService) ConsumeToken(ctx context.Context, secret string) (*TokenConsume, error) {
	if !validSecretFormat(secret) {
		return &TokenConsume{Success: false, Code: CodeInvalidToken, Message: "malformed reset token"}, nil
	}

	token, err := s.tokens.GetBySecret(ctx, secret)
	if err != nil {
		if repositories.IsTokenNotFound(err) {
			return &TokenConsume{Success: false, Code: CodeInvalidToken, Message: "unknown reset token"}, nil
		}
		return nil, err
	}

	now := s.clock.Now()
	if token.Used() {
		return &TokenConsume{Success: false, Code: CodeTokenAlreadyUsed, Message: "reset token has already been used"}, nil
	}
	if token.Expired(now) {
		return &TokenConsume{Success: false, Code: CodeTokenExpired, Message: "reset token has expired"}, nil
	}

	consumed, err := s.tokens.ConsumeBySecret(ctx, secret, now)
	if err != nil {
		if repositories.IsTokenNotFound(err) {
			// Lost the race to a concurrent consumer.
			return &TokenConsume{Success: false, Code: CodeTokenAlreadyUsed, Message: "reset token has already been used"}, nil
		}
		return nil, err
	}

	return &TokenConsume{
		Success: true,
		TokenID: consumed.ID,
		Email:   consumed.AccountEmail,
	}, nil
}

// newResetSecret draws 256 bits from crypto/rand, hex-encoded.
func newResetSecret() (string, error) {
	buf := make([]byte, models.ResetTokenSecretHexChars/2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// validSecretFormat requires the fixed-length lowercase hex rendering.
func validSecretFormat(secret string) bool {
	if len(secret) != models.ResetTokenSecretHexChars {
		return false
	}
	for _, c := range secret {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// RedactSecret renders a loggable prefix of a token secret.
func RedactSecret(secret string) string {
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:8] + "..."
}
