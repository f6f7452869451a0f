package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"

	"github.com/ritahq/automation-mock/internal/models"
	"github.com/ritahq/automation-mock/internal/notify"
	"github.com/ritahq/automation-mock/internal/repositories"
	"github.com/ritahq/automation-mock/pkg/idp"
	"golang.org/x/crypto/bcrypt"
)

// IdentityProvider is the admin-API surface the provisioning and reset
// flows need. pkg/idp.Client satisfies it; tests use a fake.
type IdentityProvider interface {
	CreateUser(ctx context.Context, user idp.NewUser) error
	FindUserByEmail(ctx context.Context, email string) (*idp.User, error)
	ResetPassword(ctx context.Context, userID, newPassword string) error
}

// AccountStore is the persistence surface for the local account mirror.
type AccountStore interface {
	Create(ctx context.Context, account *models.Account) error
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	UpdatePasswordByEmail(ctx context.Context, email, passwordHash string) error
}

// ProvisionInput carries the fields shared by the signup and
// invitation-accept paths. SourceRef is the pending-signup id for signups
// and the invitation id for accepted invitations.
type ProvisionInput struct {
	Source            models.AccountSource
	SourceRef         string
	TenantID          string
	Email             string
	Username          string
	FirstName         string
	LastName          string
	EncodedPassword   string // Base64
	VerificationToken string // signup only
}

// ProvisioningService creates identity-provider accounts and keeps the
// local mirror in sync. Signup and invitation acceptance share one path.
type ProvisioningService struct {
	idp         IdentityProvider
	accounts    AccountStore
	notifier    notify.Notifier
	frontendURL string
}

func NewProvisioningService(provider IdentityProvider, accounts AccountStore, notifier notify.Notifier, frontendURL string) *ProvisioningService {
	return &ProvisioningService{
		idp:         provider,
		accounts:    accounts,
		notifier:    notifier,
		frontendURL: frontendURL,
	}
}

// Provision decodes the password, creates the identity-provider user,
// mirrors a local account and, for signups, dispatches the verification
// link the caller pre-generated.
func (s *ProvisioningService) Provision(ctx context.Context, in ProvisionInput) error {
	password, err := DecodePassword(in.EncodedPassword)
	if err != nil {
		return err
	}

	if err := s.idp.CreateUser(ctx, idp.NewUser{
		Username:  in.Username,
		Email:     in.Email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Password:  password,
	}); err != nil {
		return fmt.Errorf("failed to provision identity-provider user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	account := &models.Account{
		Email:        in.Email,
		Username:     in.Username,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		PasswordHash: string(hash),
		TenantID:     in.TenantID,
		Source:       in.Source,
		SourceRef:    in.SourceRef,
		IsActive:     true,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		if !repositories.IsDuplicateKey(err) {
			return err
		}
		// Re-provisioning an already mirrored account is fine; the IdP call
		// above is the authoritative one.
		log.Printf("provisioning: account %s already mirrored locally", account.Email)
	}

	if in.VerificationToken != "" {
		link := fmt.Sprintf("%s/verify-email?token=%s", s.frontendURL, in.VerificationToken)
		if err := s.notifier.VerificationLink(ctx, in.Email, link); err != nil {
			// The account exists either way; the link is also in the logs.
			log.Printf("provisioning: verification notify failed for %s: %v", in.Email, err)
		}
	}

	return nil
}

// CompletePasswordReset updates the credential of an existing account in
// the identity provider and mirrors the change locally. Returns
// idp.ErrUserNotFound when no account matches the email.
func (s *ProvisioningService) CompletePasswordReset(ctx context.Context, email, newPassword string) error {
	user, err := s.idp.FindUserByEmail(ctx, email)
	if err != nil {
		return err
	}

	if err := s.idp.ResetPassword(ctx, user.ID, newPassword); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), 12)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.accounts.UpdatePasswordByEmail(ctx, email, string(hash)); err != nil {
		// IdP is the source of truth for credentials; a stale mirror only
		// affects subsequent reset lookups, so log and move on.
		log.Printf("provisioning: local password mirror update failed for %s: %v", email, err)
	}

	return nil
}

// DecodePassword decodes the Base64 password transport encoding.
func DecodePassword(encoded string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", &models.ValidationError{Field: "password", Message: "must be Base64-encoded"}
	}
	if len(decoded) == 0 {
		return "", &models.ValidationError{Field: "password", Message: "must not be empty"}
	}
	return string(decoded), nil
}
