package models

import (
	"time"
)

// AccountSource records which provisioning path created the account.
type AccountSource string

const (
	AccountSourceSignup     AccountSource = "signup"
	AccountSourceInvitation AccountSource = "invitation"
)

// Account is the local mirror of an identity-provider user. The mock keeps
// it so that reset-token issuance has a directory to check emails against.
// Collection: accounts
type Account struct {
	ID           string        `bson:"_id" json:"id"`
	Email        string        `bson:"email" json:"email"` // stored lowercase
	Username     string        `bson:"username" json:"username"`
	FirstName    string        `bson:"first_name,omitempty" json:"first_name,omitempty"`
	LastName     string        `bson:"last_name,omitempty" json:"last_name,omitempty"`
	PasswordHash string        `bson:"password_hash" json:"-"` // never expose in JSON
	TenantID     string        `bson:"tenant_id,omitempty" json:"tenant_id,omitempty"`
	Source       AccountSource `bson:"source" json:"source"`
	SourceRef    string        `bson:"source_ref,omitempty" json:"source_ref,omitempty"` // pending-signup or invitation id
	IsActive     bool          `bson:"is_active" json:"is_active"`
	CreatedAt    time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time     `bson:"updated_at" json:"updated_at"`
}
