package models

import (
	"fmt"
	"strings"
)

// WebhookEnvelope is the generic body accepted by the webhook endpoint.
// Action-specific fields are decoded separately into the payload structs
// below once the route has been resolved.
type WebhookEnvelope struct {
	Source   string `json:"source"`
	Action   string `json:"action"`
	TenantID string `json:"tenant_id"`
}

// ValidationError reports a malformed or incomplete envelope/payload.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func missing(field string) error {
	return &ValidationError{Field: field, Message: "is required"}
}

// Route identifies one supported (source, action) pair. The set is closed:
// dispatch is an exhaustive switch over these constants, so adding an action
// means adding a constant, a payload struct and a switch arm.
type Route int

const (
	RouteUnknown Route = iota
	RouteChatMessageCreated
	RouteDocumentUploaded
	RouteDocumentDeleted
	RouteUserSignup
	RouteSendInvitation
	RouteAcceptInvitation
	RoutePasswordResetRequest
	RoutePasswordResetComplete
	RouteVerifyCredentials
	RouteTriggerSync
)

// Source tags. Callers historically sent both the bare tag and a
// "rita-"-prefixed variant; ResolveRoute accepts either.
const (
	SourceChat        = "chat"
	SourceDocuments   = "documents"
	SourceSignup      = "signup"
	SourceInvitations = "invitations"
	SourceAuth        = "auth"
	SourceDataSources = "data-sources"
)

// Action tags, unique within their source.
const (
	ActionMessageCreated        = "message_created"
	ActionDocumentUploaded      = "document_uploaded"
	ActionDocumentDeleted       = "document_deleted"
	ActionUserSignup            = "user_signup"
	ActionSendInvitation        = "send_invitation"
	ActionAcceptInvitation      = "accept_invitation"
	ActionPasswordResetRequest  = "password_reset_request"
	ActionPasswordResetComplete = "password_reset_complete"
	ActionVerifyCredentials     = "verify_credentials"
	ActionTriggerSync           = "trigger_sync"
)

// NormalizeSource strips the optional "rita-" prefix from a source tag.
func NormalizeSource(source string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(source)), "rita-")
}

// ResolveRoute maps a (source, action) pair onto its Route. The second
// return value is false for unrecognized pairs.
func ResolveRoute(source, action string) (Route, bool) {
	switch NormalizeSource(source) {
	case SourceChat:
		if action == ActionMessageCreated {
			return RouteChatMessageCreated, true
		}
	case SourceDocuments:
		switch action {
		case ActionDocumentUploaded:
			return RouteDocumentUploaded, true
		case ActionDocumentDeleted:
			return RouteDocumentDeleted, true
		}
	case SourceSignup:
		if action == ActionUserSignup {
			return RouteUserSignup, true
		}
	case SourceInvitations:
		switch action {
		case ActionSendInvitation:
			return RouteSendInvitation, true
		case ActionAcceptInvitation:
			return RouteAcceptInvitation, true
		}
	case SourceAuth:
		switch action {
		case ActionPasswordResetRequest:
			return RoutePasswordResetRequest, true
		case ActionPasswordResetComplete:
			return RoutePasswordResetComplete, true
		}
	case SourceDataSources:
		switch action {
		case ActionVerifyCredentials:
			return RouteVerifyCredentials, true
		case ActionTriggerSync:
			return RouteTriggerSync, true
		}
	}
	return RouteUnknown, false
}

// TenantExempt reports whether the route is public and carries no tenant
// context. Only the two password-reset actions qualify.
func (r Route) TenantExempt() bool {
	return r == RoutePasswordResetRequest || r == RoutePasswordResetComplete
}

// String returns the canonical "source:action" tag for logging.
func (r Route) String() string {
	switch r {
	case RouteChatMessageCreated:
		return SourceChat + ":" + ActionMessageCreated
	case RouteDocumentUploaded:
		return SourceDocuments + ":" + ActionDocumentUploaded
	case RouteDocumentDeleted:
		return SourceDocuments + ":" + ActionDocumentDeleted
	case RouteUserSignup:
		return SourceSignup + ":" + ActionUserSignup
	case RouteSendInvitation:
		return SourceInvitations + ":" + ActionSendInvitation
	case RouteAcceptInvitation:
		return SourceInvitations + ":" + ActionAcceptInvitation
	case RoutePasswordResetRequest:
		return SourceAuth + ":" + ActionPasswordResetRequest
	case RoutePasswordResetComplete:
		return SourceAuth + ":" + ActionPasswordResetComplete
	case RouteVerifyCredentials:
		return SourceDataSources + ":" + ActionVerifyCredentials
	case RouteTriggerSync:
		return SourceDataSources + ":" + ActionTriggerSync
	default:
		return "unknown"
	}
}

// ChatMessageCreated is the payload for chat:message_created.
type ChatMessageCreated struct {
	MessageID       string `json:"message_id"`
	ConversationID  string `json:"conversation_id"`
	CustomerMessage string `json:"customer_message"`
}

func (p *ChatMessageCreated) Validate() error {
	if p.MessageID == "" {
		return missing("message_id")
	}
	if p.ConversationID == "" {
		return missing("conversation_id")
	}
	if p.CustomerMessage == "" {
		return missing("customer_message")
	}
	return nil
}

// DocumentUploaded is the payload for documents:document_uploaded.
type DocumentUploaded struct {
	DocumentID string `json:"document_id"`
	BlobName   string `json:"blob_name"`
	FileName   string `json:"file_name"`
}

func (p *DocumentUploaded) Validate() error {
	if p.DocumentID == "" {
		return missing("document_id")
	}
	if p.BlobName == "" {
		return missing("blob_name")
	}
	return nil
}

// DocumentDeleted is the payload for documents:document_deleted.
type DocumentDeleted struct {
	DocumentID string `json:"document_id"`
	BlobName   string `json:"blob_name"`
}

func (p *DocumentDeleted) Validate() error {
	if p.DocumentID == "" {
		return missing("document_id")
	}
	if p.BlobName == "" {
		return missing("blob_name")
	}
	return nil
}

// UserSignup is the payload for signup:user_signup. Password arrives
// Base64-encoded; VerificationToken is pre-generated by the caller.
type UserSignup struct {
	SignupID          string `json:"signup_id"`
	Email             string `json:"email"`
	Username          string `json:"username"`
	Password          string `json:"password"`
	FirstName         string `json:"first_name"`
	LastName          string `json:"last_name"`
	VerificationToken string `json:"verification_token"`
}

func (p *UserSignup) Validate() error {
	if p.SignupID == "" {
		return missing("signup_id")
	}
	if p.Email == "" {
		return missing("email")
	}
	if p.Username == "" {
		return missing("username")
	}
	if p.Password == "" {
		return missing("password")
	}
	if p.VerificationToken == "" {
		return missing("verification_token")
	}
	return nil
}

// InvitationRecipient is one invitee inside a send_invitation payload.
type InvitationRecipient struct {
	InvitationID string `json:"invitation_id"`
	Email        string `json:"email"`
}

// SendInvitation is the payload for invitations:send_invitation.
type SendInvitation struct {
	InvitedBy string                `json:"invited_by"`
	Invitees  []InvitationRecipient `json:"invitees"`
}

func (p *SendInvitation) Validate() error {
	if len(p.Invitees) == 0 {
		return missing("invitees")
	}
	for i := range p.Invitees {
		if p.Invitees[i].InvitationID == "" {
			return missing("invitees.invitation_id")
		}
		if p.Invitees[i].Email == "" {
			return missing("invitees.email")
		}
	}
	return nil
}

// AcceptInvitation is the payload for invitations:accept_invitation. It
// reuses the signup provisioning path, keyed by invitation id.
type AcceptInvitation struct {
	InvitationID string `json:"invitation_id"`
	Email        string `json:"email"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
}

func (p *AcceptInvitation) Validate() error {
	if p.InvitationID == "" {
		return missing("invitation_id")
	}
	if p.Email == "" {
		return missing("email")
	}
	if p.Username == "" {
		return missing("username")
	}
	if p.Password == "" {
		return missing("password")
	}
	return nil
}

// PasswordResetRequest is the payload for auth:password_reset_request.
type PasswordResetRequest struct {
	Email string `json:"email"`
}

func (p *PasswordResetRequest) Validate() error {
	if p.Email == "" {
		return missing("email")
	}
	return nil
}

// PasswordResetComplete is the payload for auth:password_reset_complete.
// NewPassword arrives Base64-encoded.
type PasswordResetComplete struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (p *PasswordResetComplete) Validate() error {
	if p.Token == "" {
		return missing("token")
	}
	if p.NewPassword == "" {
		return missing("new_password")
	}
	return nil
}

// VerifyCredentials is the payload for data-sources:verify_credentials.
type VerifyCredentials struct {
	DataSourceID string `json:"data_source_id"`
	SourceType   string `json:"source_type"`
}

func (p *VerifyCredentials) Validate() error {
	if p.DataSourceID == "" {
		return missing("data_source_id")
	}
	return nil
}

// TriggerSync is the payload for data-sources:trigger_sync.
type TriggerSync struct {
	DataSourceID string `json:"data_source_id"`
}

func (p *TriggerSync) Validate() error {
	if p.DataSourceID == "" {
		return missing("data_source_id")
	}
	return nil
}
