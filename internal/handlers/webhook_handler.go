package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/ritahq/automation-mock/config"
	"github.com/ritahq/automation-mock/internal/events"
	"github.com/ritahq/automation-mock/internal/middleware"
	"github.com/ritahq/automation-mock/internal/models"
	"github.com/ritahq/automation-mock/internal/notify"
	"github.com/ritahq/automation-mock/internal/ratelimit"
	"github.com/ritahq/automation-mock/internal/repositories"
	"github.com/ritahq/automation-mock/internal/services"
	"github.com/ritahq/automation-mock/pkg/idp"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// StatusPublisher is the slice of the event publisher the async document
// and data-source branches use.
type StatusPublisher interface {
	PublishDocumentProcessed(event *events.DocumentProcessed) error
	PublishDataSourceStatus(event *events.DataSourceStatus) error
}

// WebhookHandler is the single entry point for automation events. Every
// request goes through the same gate order: decode, structural validation,
// tenant check, route resolution, shared-secret auth, then exactly one
// per-route branch. Auth runs after structural validation so malformed
// requests are reported as such, but before any side-effecting work.
type WebhookHandler struct {
	sharedSecret []byte
	rateLimit    int
	rateWindow   time.Duration

	tokens      *services.TokenService
	provisioner *services.ProvisioningService
	responder   *services.Responder
	publisher   StatusPublisher
	scheduler   services.Scheduler
	notifier    notify.Notifier
	limiter     ratelimit.Limiter

	processingDelay time.Duration
	frontendURL     string
}

// WebhookDeps bundles the collaborators of the webhook handler.
type WebhookDeps struct {
	Tokens      *services.TokenService
	Provisioner *services.ProvisioningService
	Responder   *services.Responder
	Publisher   StatusPublisher
	Scheduler   services.Scheduler
	Notifier    notify.Notifier
	Limiter     ratelimit.Limiter
}

// NewWebhookHandler creates the dispatcher for POST /webhook.
func NewWebhookHandler(webhookCfg config.WebhookConfig, responderCfg config.ResponderConfig, notifyCfg config.NotifyConfig, deps WebhookDeps) *WebhookHandler {
	return &WebhookHandler{
		sharedSecret:    []byte(webhookCfg.SharedSecret),
		rateLimit:       webhookCfg.ResetRateLimit,
		rateWindow:      time.Duration(webhookCfg.ResetRateWindow) * time.Second,
		tokens:          deps.Tokens,
		provisioner:     deps.Provisioner,
		responder:       deps.Responder,
		publisher:       deps.Publisher,
		scheduler:       deps.Scheduler,
		notifier:        deps.Notifier,
		limiter:         deps.Limiter,
		processingDelay: time.Duration(responderCfg.ProcessingDelayMs) * time.Millisecond,
		frontendURL:     strings.TrimRight(notifyCfg.FrontendURL, "/"),
	}
}

// Handle processes POST /webhook.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "VALIDATION_ERROR", "unable to read request body")
		return
	}

	var env models.WebhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		respondWithError(w, http.StatusBadRequest, "VALIDATION_ERROR", "request body must be a JSON envelope")
		return
	}

	if env.Source == "" || env.Action == "" {
		respondWithError(w, http.StatusBadRequest, "VALIDATION_ERROR", "source and action are required")
		return
	}

	// Tenant gate. The two password-reset actions are public and carry no
	// tenant context; everything else must name its tenant. This runs
	// before auth on purpose: see the gate order above.
	if !isTenantExempt(env.Source, env.Action) && env.TenantID == "" {
		respondWithError(w, http.StatusBadRequest, "VALIDATION_ERROR", "tenant_id is required")
		return
	}

	route, ok := models.ResolveRoute(env.Source, env.Action)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "UNSUPPORTED_ACTION",
			fmt.Sprintf("unsupported source/action combination: %s:%s", env.Source, env.Action))
		return
	}

	if !h.authorized(r) {
		respondWithError(w, http.StatusUnauthorized, "INVALID_WEBHOOK_SECRET", "missing or invalid webhook secret")
		return
	}

	switch route {
	case models.RouteChatMessageCreated:
		h.handleChatMessage(w, r, body, &env)
	case models.RouteDocumentUploaded:
		h.handleDocumentUploaded(w, r, body, &env)
	case models.RouteDocumentDeleted:
		h.handleDocumentDeleted(w, r, body)
	case models.RouteUserSignup:
		h.handleUserSignup(w, r, body, &env)
	case models.RouteSendInvitation:
		h.handleSendInvitation(w, r, body)
	case models.RouteAcceptInvitation:
		h.handleAcceptInvitation(w, r, body, &env)
	case models.RoutePasswordResetRequest:
		h.handlePasswordResetRequest(w, r, body)
	case models.RoutePasswordResetComplete:
		h.handlePasswordResetComplete(w, r, body)
	case models.RouteVerifyCredentials:
		h.handleVerifyCredentials(w, r, body, &env)
	case models.RouteTriggerSync:
		h.handleTriggerSync(w, r, body, &env)
	default:
		// ResolveRoute returned ok for a route without a branch; that is a
		// programming error, not caller input.
		respondWithError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "unroutable action")
	}
}

// authorized compares the Authorization header against the shared secret.
// Both the raw token and the "Basic <token>" form are accepted.
func (h *WebhookHandler) authorized(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	if header == "" || len(h.sharedSecret) == 0 {
		return false
	}

	token := header
	if strings.HasPrefix(header, "Basic ") {
		token = strings.TrimPrefix(header, "Basic ")
	}

	return subtle.ConstantTimeCompare([]byte(token), h.sharedSecret) == 1
}

func isTenantExempt(source, action string) bool {
	if models.NormalizeSource(source) != models.SourceAuth {
		return false
	}
	return action == models.ActionPasswordResetRequest || action == models.ActionPasswordResetComplete
}

// decodeValidated unmarshals the raw body into the payload and runs its
// Validate method, writing the 400 itself on failure.
func decodeValidated(w http.ResponseWriter, body []byte, payload interface{ Validate() error }) bool {
	if err := json.Unmarshal(body, payload); err != nil {
		respondWithError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed payload")
		return false
	}
	if err := payload.Validate(); err != nil {
		respondWithError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return false
	}
	return true
}

// --- chat ---

func (h *WebhookHandler) handleChatMessage(w http.ResponseWriter, r *http.Request, body []byte, env *models.WebhookEnvelope) {
	var payload models.ChatMessageCreated
	if !decodeValidated(w, body, &payload) {
		return
	}

	h.responder.Respond(env.TenantID, payload.ConversationID, payload.MessageID, payload.CustomerMessage)

	respondWithJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"status":  "accepted",
	})
}

// --- documents ---

func (h *WebhookHandler) handleDocumentUploaded(w http.ResponseWriter, r *http.Request, body []byte, env *models.WebhookEnvelope) {
	var payload models.DocumentUploaded
	if !decodeValidated(w, body, &payload) {
		return
	}

	tenantID := env.TenantID
	h.scheduler.Schedule(h.processingDelay, func() {
		event := &events.DocumentProcessed{
			TenantID:   tenantID,
			DocumentID: payload.DocumentID,
			BlobName:   payload.BlobName,
			Status:     "processing_completed",
			Markdown:   synthesizeMarkdown(payload),
		}
		if err := h.publisher.PublishDocumentProcessed(event); err != nil {
			log.Printf("webhook: document processed publish failed for %s: %v", payload.DocumentID, err)
		}
	})

	respondWithJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"status":  "processing",
	})
}

func (h *WebhookHandler) handleDocumentDeleted(w http.ResponseWriter, r *http.Request, body []byte) {
	var payload models.DocumentDeleted
	if !decodeValidated(w, body, &payload) {
		return
	}

	// Acknowledge synchronously so the caller's vector-store cleanup is
	// not blocked behind a simulated delay.
	log.Printf("webhook: acknowledged deletion of document %s (blob %s)", payload.DocumentID, payload.BlobName)

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
	})
}

func synthesizeMarkdown(payload models.DocumentUploaded) string {
	name := payload.FileName
	if name == "" {
		name = payload.BlobName
	}
	return fmt.Sprintf("# %s\n\nExtracted content for document `%s`.\n\n"+
		"## Summary\n\nThis is synthesized processing output produced by the automation mock. "+
		"The real pipeline would return the document's chunked markdown here.\n", name, payload.DocumentID)
}

// --- signup / invitations ---

func (h *WebhookHandler) handleUserSignup(w http.ResponseWriter, r *http.Request, body []byte, env *models.WebhookEnvelope) {
	var payload models.UserSignup
	if !decodeValidated(w, body, &payload) {
		return
	}

	err := h.provisioner.Provision(r.Context(), services.ProvisionInput{
		Source:            models.AccountSourceSignup,
		SourceRef:         payload.SignupID,
		TenantID:          env.TenantID,
		Email:             payload.Email,
		Username:          payload.Username,
		FirstName:         payload.FirstName,
		LastName:          payload.LastName,
		EncodedPassword:   payload.Password,
		VerificationToken: payload.VerificationToken,
	})
	if err != nil {
		var ve *models.ValidationError
		if errors.As(err, &ve) {
			respondWithError(w, http.StatusBadRequest, "VALIDATION_ERROR", ve.Error())
			return
		}
		log.Printf("webhook: signup provisioning failed for %s: %v", payload.Email, err)
		respondWithError(w, http.StatusInternalServerError, "PROVISIONING_FAILED", "failed to provision account")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"email":   payload.Email,
	})
}

func (h *WebhookHandler) handleSendInvitation(w http.ResponseWriter, r *http.Request, body []byte) {
	var payload models.SendInvitation
	if !decodeValidated(w, body, &payload) {
		return
	}

	sent := 0
	for _, invitee := range payload.Invitees {
		link := fmt.Sprintf("%s/accept-invitation?invitation=%s", h.frontendURL, invitee.InvitationID)
		if err := h.notifier.InvitationLink(r.Context(), invitee.Email, link); err != nil {
			log.Printf("webhook: invitation notify failed for %s: %v", invitee.Email, err)
			continue
		}
		sent++
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":          true,
		"invitations_sent": sent,
	})
}

func (h *WebhookHandler) handleAcceptInvitation(w http.ResponseWriter, r *http.Request, body []byte, env *models.WebhookEnvelope) {
	var payload models.AcceptInvitation
	if !decodeValidated(w, body, &payload) {
		return
	}

	err := h.provisioner.Provision(r.Context(), services.ProvisionInput{
		Source:          models.AccountSourceInvitation,
		SourceRef:       payload.InvitationID,
		TenantID:        env.TenantID,
		Email:           payload.Email,
		Username:        payload.Username,
		FirstName:       payload.FirstName,
		LastName:        payload.LastName,
		EncodedPassword: payload.Password,
	})
	if err != nil {
		var ve *models.ValidationError
		if errors.As(err, &ve) {
			respondWithError(w, http.StatusBadRequest, "VALIDATION_ERROR", ve.Error())
			return
		}
		log.Printf("webhook: invitation provisioning failed for %s: %v", payload.Email, err)
		respondWithError(w, http.StatusInternalServerError, "PROVISIONING_FAILED", "failed to provision account")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"email":   payload.Email,
	})
}

// --- password reset ---

// resetRequestAccepted is the single response body for reset requests.
// Existing and unknown emails must be indistinguishable at this boundary,
// so every non-error path returns exactly this payload.
var resetRequestAccepted = map[string]interface{}{
	"success": true,
	"message": "If an account exists for this email, a reset link has been sent.",
}

func (h *WebhookHandler) handlePasswordResetRequest(w http.ResponseWriter, r *http.Request, body []byte) {
	var payload models.PasswordResetRequest
	if !decodeValidated(w, body, &payload) {
		return
	}

	clientIP := middleware.ClientIP(r)
	if h.limiter != nil {
		if err := h.limiter.CheckAndIncrement(r.Context(), clientIP, h.rateLimit, h.rateWindow); err != nil {
			if errors.Is(err, ratelimit.ErrLimitExceeded) {
				respondWithError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many reset requests, try again later")
				return
			}
			// A broken limiter backend must not take the reset flow down.
			log.Printf("webhook: rate limiter check failed: %v", err)
		}
	}

	issue, err := h.tokens.RequestReset(r.Context(), payload.Email, clientIP, r.UserAgent())
	if err != nil {
		if repositories.IsStorage(err) {
			respondWithError(w, http.StatusInternalServerError, "STORAGE_ERROR", "could not process the reset request")
			return
		}
		log.Printf("webhook: reset request failed: %v", err)
		respondWithError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not process the reset request")
		return
	}

	if issue == nil {
		// Unknown email. Same body, same status.
		respondWithJSON(w, http.StatusOK, resetRequestAccepted)
		return
	}

	link := fmt.Sprintf("%s/reset-password?token=%s", h.frontendURL, issue.Secret)
	if err := h.notifier.PasswordResetLink(r.Context(), issue.Email, link); err != nil {
		// Persist-before-notify means the token row exists but its secret
		// never left the building. Compensate once by deleting it; the
		// caller still sees the standard success body.
		log.Printf("webhook: reset notify failed for %s (token %s): %v", issue.Email, services.RedactSecret(issue.Secret), err)
		if err := h.tokens.CancelIssue(r.Context(), issue.TokenID); err != nil {
			log.Printf("webhook: orphaned token cleanup failed for %s: %v", issue.TokenID, err)
		}
	}

	respondWithJSON(w, http.StatusOK, resetRequestAccepted)
}

func (h *WebhookHandler) handlePasswordResetComplete(w http.ResponseWriter, r *http.Request, body []byte) {
	var payload models.PasswordResetComplete
	if !decodeValidated(w, body, &payload) {
		return
	}

	// Decode before consuming: a malformed password must not burn the token.
	newPassword, err := services.DecodePassword(payload.NewPassword)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	consume, err := h.tokens.ConsumeToken(r.Context(), payload.Token)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "STORAGE_ERROR", "could not process the reset")
		return
	}
	if !consume.Success {
		respondWithJSON(w, http.StatusOK, consume)
		return
	}

	// The token is consumed; from here on failures are soft. A hard error
	// would invite a retry with a dead token.
	if err := h.provisioner.CompletePasswordReset(r.Context(), consume.Email, newPassword); err != nil {
		code := "EXTERNAL_SERVICE_ERROR"
		message := "password update failed, contact support"
		if errors.Is(err, idp.ErrUserNotFound) {
			code = "ACCOUNT_NOT_FOUND"
			message = "no matching account"
		}
		log.Printf("webhook: reset completion failed for %s: %v", consume.Email, err)
		respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"code":    code,
			"message": message,
		})
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
	})
}

// --- data sources ---

func (h *WebhookHandler) handleVerifyCredentials(w http.ResponseWriter, r *http.Request, body []byte, env *models.WebhookEnvelope) {
	var payload models.VerifyCredentials
	if !decodeValidated(w, body, &payload) {
		return
	}

	tenantID := env.TenantID
	h.scheduler.Schedule(h.processingDelay, func() {
		h.publishDataSourceStatus(tenantID, payload.DataSourceID, events.DataSourceStatusSuccess)
	})

	respondWithJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"status":  "verifying",
	})
}

func (h *WebhookHandler) handleTriggerSync(w http.ResponseWriter, r *http.Request, body []byte, env *models.WebhookEnvelope) {
	var payload models.TriggerSync
	if !decodeValidated(w, body, &payload) {
		return
	}

	tenantID := env.TenantID
	h.scheduler.Schedule(h.processingDelay, func() {
		h.publishDataSourceStatus(tenantID, payload.DataSourceID, events.DataSourceStatusSyncCompleted)
	})

	respondWithJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"status":  "sync_started",
	})
}

// publishDataSourceStatus publishes an outcome message. When the publish
// fails, one compensating failed-status publish is attempted so consumers
// are not left with a job that never reports, mirroring the chat
// responder's fallback fragment.
func (h *WebhookHandler) publishDataSourceStatus(tenantID, dataSourceID, status string) {
	event := &events.DataSourceStatus{
		TenantID:     tenantID,
		DataSourceID: dataSourceID,
		Status:       status,
	}
	err := h.publisher.PublishDataSourceStatus(event)
	if err == nil {
		return
	}
	log.Printf("webhook: %s status publish failed for %s: %v", status, dataSourceID, err)

	fallback := &events.DataSourceStatus{
		TenantID:     tenantID,
		DataSourceID: dataSourceID,
		Status:       events.DataSourceStatusFailed,
	}
	if err := h.publisher.PublishDataSourceStatus(fallback); err != nil {
		log.Printf("webhook: failed-status publish failed for %s: %v", dataSourceID, err)
	}
}
