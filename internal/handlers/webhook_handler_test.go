package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ritahq/automation-mock/config"
	"github.com/ritahq/automation-mock/internal/events"
	"github.com/ritahq/automation-mock/internal/models"
	"github.com/ritahq/automation-mock/internal/ratelimit"
	"github.com/ritahq/automation-mock/internal/repositories"
	"github.com/ritahq/automation-mock/internal/services"
	"github.com/ritahq/automation-mock/pkg/idp"
)

const testSecret = "hook-secret"

// --- fakes ---

type syncScheduler struct{}

func (syncScheduler) Schedule(_ time.Duration, task func()) { task() }

type recordingPublisher struct {
	chat      []*events.ChatResponse
	documents []*events.DocumentProcessed
	statuses  []*events.DataSourceStatus

	statusFailures int // first N status publishes error
}

func (p *recordingPublisher) PublishChatResponse(e *events.ChatResponse) error {
	p.chat = append(p.chat, e)
	return nil
}

func (p *recordingPublisher) PublishDocumentProcessed(e *events.DocumentProcessed) error {
	p.documents = append(p.documents, e)
	return nil
}

func (p *recordingPublisher) PublishDataSourceStatus(e *events.DataSourceStatus) error {
	if p.statusFailures > 0 {
		p.statusFailures--
		return assert.AnError
	}
	p.statuses = append(p.statuses, e)
	return nil
}

type recordingNotifier struct {
	resetLinks        map[string]string // email -> link
	verificationLinks map[string]string
	invitationLinks   map[string]string
	failResets        bool
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{
		resetLinks:        map[string]string{},
		verificationLinks: map[string]string{},
		invitationLinks:   map[string]string{},
	}
}

func (n *recordingNotifier) PasswordResetLink(_ context.Context, email, link string) error {
	if n.failResets {
		return assert.AnError
	}
	n.resetLinks[email] = link
	return nil
}

func (n *recordingNotifier) VerificationLink(_ context.Context, email, link string) error {
	n.verificationLinks[email] = link
	return nil
}

func (n *recordingNotifier) InvitationLink(_ context.Context, email, link string) error {
	n.invitationLinks[email] = link
	return nil
}

type memoryTokenStore struct {
	tokens map[string]*models.ResetToken
}

func (s *memoryTokenStore) GetBySecret(_ context.Context, secret string) (*models.ResetToken, error) {
	token, ok := s.tokens[secret]
	if !ok {
		return nil, repositories.WrapNotFound(repositories.ErrNotFound, repositories.ErrTokenNotFound)
	}
	copy := *token
	return &copy, nil
}

func (s *memoryTokenStore) IssueExclusive(_ context.Context, token *models.ResetToken, now time.Time) error {
	for secret, existing := range s.tokens {
		if existing.AccountEmail == token.AccountEmail && existing.Active(now) {
			delete(s.tokens, secret)
		}
	}
	copy := *token
	s.tokens[token.Secret] = &copy
	return nil
}

func (s *memoryTokenStore) ConsumeBySecret(_ context.Context, secret string, now time.Time) (*models.ResetToken, error) {
	token, ok := s.tokens[secret]
	if !ok || token.Used() {
		return nil, repositories.WrapNotFound(repositories.ErrNotFound, repositories.ErrTokenNotFound)
	}
	usedAt := now
	token.UsedAt = &usedAt
	copy := *token
	return &copy, nil
}

func (s *memoryTokenStore) DeleteByID(_ context.Context, id string) error {
	for secret, token := range s.tokens {
		if token.ID == id {
			delete(s.tokens, secret)
			return nil
		}
	}
	return repositories.WrapNotFound(repositories.ErrNotFound, repositories.ErrTokenNotFound)
}

type memoryAccounts struct {
	byEmail map[string]*models.Account
	created []*models.Account
}

func (s *memoryAccounts) GetByEmail(_ context.Context, email string) (*models.Account, error) {
	account, ok := s.byEmail[email]
	if !ok {
		return nil, repositories.WrapNotFound(repositories.ErrNotFound, repositories.ErrAccountNotFound)
	}
	return account, nil
}

func (s *memoryAccounts) Create(_ context.Context, account *models.Account) error {
	if _, exists := s.byEmail[account.Email]; exists {
		return repositories.ErrDuplicateKey
	}
	s.byEmail[account.Email] = account
	s.created = append(s.created, account)
	return nil
}

func (s *memoryAccounts) UpdatePasswordByEmail(_ context.Context, email, passwordHash string) error {
	account, ok := s.byEmail[email]
	if !ok {
		return repositories.WrapNotFound(repositories.ErrNotFound, repositories.ErrAccountNotFound)
	}
	account.PasswordHash = passwordHash
	return nil
}

type fakeIdP struct {
	users   map[string]*idp.User // keyed by email
	created []idp.NewUser
	resets  map[string]string // user id -> new password
}

func newFakeIdP() *fakeIdP {
	return &fakeIdP{users: map[string]*idp.User{}, resets: map[string]string{}}
}

func (f *fakeIdP) CreateUser(_ context.Context, user idp.NewUser) error {
	f.created = append(f.created, user)
	f.users[user.Email] = &idp.User{ID: "idp-" + user.Username, Username: user.Username, Email: user.Email, Enabled: true}
	return nil
}

func (f *fakeIdP) FindUserByEmail(_ context.Context, email string) (*idp.User, error) {
	user, ok := f.users[email]
	if !ok {
		return nil, idp.ErrUserNotFound
	}
	return user, nil
}

func (f *fakeIdP) ResetPassword(_ context.Context, userID, newPassword string) error {
	f.resets[userID] = newPassword
	return nil
}

// --- fixture ---

type webhookFixture struct {
	handler   *WebhookHandler
	publisher *recordingPublisher
	notifier  *recordingNotifier
	store     *memoryTokenStore
	accounts  *memoryAccounts
	idp       *fakeIdP
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()

	publisher := &recordingPublisher{}
	notifier := newRecordingNotifier()
	store := &memoryTokenStore{tokens: map[string]*models.ResetToken{}}
	accounts := &memoryAccounts{byEmail: map[string]*models.Account{
		"ada@example.com": {ID: "acc-1", Email: "ada@example.com"},
	}}
	provider := newFakeIdP()
	provider.users["ada@example.com"] = &idp.User{ID: "idp-ada", Email: "ada@example.com", Enabled: true}

	scheduler := syncScheduler{}
	tokens := services.NewTokenService(store, accounts, nil)
	provisioner := services.NewProvisioningService(provider, accounts, notifier, "http://frontend.local")
	responder := services.NewResponder(publisher, scheduler, config.ResponderConfig{DefaultScenario: "success"})

	handler := NewWebhookHandler(
		config.WebhookConfig{SharedSecret: testSecret, ResetRateLimit: 3, ResetRateWindow: 60},
		config.ResponderConfig{ProcessingDelayMs: 10},
		config.NotifyConfig{FrontendURL: "http://frontend.local/"},
		WebhookDeps{
			Tokens:      tokens,
			Provisioner: provisioner,
			Responder:   responder,
			Publisher:   publisher,
			Scheduler:   scheduler,
			Notifier:    notifier,
			Limiter:     ratelimit.NewMemoryLimiter(),
		},
	)

	return &webhookFixture{
		handler:   handler,
		publisher: publisher,
		notifier:  notifier,
		store:     store,
		accounts:  accounts,
		idp:       provider,
	}
}

func (f *webhookFixture) post(t *testing.T, body map[string]interface{}, secret string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(raw))
	if secret != "" {
		req.Header.Set("Authorization", secret)
	}
	rec := httptest.NewRecorder()
	f.handler.Handle(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, rec)
	errObj, ok := body["error"].(map[string]interface{})
	require.True(t, ok, "expected error envelope, got %s", rec.Body.String())
	code, _ := errObj["code"].(string)
	return code
}

// --- gate order ---

func TestWebhookRejectsMissingSourceOrAction(t *testing.T) {
	f := newWebhookFixture(t)

	rec := f.post(t, map[string]interface{}{"source": "chat"}, testSecret)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))
}

func TestWebhookRejectsMissingTenantBeforeAuth(t *testing.T) {
	f := newWebhookFixture(t)

	// No auth header at all: the tenant error must still win.
	rec := f.post(t, map[string]interface{}{
		"source": "chat",
		"action": "message_created",
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))
}

func TestWebhookRejectsUnknownPair(t *testing.T) {
	f := newWebhookFixture(t)

	rec := f.post(t, map[string]interface{}{
		"source":    "chat",
		"action":    "no_such_action",
		"tenant_id": "t-1",
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "UNSUPPORTED_ACTION", errorCode(t, rec))
	assert.Contains(t, rec.Body.String(), "chat:no_such_action")
}

func TestWebhookRejectsBadSecret(t *testing.T) {
	f := newWebhookFixture(t)

	for _, header := range []string{"", "wrong", "Basic wrong"} {
		rec := f.post(t, map[string]interface{}{
			"source":           "chat",
			"action":           "message_created",
			"tenant_id":        "t-1",
			"message_id":       "m-1",
			"conversation_id":  "c-1",
			"customer_message": "hello",
		}, header)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
		assert.Equal(t, "INVALID_WEBHOOK_SECRET", errorCode(t, rec))
	}
	assert.Empty(t, f.publisher.chat)
}

func TestWebhookAcceptsBasicPrefixedSecret(t *testing.T) {
	f := newWebhookFixture(t)

	rec := f.post(t, map[string]interface{}{
		"source":           "chat",
		"action":           "message_created",
		"tenant_id":        "t-1",
		"message_id":       "m-1",
		"conversation_id":  "c-1",
		"customer_message": "test1",
	}, "Basic "+testSecret)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

// --- chat ---

func TestWebhookChatTriggerPublishesFragments(t *testing.T) {
	f := newWebhookFixture(t)

	rec := f.post(t, map[string]interface{}{
		"source":           "rita-chat", // prefixed source variant
		"action":           "message_created",
		"tenant_id":        "t-1",
		"message_id":       "m-1",
		"conversation_id":  "c-1",
		"customer_message": "please run test1",
	}, testSecret)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, f.publisher.chat, 1)
	fragment := f.publisher.chat[0]
	assert.Equal(t, events.FragmentText, fragment.FragmentType)
	assert.Equal(t, "c-1", fragment.ConversationID)
	assert.Equal(t, "m-1", fragment.MessageID)
	assert.Equal(t, "t-1", fragment.TenantID)
	assert.True(t, fragment.TurnComplete)
}

func TestWebhookChatMissingPayloadField(t *testing.T) {
	f := newWebhookFixture(t)

	rec := f.post(t, map[string]interface{}{
		"source":          "chat",
		"action":          "message_created",
		"tenant_id":       "t-1",
		"conversation_id": "c-1",
	}, testSecret)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))
}

// --- documents ---

func TestWebhookDocumentUploadedPublishesProcessed(t *testing.T) {
	f := newWebhookFixture(t)

	rec := f.post(t, map[string]interface{}{
		"source":      "documents",
		"action":      "document_uploaded",
		"tenant_id":   "t-1",
		"document_id": "doc-1",
		"blob_name":   "tenants/t-1/doc-1.pdf",
		"file_name":   "handbook.pdf",
	}, testSecret)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, f.publisher.documents, 1)
	event := f.publisher.documents[0]
	assert.Equal(t, "doc-1", event.DocumentID)
	assert.Equal(t, "processing_completed", event.Status)
	assert.Contains(t, event.Markdown, "handbook.pdf")
}

func TestWebhookDocumentDeletedIsSynchronous(t *testing.T) {
	f := newWebhookFixture(t)

	rec := f.post(t, map[string]interface{}{
		"source":      "documents",
		"action":      "document_deleted",
		"tenant_id":   "t-1",
		"document_id": "doc-1",
		"blob_name":   "tenants/t-1/doc-1.pdf",
	}, testSecret)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.publisher.documents)
}

// --- provisioning ---

func TestWebhookUserSignupProvisionsAndNotifies(t *testing.T) {
	f := newWebhookFixture(t)

	rec := f.post(t, map[string]interface{}{
		"source":             "signup",
		"action":             "user_signup",
		"tenant_id":          "t-1",
		"signup_id":          "sg-1",
		"email":              "grace@example.com",
		"username":           "grace",
		"password":           base64.StdEncoding.EncodeToString([]byte("hunter22")),
		"verification_token": "verif-123",
	}, testSecret)
	assert.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, f.idp.created, 1)
	assert.Equal(t, "grace@example.com", f.idp.created[0].Email)
	assert.Equal(t, "hunter22", f.idp.created[0].Password)

	require.Len(t, f.accounts.created, 1)
	assert.Equal(t, models.AccountSourceSignup, f.accounts.created[0].Source)
	assert.Equal(t, "sg-1", f.accounts.created[0].SourceRef)

	link := f.notifier.verificationLinks["grace@example.com"]
	assert.Contains(t, link, "verif-123")
}

func TestWebhookUserSignupRejectsBadPasswordEncoding(t *testing.T) {
	f := newWebhookFixture(t)

	rec := f.post(t, map[string]interface{}{
		"source":             "signup",
		"action":             "user_signup",
		"tenant_id":          "t-1",
		"signup_id":          "sg-1",
		"email":              "grace@example.com",
		"username":           "grace",
		"password":           "not base64!!",
		"verification_token": "verif-123",
	}, testSecret)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))
	assert.Empty(t, f.idp.created)
}

func TestWebhookSendInvitations(t *testing.T) {
	f := newWebhookFixture(t)

	rec := f.post(t, map[string]interface{}{
		"source":     "invitations",
		"action":     "send_invitation",
		"tenant_id":  "t-1",
		"invited_by": "acc-1",
		"invitees": []map[string]string{
			{"invitation_id": "inv-1", "email": "a@example.com"},
			{"invitation_id": "inv-2", "email": "b@example.com"},
		},
	}, testSecret)
	assert.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["invitations_sent"])
	assert.Contains(t, f.notifier.invitationLinks["a@example.com"], "inv-1")
	assert.Contains(t, f.notifier.invitationLinks["b@example.com"], "inv-2")
}

func TestWebhookAcceptInvitationProvisions(t *testing.T) {
	f := newWebhookFixture(t)

	rec := f.post(t, map[string]interface{}{
		"source":        "invitations",
		"action":        "accept_invitation",
		"tenant_id":     "t-1",
		"invitation_id": "inv-1",
		"email":         "lin@example.com",
		"username":      "lin",
		"password":      base64.StdEncoding.EncodeToString([]byte("s3cret")),
	}, testSecret)
	assert.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, f.accounts.created, 1)
	assert.Equal(t, models.AccountSourceInvitation, f.accounts.created[0].Source)
	// No verification token on the invitation path.
	assert.Empty(t, f.notifier.verificationLinks)
}

// --- password reset ---

func resetRequestBody(email string) map[string]interface{} {
	return map[string]interface{}{
		"source": "auth",
		"action": "password_reset_request",
		"email":  email,
	}
}

func TestWebhookResetRequestIsTenantExempt(t *testing.T) {
	f := newWebhookFixture(t)

	rec := f.post(t, resetRequestBody("ada@example.com"), testSecret)
	assert.Equal(t, http.StatusOK, rec.Code)

	link := f.notifier.resetLinks["ada@example.com"]
	require.NotEmpty(t, link)
	assert.Contains(t, link, "http://frontend.local/reset-password?token=")
}

func TestWebhookResetRequestHidesAccountExistence(t *testing.T) {
	f := newWebhookFixture(t)

	known := f.post(t, resetRequestBody("ada@example.com"), testSecret)
	unknown := f.post(t, resetRequestBody("nobody@example.com"), testSecret)

	assert.Equal(t, http.StatusOK, known.Code)
	assert.Equal(t, http.StatusOK, unknown.Code)
	assert.JSONEq(t, known.Body.String(), unknown.Body.String())
	assert.NotContains(t, f.notifier.resetLinks, "nobody@example.com")
}

func TestWebhookResetRequestRateLimited(t *testing.T) {
	f := newWebhookFixture(t)

	for i := 0; i < 3; i++ {
		rec := f.post(t, resetRequestBody("ada@example.com"), testSecret)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}

	rec := f.post(t, resetRequestBody("ada@example.com"), testSecret)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", errorCode(t, rec))
}

func TestWebhookResetRequestNotifyFailureCompensates(t *testing.T) {
	f := newWebhookFixture(t)
	f.notifier.failResets = true

	rec := f.post(t, resetRequestBody("ada@example.com"), testSecret)

	// Success body regardless, and the orphaned token is gone.
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.store.tokens)
}

func issuedSecret(t *testing.T, f *webhookFixture) string {
	t.Helper()
	rec := f.post(t, resetRequestBody("ada@example.com"), testSecret)
	require.Equal(t, http.StatusOK, rec.Code)
	link := f.notifier.resetLinks["ada@example.com"]
	require.NotEmpty(t, link)
	parts := bytes.Split([]byte(link), []byte("token="))
	require.Len(t, parts, 2)
	return string(parts[1])
}

func resetCompleteBody(secret, password string) map[string]interface{} {
	return map[string]interface{}{
		"source":       "auth",
		"action":       "password_reset_complete",
		"token":        secret,
		"new_password": base64.StdEncoding.EncodeToString([]byte(password)),
	}
}

func TestWebhookResetCompleteHappyPath(t *testing.T) {
	f := newWebhookFixture(t)
	secret := issuedSecret(t, f)

	rec := f.post(t, resetCompleteBody(secret, "new-password-1"), testSecret)
	assert.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "new-password-1", f.idp.resets["idp-ada"])
}

func TestWebhookResetCompleteTokenFailureIsSoft(t *testing.T) {
	f := newWebhookFixture(t)
	secret := issuedSecret(t, f)

	first := f.post(t, resetCompleteBody(secret, "pw-one"), testSecret)
	require.Equal(t, http.StatusOK, first.Code)

	// Second use: still 200, success false, typed code.
	second := f.post(t, resetCompleteBody(secret, "pw-two"), testSecret)
	assert.Equal(t, http.StatusOK, second.Code)

	body := decodeBody(t, second)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "TOKEN_ALREADY_USED", body["code"])
	assert.Equal(t, "pw-one", f.idp.resets["idp-ada"])
}

func TestWebhookResetCompleteBadPasswordDoesNotBurnToken(t *testing.T) {
	f := newWebhookFixture(t)
	secret := issuedSecret(t, f)

	rec := f.post(t, map[string]interface{}{
		"source":       "auth",
		"action":       "password_reset_complete",
		"token":        secret,
		"new_password": "not base64!!",
	}, testSecret)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Token is still consumable.
	follow := f.post(t, resetCompleteBody(secret, "pw-good"), testSecret)
	assert.Equal(t, http.StatusOK, follow.Code)
	assert.Equal(t, true, decodeBody(t, follow)["success"])
}

func TestWebhookResetCompleteMissingIdPUserIsSoft(t *testing.T) {
	f := newWebhookFixture(t)
	secret := issuedSecret(t, f)
	delete(f.idp.users, "ada@example.com")

	rec := f.post(t, resetCompleteBody(secret, "pw-one"), testSecret)
	assert.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "ACCOUNT_NOT_FOUND", body["code"])
}

// --- data sources ---

func TestWebhookVerifyCredentials(t *testing.T) {
	f := newWebhookFixture(t)

	rec := f.post(t, map[string]interface{}{
		"source":         "data-sources",
		"action":         "verify_credentials",
		"tenant_id":      "t-1",
		"data_source_id": "ds-1",
		"source_type":    "sharepoint",
	}, testSecret)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, f.publisher.statuses, 1)
	assert.Equal(t, "ds-1", f.publisher.statuses[0].DataSourceID)
	assert.Equal(t, events.DataSourceStatusSuccess, f.publisher.statuses[0].Status)
}

func TestWebhookTriggerSync(t *testing.T) {
	f := newWebhookFixture(t)

	rec := f.post(t, map[string]interface{}{
		"source":         "data-sources",
		"action":         "trigger_sync",
		"tenant_id":      "t-1",
		"data_source_id": "ds-1",
	}, testSecret)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, f.publisher.statuses, 1)
	assert.Equal(t, events.DataSourceStatusSyncCompleted, f.publisher.statuses[0].Status)
}

func TestWebhookStatusPublishFailurePublishesFailed(t *testing.T) {
	f := newWebhookFixture(t)
	f.publisher.statusFailures = 1

	rec := f.post(t, map[string]interface{}{
		"source":         "data-sources",
		"action":         "verify_credentials",
		"tenant_id":      "t-1",
		"data_source_id": "ds-1",
	}, testSecret)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// The success publish errored; exactly one compensating failed status
	// goes out instead.
	require.Len(t, f.publisher.statuses, 1)
	fallback := f.publisher.statuses[0]
	assert.Equal(t, events.DataSourceStatusFailed, fallback.Status)
	assert.Equal(t, "ds-1", fallback.DataSourceID)
	assert.Equal(t, "t-1", fallback.TenantID)
}

func TestWebhookStatusPublishTotalOutageStopsAfterOneCompensation(t *testing.T) {
	f := newWebhookFixture(t)
	f.publisher.statusFailures = 2

	rec := f.post(t, map[string]interface{}{
		"source":         "data-sources",
		"action":         "trigger_sync",
		"tenant_id":      "t-1",
		"data_source_id": "ds-1",
	}, testSecret)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, f.publisher.statuses, "no retry loop beyond the single compensation")
}
