package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ritahq/automation-mock/config"
)

// ErrUserNotFound is returned when no account matches the lookup.
var ErrUserNotFound = errors.New("identity provider: user not found")

// User is the subset of the identity-provider account we care about.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Enabled   bool   `json:"enabled"`
}

// NewUser carries the fields required to provision an account.
type NewUser struct {
	Username  string
	Email     string
	FirstName string
	LastName  string
	Password  string
}

// Client talks to a Keycloak-style admin API. The admin token obtained via
// the password grant is cached and refreshed when it is close to expiry,
// so the refresh policy is testable without touching package state.
type Client struct {
	baseURL     string
	realm       string
	clientID    string
	adminUser   string
	adminPass   string
	refreshSkew time.Duration
	http        *http.Client

	mu          sync.Mutex
	adminToken  string
	tokenExpiry time.Time
}

// NewClient creates an identity-provider client from configuration.
func NewClient(cfg config.IdPConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	skew := time.Duration(cfg.RefreshSkew) * time.Second
	if skew == 0 {
		skew = 30 * time.Second
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		realm:       cfg.Realm,
		clientID:    cfg.ClientID,
		adminUser:   cfg.AdminUser,
		adminPass:   cfg.AdminPass,
		refreshSkew: skew,
		http:        &http.Client{Timeout: timeout},
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// adminAccessToken returns a cached admin token, fetching a fresh one via
// the password grant when the cached token is missing or near expiry.
func (c *Client) adminAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.adminToken != "" && time.Now().Before(c.tokenExpiry.Add(-c.refreshSkew)) {
		return c.adminToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("client_id", c.clientID)
	form.Set("username", c.adminUser)
	form.Set("password", c.adminPass)

	endpoint := fmt.Sprintf("%s/realms/master/protocol/openid-connect/token", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("identity provider token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("identity provider token request returned %d: %s", resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("identity provider returned an empty access token")
	}

	c.adminToken = tr.AccessToken
	c.tokenExpiry = tokenExpiry(tr, time.Now())

	return c.adminToken, nil
}

// tokenExpiry prefers the grant response expires_in; when it is absent the
// unverified exp claim of the access token is used as a fallback.
func tokenExpiry(tr tokenResponse, now time.Time) time.Time {
	if tr.ExpiresIn > 0 {
		return now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tr.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}

	// No expiry information at all: force a refresh on the next call.
	return now
}

func (c *Client) doAdmin(ctx context.Context, method, path string, payload interface{}) (*http.Response, error) {
	token, err := c.adminAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity provider request failed: %w", err)
	}
	return resp, nil
}

// CreateUser provisions an enabled account with a permanent password credential.
func (c *Client) CreateUser(ctx context.Context, user NewUser) error {
	payload := map[string]interface{}{
		"username":      user.Username,
		"email":         user.Email,
		"firstName":     user.FirstName,
		"lastName":      user.LastName,
		"enabled":       true,
		"emailVerified": false,
		"credentials": []map[string]interface{}{
			{
				"type":      "password",
				"value":     user.Password,
				"temporary": false,
			},
		},
	}

	path := fmt.Sprintf("/admin/realms/%s/users", c.realm)
	resp, err := c.doAdmin(ctx, http.MethodPost, path, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusConflict {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("identity provider create user returned %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// FindUserByEmail resolves an account by exact email match.
func (c *Client) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	path := fmt.Sprintf("/admin/realms/%s/users?email=%s&exact=true", c.realm, url.QueryEscape(email))
	resp, err := c.doAdmin(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("identity provider user lookup returned %d: %s", resp.StatusCode, string(body))
	}

	var users []User
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return nil, fmt.Errorf("failed to decode user lookup response: %w", err)
	}

	for i := range users {
		if strings.EqualFold(users[i].Email, email) {
			return &users[i], nil
		}
	}

	return nil, ErrUserNotFound
}

// ResetPassword replaces the password credential of an existing account.
func (c *Client) ResetPassword(ctx context.Context, userID, newPassword string) error {
	payload := map[string]interface{}{
		"type":      "password",
		"value":     newPassword,
		"temporary": false,
	}

	path := fmt.Sprintf("/admin/realms/%s/users/%s/reset-password", c.realm, userID)
	resp, err := c.doAdmin(ctx, http.MethodPut, path, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrUserNotFound
	}
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("identity provider reset password returned %d: %s", resp.StatusCode, string(body))
	}

	return nil
}
