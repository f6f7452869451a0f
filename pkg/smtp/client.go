package smtp

import (
	"fmt"
	"net/smtp"
	"strings"
)

type loginAuth struct {
	username string
	password string
	host     string
}

// LoginAuth returns an smtp.Auth implementing the LOGIN mechanism, which
// some providers (e.g. Office 365) require instead of PLAIN.
func LoginAuth(username, password, host string) smtp.Auth {
	return &loginAuth{username, password, host}
}

func (a *loginAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if server.Name != a.host {
		return "", nil, fmt.Errorf("wrong host name")
	}
	return "LOGIN", nil, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	command := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(string(fromServer)), ":"))

	switch command {
	case "username":
		return []byte(a.username), nil
	case "password":
		return []byte(a.password), nil
	default:
		return nil, fmt.Errorf("unknown command %s", command)
	}
}

// Client represents a plain-text SMTP email client
type Client struct {
	host      string
	port      int
	username  string
	password  string
	fromEmail string
}

// Config holds SMTP configuration
type Config struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
}

// NewClient creates a new SMTP client with explicit configuration
func NewClient(config Config) (*Client, error) {
	if config.Host == "" {
		return nil, fmt.Errorf("SMTP host is not configured")
	}
	if config.Port == 0 {
		config.Port = 587
	}
	if config.FromEmail == "" {
		config.FromEmail = config.Username
	}

	return &Client{
		host:      config.Host,
		port:      config.Port,
		username:  config.Username,
		password:  config.Password,
		fromEmail: config.FromEmail,
	}, nil
}

// Send delivers a plain-text message to a single recipient.
func (c *Client) Send(to, subject, body string) error {
	if to == "" {
		return fmt.Errorf("recipient is required")
	}
	if subject == "" {
		return fmt.Errorf("subject is required")
	}

	msg := strings.Builder{}
	msg.WriteString(fmt.Sprintf("From: %s\r\n", c.fromEmail))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", c.host, c.port)

	var auth smtp.Auth
	if c.username != "" {
		auth = LoginAuth(c.username, c.password, c.host)
	}

	if err := smtp.SendMail(addr, auth, c.fromEmail, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}

	return nil
}
