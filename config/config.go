package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	MongoDB   MongoDBConfig
	Kafka     KafkaConfig
	Redis     RedisConfig
	Webhook   WebhookConfig
	IdP       IdPConfig
	Responder ResponderConfig
	Notify    NotifyConfig
}

type ServerConfig struct {
	Port        string
	Environment string
	Version     string
}

type MongoDBConfig struct {
	URI         string
	Database    string
	MaxPoolSize uint64
	MinPoolSize uint64
	MaxRetries  int
}

type KafkaConfig struct {
	Brokers         []string
	ProducerTimeout int
	ClientID        string
	Username        string
	Password        string
	SSL             bool
	SASLMechanism   string
	Topics          KafkaTopics
}

type KafkaTopics struct {
	ChatResponses    string
	DocumentEvents   string
	DataSourceStatus string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Enabled  bool
}

// WebhookConfig controls the shared-secret check and the public
// reset-request rate limit.
type WebhookConfig struct {
	SharedSecret    string
	ResetRateLimit  int
	ResetRateWindow int // seconds
}

type IdPConfig struct {
	BaseURL     string
	Realm       string
	ClientID    string
	AdminUser   string
	AdminPass   string
	TimeoutSecs int
	RefreshSkew int // seconds before expiry at which the admin token is refreshed
}

// ResponderConfig drives the canned chat-response generator.
type ResponderConfig struct {
	DefaultScenario    string  // success | failure | processing | random
	SuccessProbability float64 // used when DefaultScenario is "random"
	InitialDelayMs     int
	FragmentGapMs      int
	ProcessingDelayMs  int // delay before document/data-source status messages
}

type NotifyConfig struct {
	Mode        string // log | smtp
	FrontendURL string // base URL embedded in reset/verification links
	SMTP        SMTPConfig
}

type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	// Set default values
	setDefaults()

	// Enable reading from environment variables
	viper.AutomaticEnv()

	// Try to read config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/rita-automation")

	// Reading config file is optional
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, use environment variables and defaults
	}

	var config Config

	config.Server = ServerConfig{
		Port:        viper.GetString("server.port"),
		Environment: viper.GetString("server.environment"),
		Version:     viper.GetString("server.version"),
	}

	config.MongoDB = MongoDBConfig{
		URI:         viper.GetString("mongodb.uri"),
		Database:    viper.GetString("mongodb.database"),
		MaxPoolSize: viper.GetUint64("mongodb.max_pool_size"),
		MinPoolSize: viper.GetUint64("mongodb.min_pool_size"),
		MaxRetries:  viper.GetInt("mongodb.max_retries"),
	}

	config.Kafka = KafkaConfig{
		Brokers:         viper.GetStringSlice("kafka.brokers"),
		ProducerTimeout: viper.GetInt("kafka.producer_timeout"),
		ClientID:        viper.GetString("kafka.client_id"),
		Username:        viper.GetString("kafka.username"),
		Password:        viper.GetString("kafka.password"),
		SSL:             viper.GetBool("kafka.ssl"),
		SASLMechanism:   viper.GetString("kafka.sasl_mechanism"),
		Topics: KafkaTopics{
			ChatResponses:    viper.GetString("kafka.topics.chat_responses"),
			DocumentEvents:   viper.GetString("kafka.topics.document_events"),
			DataSourceStatus: viper.GetString("kafka.topics.data_source_status"),
		},
	}

	config.Redis = RedisConfig{
		Addr:     viper.GetString("redis.addr"),
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
		Enabled:  viper.GetBool("redis.enabled"),
	}

	config.Webhook = WebhookConfig{
		SharedSecret:    viper.GetString("webhook.shared_secret"),
		ResetRateLimit:  viper.GetInt("webhook.reset_rate_limit"),
		ResetRateWindow: viper.GetInt("webhook.reset_rate_window"),
	}

	config.IdP = IdPConfig{
		BaseURL:     viper.GetString("idp.base_url"),
		Realm:       viper.GetString("idp.realm"),
		ClientID:    viper.GetString("idp.client_id"),
		AdminUser:   viper.GetString("idp.admin_user"),
		AdminPass:   viper.GetString("idp.admin_pass"),
		TimeoutSecs: viper.GetInt("idp.timeout_secs"),
		RefreshSkew: viper.GetInt("idp.refresh_skew"),
	}

	config.Responder = ResponderConfig{
		DefaultScenario:    viper.GetString("responder.default_scenario"),
		SuccessProbability: viper.GetFloat64("responder.success_probability"),
		InitialDelayMs:     viper.GetInt("responder.initial_delay_ms"),
		FragmentGapMs:      viper.GetInt("responder.fragment_gap_ms"),
		ProcessingDelayMs:  viper.GetInt("responder.processing_delay_ms"),
	}

	config.Notify = NotifyConfig{
		Mode:        viper.GetString("notify.mode"),
		FrontendURL: viper.GetString("notify.frontend_url"),
		SMTP: SMTPConfig{
			Host:      viper.GetString("notify.smtp.host"),
			Port:      viper.GetInt("notify.smtp.port"),
			Username:  viper.GetString("notify.smtp.username"),
			Password:  viper.GetString("notify.smtp.password"),
			FromEmail: viper.GetString("notify.smtp.from_email"),
		},
	}

	if config.Webhook.SharedSecret == "" {
		return nil, fmt.Errorf("webhook.shared_secret (WEBHOOK_SHARED_SECRET) is required")
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", "8090")
	viper.SetDefault("server.environment", "development")
	viper.SetDefault("server.version", "1.0.0")

	// MongoDB defaults
	viper.SetDefault("mongodb.uri", "mongodb://localhost:27017")
	viper.SetDefault("mongodb.database", "rita_automation")
	viper.SetDefault("mongodb.max_pool_size", 100)
	viper.SetDefault("mongodb.min_pool_size", 10)
	viper.SetDefault("mongodb.max_retries", 5)

	// Kafka defaults
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.producer_timeout", 5000)
	viper.SetDefault("kafka.client_id", "rita-automation-mock")
	viper.SetDefault("kafka.username", "")
	viper.SetDefault("kafka.password", "")
	viper.SetDefault("kafka.ssl", false)
	viper.SetDefault("kafka.sasl_mechanism", "plain")

	// Kafka topic defaults
	viper.SetDefault("kafka.topics.chat_responses", "rita.chat.responses")
	viper.SetDefault("kafka.topics.document_events", "rita.documents.events")
	viper.SetDefault("kafka.topics.data_source_status", "rita.datasources.status")

	// Redis defaults (disabled: the in-memory rate limiter is used instead)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.enabled", false)

	// Webhook defaults
	viper.SetDefault("webhook.shared_secret", "")
	viper.SetDefault("webhook.reset_rate_limit", 5)
	viper.SetDefault("webhook.reset_rate_window", 300)

	// Identity provider defaults (local Keycloak from docker-compose)
	viper.SetDefault("idp.base_url", "http://localhost:8080")
	viper.SetDefault("idp.realm", "rita")
	viper.SetDefault("idp.client_id", "admin-cli")
	viper.SetDefault("idp.admin_user", "admin")
	viper.SetDefault("idp.admin_pass", "admin")
	viper.SetDefault("idp.timeout_secs", 10)
	viper.SetDefault("idp.refresh_skew", 30)

	// Responder defaults
	viper.SetDefault("responder.default_scenario", "success")
	viper.SetDefault("responder.success_probability", 0.8)
	viper.SetDefault("responder.initial_delay_ms", 1500)
	viper.SetDefault("responder.fragment_gap_ms", 400)
	viper.SetDefault("responder.processing_delay_ms", 3000)

	// Notification defaults
	viper.SetDefault("notify.mode", "log")
	viper.SetDefault("notify.frontend_url", "http://localhost:5173")
	viper.SetDefault("notify.smtp.host", "")
	viper.SetDefault("notify.smtp.port", 587)
	viper.SetDefault("notify.smtp.username", "")
	viper.SetDefault("notify.smtp.password", "")
	viper.SetDefault("notify.smtp.from_email", "")
}
