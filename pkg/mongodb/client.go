package mongodb

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type Config struct {
	URI         string
	Database    string
	MaxPoolSize uint64
	MinPoolSize uint64
	MaxRetries  int
}

type Client struct {
	Client *mongo.Client
	DB     *mongo.Database
	config Config
}

// NewClient creates a new MongoDB client with connection pooling and retry logic
// It implements exponential backoff retry strategy: 1s, 2s, 4s, 8s, 16s (max)
func NewClient(config Config) (*Client, error) {
	// Set default values if not provided
	if config.MaxPoolSize == 0 {
		config.MaxPoolSize = 100
	}
	if config.MinPoolSize == 0 {
		config.MinPoolSize = 10
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 5
	}

	if config.URI == "" {
		return nil, fmt.Errorf("MongoDB URI cannot be empty")
	}
	if config.Database == "" {
		return nil, fmt.Errorf("MongoDB database name cannot be empty")
	}
	if config.MinPoolSize > config.MaxPoolSize {
		return nil, fmt.Errorf("MinPoolSize (%d) cannot be greater than MaxPoolSize (%d)", config.MinPoolSize, config.MaxPoolSize)
	}

	clientOpts := options.Client().
		ApplyURI(config.URI).
		SetMaxPoolSize(config.MaxPoolSize).
		SetMinPoolSize(config.MinPoolSize).
		SetMaxConnIdleTime(60 * time.Second).
		SetServerSelectionTimeout(10 * time.Second).
		SetConnectTimeout(10 * time.Second).
		SetRetryWrites(true).
		SetRetryReads(true)

	var client *mongo.Client
	var err error

	// Retry with exponential backoff
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoffDuration := time.Duration(1<<uint(attempt-1)) * time.Second
			if backoffDuration > 16*time.Second {
				backoffDuration = 16 * time.Second
			}

			log.Printf("MongoDB connection attempt %d/%d failed, retrying in %v... (error: %v)",
				attempt, config.MaxRetries, backoffDuration, err)
			time.Sleep(backoffDuration)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

		client, err = mongo.Connect(ctx, clientOpts)
		if err != nil {
			cancel()
			continue
		}

		err = client.Ping(ctx, readpref.Primary())
		cancel()

		if err == nil {
			break
		}

		// If this was the last attempt, disconnect and return error
		if attempt == config.MaxRetries {
			if client != nil {
				_ = client.Disconnect(context.Background())
			}
			return nil, fmt.Errorf("failed to connect to MongoDB after %d attempts: %w", config.MaxRetries, err)
		}
	}

	database := client.Database(config.Database)
	log.Printf("Successfully connected to MongoDB database: %s", config.Database)

	return &Client{
		Client: client,
		DB:     database,
		config: config,
	}, nil
}

// Ping performs a simple ping to check if the connection is alive
func (c *Client) Ping() error {
	if c.Client == nil {
		return fmt.Errorf("MongoDB client is nil")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return c.Client.Ping(ctx, readpref.Primary())
}

// Collection returns a collection handle
func (c *Client) Collection(name string) *mongo.Collection {
	return c.DB.Collection(name)
}

// StartSession starts a new client session for multi-document transactions
func (c *Client) StartSession() (mongo.Session, error) {
	if c.Client == nil {
		return nil, fmt.Errorf("MongoDB client is nil")
	}

	return c.Client.StartSession()
}

// Disconnect closes the connection to MongoDB
func (c *Client) Disconnect(ctx context.Context) error {
	if c.Client == nil {
		return nil
	}
	return c.Client.Disconnect(ctx)
}
