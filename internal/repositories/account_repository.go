package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ritahq/automation-mock/internal/models"
	"github.com/ritahq/automation-mock/pkg/mongodb"
	"github.com/ritahq/automation-mock/pkg/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// AccountRepository stores the local mirror of provisioned accounts.
type AccountRepository struct {
	client     *mongodb.Client
	collection *mongo.Collection
}

func NewAccountRepository(client *mongodb.Client) *AccountRepository {
	return &AccountRepository{
		client:     client,
		collection: client.Collection("accounts"),
	}
}

// EnsureIndexes creates the unique email index.
func (r *AccountRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("error creating accounts indexes: %w", err)
	}
	return nil
}

// GetByEmail retrieves an account by its email address (case-insensitive).
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	var account models.Account

	filter := bson.M{"email": strings.ToLower(strings.TrimSpace(email))}
	err := r.collection.FindOne(ctx, filter).Decode(&account)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, WrapNotFound(mongo.ErrNoDocuments, ErrAccountNotFound)
		}
		return nil, fmt.Errorf("error finding account by email: %w", err)
	}

	return &account, nil
}

// Create inserts a new account document
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now
	account.Email = strings.ToLower(strings.TrimSpace(account.Email))
	if account.ID == "" {
		account.ID = uuid.MustNewUUID()
	}

	_, err := r.collection.InsertOne(ctx, account)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: account with email %s already exists", ErrDuplicateKey, account.Email)
		}
		return fmt.Errorf("error creating account: %w", err)
	}
	return nil
}

// UpdatePasswordByEmail updates the stored password hash
func (r *AccountRepository) UpdatePasswordByEmail(ctx context.Context, email, passwordHash string) error {
	filter := bson.M{"email": strings.ToLower(strings.TrimSpace(email))}
	update := bson.M{
		"$set": bson.M{
			"password_hash": passwordHash,
			"updated_at":    time.Now(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("error updating account password: %w", err)
	}
	if result.MatchedCount == 0 {
		return WrapNotFound(mongo.ErrNoDocuments, ErrAccountNotFound)
	}
	return nil
}
