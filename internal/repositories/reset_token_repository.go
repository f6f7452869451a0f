package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/ritahq/automation-mock/internal/models"
	"github.com/ritahq/automation-mock/pkg/mongodb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ResetTokenRepository persists single-use password reset tokens.
//
// Two writes matter for correctness: IssueExclusive runs cleanup, the
// active-token replacement and the insert inside one transaction, and
// ConsumeBySecret is a single conditional update so concurrent consumers
// race on the database, not on a prior read.
type ResetTokenRepository struct {
	client     *mongodb.Client
	collection *mongo.Collection
}

func NewResetTokenRepository(client *mongodb.Client) *ResetTokenRepository {
	return &ResetTokenRepository{
		client:     client,
		collection: client.Collection("reset_tokens"),
	}
}

// EnsureIndexes creates the unique secret index and the email lookup index.
func (r *ResetTokenRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "secret", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "account_email", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("error creating reset_tokens indexes: %w", err)
	}
	return nil
}

// GetBySecret retrieves a token by its secret. Read-only.
func (r *ResetTokenRepository) GetBySecret(ctx context.Context, secret string) (*models.ResetToken, error) {
	var token models.ResetToken

	filter := bson.M{"secret": secret}
	err := r.collection.FindOne(ctx, filter).Decode(&token)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, WrapNotFound(mongo.ErrNoDocuments, ErrTokenNotFound)
		}
		return nil, fmt.Errorf("error finding reset token: %w", err)
	}

	return &token, nil
}

// staleTokenFilter matches tokens the opportunistic cleanup removes: used
// more than the retention window ago, or unused and expired for longer
// than the grace window. Nothing else may match.
func staleTokenFilter(now time.Time) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"used_at": bson.M{"$lt": now.Add(-models.ResetTokenUsedRetention)}},
		bson.M{"used_at": nil, "expires_at": bson.M{"$lt": now.Add(-models.ResetTokenExpiredGrace)}},
	}}
}

// activeTokenFilter matches the tokens still consumable for an email.
func activeTokenFilter(email string, now time.Time) bson.M {
	return bson.M{
		"account_email": email,
		"used_at":       nil,
		"expires_at":    bson.M{"$gt": now},
	}
}

// IssueExclusive inserts a freshly generated token inside a single
// transaction that first removes stale tokens (opportunistic cleanup) and
// any token still active for the owning email. The cleanup runs here, not
// in a background job, so that it commits or rolls back with the insert.
func (r *ResetTokenRepository) IssueExclusive(ctx context.Context, token *models.ResetToken, now time.Time) error {
	session, err := r.client.StartSession()
	if err != nil {
		return WrapStorage(err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		// 1. Opportunistic cleanup.
		if _, err := r.collection.DeleteMany(sc, staleTokenFilter(now)); err != nil {
			return nil, err
		}

		// 2. At most one active token per email.
		if _, err := r.collection.DeleteMany(sc, activeTokenFilter(token.AccountEmail, now)); err != nil {
			return nil, err
		}

		// 3. Insert the new token.
		if _, err := r.collection.InsertOne(sc, token); err != nil {
			return nil, err
		}

		return nil, nil
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: secret collision", ErrDuplicateKey)
		}
		return WrapStorage(err)
	}

	return nil
}

// ConsumeBySecret marks a token used with an atomic conditional update.
// The filter requires used_at to still be unset; the loser of a concurrent
// race gets ErrTokenNotFound regardless of what an earlier read returned.
func (r *ResetTokenRepository) ConsumeBySecret(ctx context.Context, secret string, now time.Time) (*models.ResetToken, error) {
	filter := bson.M{"secret": secret, "used_at": nil}
	update := bson.M{"$set": bson.M{"used_at": now}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var token models.ResetToken
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&token)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, WrapNotFound(mongo.ErrNoDocuments, ErrTokenNotFound)
		}
		return nil, fmt.Errorf("error consuming reset token: %w", err)
	}

	return &token, nil
}

// DeleteByID removes a token outright. Used as the one-shot compensating
// action when notification dispatch fails right after issuance.
func (r *ResetTokenRepository) DeleteByID(ctx context.Context, id string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("error deleting reset token: %w", err)
	}
	return nil
}
