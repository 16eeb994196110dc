package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"golang.org/x/oauth2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrTokenNotFound is returned when a user has no stored Google token.
var ErrTokenNotFound = errors.New("token not found")

// TokenRecord is the Google token stored for one dashboard user.
type TokenRecord struct {
	Username     string    `firestore:"username" json:"username"`
	AccessToken  string    `firestore:"access_token" json:"access_token"`
	RefreshToken string    `firestore:"refresh_token" json:"refresh_token"`
	TokenType    string    `firestore:"token_type,omitempty" json:"token_type,omitempty"`
	Expiry       time.Time `firestore:"expiry" json:"expiry"`
	UpdatedAt    time.Time `firestore:"updated_at" json:"updated_at"`
}

// NewTokenRecord builds a record for username from an oauth2 token.
func NewTokenRecord(username string, token *oauth2.Token) *TokenRecord {
	return &TokenRecord{
		Username:     username,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
		UpdatedAt:    time.Now(),
	}
}

// Token converts the record back into an oauth2 token.
func (r *TokenRecord) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
		Expiry:       r.Expiry,
	}
}

// TokenStore persists Google tokens per dashboard user.
type TokenStore interface {
	Store(ctx context.Context, record *TokenRecord) error
	Get(ctx context.Context, username string) (*TokenRecord, error)
	Delete(ctx context.Context, username string) error
	Exists(ctx context.Context, username string) (bool, error)
	Close() error
}

// FirestoreTokenStore keeps tokens in a Firestore collection keyed by username.
type FirestoreTokenStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreTokenStore creates a FirestoreTokenStore with its own client.
func NewFirestoreTokenStore(ctx context.Context, projectID, collection string) (*FirestoreTokenStore, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return NewFirestoreTokenStoreWithClient(client, collection), nil
}

// NewFirestoreTokenStoreWithClient creates a FirestoreTokenStore on an existing client.
func NewFirestoreTokenStoreWithClient(client *firestore.Client, collection string) *FirestoreTokenStore {
	return &FirestoreTokenStore{
		client:     client,
		collection: collection,
	}
}

// Close closes the Firestore client.
func (s *FirestoreTokenStore) Close() error {
	return s.client.Close()
}

// Store writes record, replacing any previous token for the same user.
func (s *FirestoreTokenStore) Store(ctx context.Context, record *TokenRecord) error {
	if _, err := s.client.Collection(s.collection).Doc(record.Username).Set(ctx, record); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

// Get returns the token of username or ErrTokenNotFound.
func (s *FirestoreTokenStore) Get(ctx context.Context, username string) (*TokenRecord, error) {
	doc, err := s.client.Collection(s.collection).Doc(username).Get(ctx)
	if err != nil {
		if isNotFoundError(err) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	var record TokenRecord
	if err := doc.DataTo(&record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token record: %w", err)
	}
	return &record, nil
}

// Delete removes the token of username. Deleting a missing document is not an error.
func (s *FirestoreTokenStore) Delete(ctx context.Context, username string) error {
	if _, err := s.client.Collection(s.collection).Doc(username).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// Exists reports whether username has a stored token.
func (s *FirestoreTokenStore) Exists(ctx context.Context, username string) (bool, error) {
	doc, err := s.client.Collection(s.collection).Doc(username).Get(ctx)
	if err != nil {
		if isNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check token existence: %w", err)
	}
	return doc.Exists(), nil
}

func isNotFoundError(err error) bool {
	return status.Code(err) == codes.NotFound
}

var _ TokenStore = (*FirestoreTokenStore)(nil)
