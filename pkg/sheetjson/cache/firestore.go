package cache

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// firestoreEntry is the document stored per cache key.
type firestoreEntry struct {
	Payload   string    `firestore:"payload"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// FirestoreStore keeps one document per key in a collection.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore returns a store writing to collection.
func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	return &FirestoreStore{client: client, collection: collection}
}

func (s *FirestoreStore) Get(ctx context.Context, key string) ([]byte, error) {
	snap, err := s.client.Collection(s.collection).Doc(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var e firestoreEntry
	if err := snap.DataTo(&e); err != nil {
		return nil, fmt.Errorf("decode cache document: %w", err)
	}
	return []byte(e.Payload), nil
}

// Put creates the document. An existing document for the key already holds
// the same result.
func (s *FirestoreStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.Collection(s.collection).Doc(key).Create(ctx, firestoreEntry{
		Payload:   string(data),
		CreatedAt: time.Now().UTC(),
	})
	if status.Code(err) == codes.AlreadyExists {
		return nil
	}
	return err
}
