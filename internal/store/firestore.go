package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/kfirel/hiker/internal/rides"
	"github.com/kfirel/hiker/pkg/common"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const usersCollection = "users"

// Firestore persists user documents in a `{prefix}users` collection keyed by
// phone number.
type Firestore struct {
	client *firestore.Client
}

// NewFirestore connects to the project's Firestore database.
func NewFirestore(ctx context.Context, projectID string) (*Firestore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("firestore backend requires a project id")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return &Firestore{client: client}, nil
}

func (f *Firestore) collection(prefix string) *firestore.CollectionRef {
	return f.client.Collection(prefix + usersCollection)
}

// GetUser implements rides.UserStore.
func (f *Firestore) GetUser(ctx context.Context, prefix, phone string) (*rides.User, error) {
	doc, err := f.collection(prefix).Doc(phone).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", phone, err)
	}

	var u rides.User
	if err := doc.DataTo(&u); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", phone, err)
	}
	return &u, nil
}

// SaveUser implements rides.UserStore.
func (f *Firestore) SaveUser(ctx context.Context, prefix string, user *rides.User) error {
	if _, err := f.collection(prefix).Doc(user.PhoneNumber).Set(ctx, user); err != nil {
		return fmt.Errorf("save user %s: %w", user.PhoneNumber, err)
	}
	return nil
}

// DeleteUser implements rides.UserStore.
func (f *Firestore) DeleteUser(ctx context.Context, prefix, phone string) error {
	if _, err := f.collection(prefix).Doc(phone).Delete(ctx); err != nil {
		return fmt.Errorf("delete user %s: %w", phone, err)
	}
	return nil
}

// ListUsers implements rides.UserStore.
func (f *Firestore) ListUsers(ctx context.Context, prefix string) ([]*rides.User, error) {
	var out []*rides.User

	iter := f.collection(prefix).Documents(ctx)
	defer iter.Stop()

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}

		var u rides.User
		if err := doc.DataTo(&u); err != nil {
			return nil, fmt.Errorf("decode user %s: %w", doc.Ref.ID, err)
		}
		out = append(out, &u)
	}
	return out, nil
}

// Ping implements rides.UserStore with a single-document probe.
func (f *Firestore) Ping(ctx context.Context) error {
	iter := f.collection("").Limit(1).Documents(ctx)
	defer iter.Stop()

	if _, err := iter.Next(); err != nil && err != iterator.Done {
		return fmt.Errorf("firestore probe: %w", err)
	}
	return nil
}

// Close implements rides.UserStore.
func (f *Firestore) Close() error {
	return f.client.Close()
}
