// Package images stores user avatars in S3-compatible object storage.
package images

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"quorum/api/internal/store"
)

const avatarBucket = "quorum-avatars"

type profileStore interface {
	SetAvatarObject(ctx context.Context, userID int64, object string) error
	GetAvatarObject(ctx context.Context, userID int64) (string, error)
}

// Config holds object storage connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// AvatarStore uploads and serves avatar images. Object names are
// derived from the user ID; re-uploading replaces the previous avatar.
type AvatarStore struct {
	client   *minio.Client
	profiles profileStore
}

func NewAvatarStore(ctx context.Context, cfg Config, profiles profileStore) (*AvatarStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}

	exists, err := client.BucketExists(ctx, avatarBucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", avatarBucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, avatarBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", avatarBucket, err)
		}
	}
	return &AvatarStore{client: client, profiles: profiles}, nil
}

func presignExpiry(seconds int) time.Duration {
	if seconds <= 0 {
		seconds = 300
	}
	return time.Duration(seconds) * time.Second
}

func objectName(userID int64) string {
	return fmt.Sprintf("avatars/%d", userID)
}

// Save uploads a new avatar and records it on the user's profile.
func (a *AvatarStore) Save(ctx context.Context, userID int64, r io.Reader, size int64, contentType string) error {
	object := objectName(userID)
	_, err := a.client.PutObject(ctx, avatarBucket, object, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("upload avatar for user %d: %w", userID, err)
	}
	if err := a.profiles.SetAvatarObject(ctx, userID, object); err != nil {
		return fmt.Errorf("record avatar for user %d: %w", userID, err)
	}
	return nil
}

// Remove deletes the stored avatar and clears the profile pointer.
func (a *AvatarStore) Remove(ctx context.Context, userID int64) error {
	if err := a.client.RemoveObject(ctx, avatarBucket, objectName(userID), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove avatar for user %d: %w", userID, err)
	}
	return a.profiles.SetAvatarObject(ctx, userID, "")
}

// PresignedURL returns a short-lived direct link to the avatar object,
// letting clients fetch images without going through the API.
func (a *AvatarStore) PresignedURL(ctx context.Context, userID int64, expirySeconds int) (*url.URL, error) {
	object, err := a.profiles.GetAvatarObject(ctx, userID)
	if err != nil {
		return nil, err
	}
	if object == "" {
		return nil, store.ErrNotFound
	}
	u, err := a.client.PresignedGetObject(ctx, avatarBucket, object, presignExpiry(expirySeconds), url.Values{})
	if err != nil {
		return nil, fmt.Errorf("presign avatar for user %d: %w", userID, err)
	}
	return u, nil
}
