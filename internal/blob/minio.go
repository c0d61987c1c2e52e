package blob

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/crypto/blake2b"

	"artiklo/api/internal/store"
)

// MinioStore keeps the originals of uploaded files so an archived analysis
// can point back at what was submitted.
type MinioStore struct {
	client *minio.Client
	bucket string
}

func NewMinioStore(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return &MinioStore{client: client, bucket: bucket}, nil
}

// Put uploads one file of a document. Keys are scoped by document, so
// removing one document's attachments never touches another's.
func (s *MinioStore) Put(ctx context.Context, ownerID, documentID, name, mimeType string, data []byte) (store.Attachment, error) {
	key := ObjectKey(ownerID, documentID, name, data)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  mimeType,
		UserMetadata: map[string]string{"original-name": name},
	})
	if err != nil {
		return store.Attachment{}, fmt.Errorf("put object %s: %w", key, err)
	}
	return store.Attachment{
		Key:       key,
		Name:      name,
		MimeType:  mimeType,
		SizeBytes: int64(len(data)),
	}, nil
}

func (s *MinioStore) Remove(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

// ObjectKey is "<owner>/<document>/<blake2b-256 of the content><ext>", with
// the extension taken from the original file name.
func ObjectKey(ownerID, documentID, name string, data []byte) string {
	sum := blake2b.Sum256(data)
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(name, "\\", "/")))
	if len(ext) > 10 || strings.ContainsAny(ext, " /") {
		ext = ""
	}
	return keySegment(ownerID, "unowned") + "/" + keySegment(documentID, "undocumented") + "/" + hex.EncodeToString(sum[:]) + ext
}

func keySegment(value, fallback string) string {
	segment := strings.Trim(strings.ReplaceAll(value, "/", "_"), ".")
	if segment == "" {
		return fallback
	}
	return segment
}
