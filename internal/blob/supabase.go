package blob

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	storage "github.com/supabase-community/storage-go"
)

// Upload URLs issued by supabase are valid for 2 hours and cannot be
// configured per request.
const uploadURLTTL = 2 * time.Hour

// SupabaseStore implements Store on top of supabase object storage.
type SupabaseStore struct {
	client  *storage.Client
	bucket  string
	baseURL string
}

// NewSupabaseStore creates a Store backed by the given supabase project
// and bucket.
func NewSupabaseStore(supabaseURL, serviceRoleKey, bucket string) *SupabaseStore {
	baseURL := strings.TrimSuffix(supabaseURL, "/")

	return &SupabaseStore{
		client:  storage.NewClient(baseURL+"/storage/v1", serviceRoleKey, nil),
		bucket:  bucket,
		baseURL: baseURL,
	}
}

func (s *SupabaseStore) SignUpload(ctx context.Context, key string) (*SignedURL, error) {
	resp, err := s.client.CreateSignedUploadUrl(s.bucket, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create signed upload url: %w", err)
	}

	return &SignedURL{
		URL:       s.absoluteURL(resp.Url),
		ExpiresAt: time.Now().Add(uploadURLTTL),
	}, nil
}

func (s *SupabaseStore) SignDownload(ctx context.Context, key string, ttl time.Duration) (*SignedURL, error) {
	resp, err := s.client.CreateSignedUrl(s.bucket, key, int(ttl.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("failed to create signed url: %w", err)
	}

	return &SignedURL{
		URL:       s.absoluteURL(resp.SignedURL),
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

func (s *SupabaseStore) Upload(ctx context.Context, key, contentType string, data []byte) error {
	upsert := true
	_, err := s.client.UploadFile(s.bucket, key, bytes.NewReader(data), storage.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}
	return nil
}

func (s *SupabaseStore) Download(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.DownloadFile(s.bucket, key)
	if err != nil {
		return nil, fmt.Errorf("failed to download object: %w", err)
	}
	return data, nil
}

func (s *SupabaseStore) Exists(ctx context.Context, key string) (bool, error) {
	dir, name := path.Split(key)

	files, err := s.client.ListFiles(s.bucket, strings.TrimSuffix(dir, "/"), storage.FileSearchOptions{
		Limit: 100,
	})
	if err != nil {
		return false, fmt.Errorf("failed to list objects: %w", err)
	}

	for _, file := range files {
		if file.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// absoluteURL prefixes the storage API base onto the relative signed paths
// the supabase API returns.
func (s *SupabaseStore) absoluteURL(u string) string {
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	return s.baseURL + "/storage/v1" + u
}
