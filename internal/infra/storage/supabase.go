package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	storage_go "github.com/supabase-community/storage-go"
	"github.com/supabase-community/supabase-go"
)

// Uploader stores one object under key.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, data []byte) error
}

// Supabase uploads objects to a Supabase Storage bucket.
type Supabase struct {
	client *supabase.Client
	bucket string
}

func NewSupabase(baseURL, serviceKey, bucket string) (*Supabase, error) {
	if baseURL == "" || serviceKey == "" {
		return nil, fmt.Errorf("missing Supabase configuration: SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("missing Supabase configuration: SUPABASE_BUCKET required")
	}
	client, err := supabase.NewClient(strings.TrimRight(baseURL, "/"), serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create Supabase client: %w", err)
	}
	return &Supabase{client: client, bucket: bucket}, nil
}

// Upload writes data under key, overwriting any existing object so a retried
// archive replaces its earlier attempt. The SDK takes no context, so ctx is
// only checked before the request starts.
func (s *Supabase) Upload(ctx context.Context, key, contentType string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	upsert := true
	opts := storage_go.FileOptions{Upsert: &upsert}
	if contentType != "" {
		opts.ContentType = &contentType
	}
	if _, err := s.client.Storage.UploadFile(s.bucket, key, bytes.NewReader(data), opts); err != nil {
		return fmt.Errorf("failed to upload to Supabase: %w", err)
	}
	return nil
}
