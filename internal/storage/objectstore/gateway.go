package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

const ReportEntryPoint = "index.html"

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrNoBucket       = errors.New("object storage bucket not configured")
)

// Gateway binds a Store to one bucket and the run key convention
// (every artifact of a run lives under "<runID>/").
type Gateway struct {
	store  Store
	bucket string
	region string
}

func NewGateway(store Store, bucket, region string) *Gateway {
	return &Gateway{
		store:  store,
		bucket: strings.TrimSpace(bucket),
		region: strings.TrimSpace(region),
	}
}

func (g *Gateway) Bucket() string {
	return g.bucket
}

func (g *Gateway) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if g.bucket == "" {
		return ErrNoBucket
	}
	if contentType == "" {
		contentType = ContentTypeFor(key)
	}
	return g.store.Put(ctx, g.bucket, key, bytes.NewReader(data), int64(len(data)), contentType)
}

// PutFile streams a local file to key.
func (g *Gateway) PutFile(ctx context.Context, key, localPath string) error {
	if g.bucket == "" {
		return ErrNoBucket
	}
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	return g.store.Put(ctx, g.bucket, key, f, info.Size(), ContentTypeFor(localPath))
}

// ObjectKey joins a run id and a slash separated relative path.
func ObjectKey(runID, rel string) string {
	return runID + "/" + strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(rel)), "/")
}

func ReportKey(runID string) string {
	return ObjectKey(runID, ReportEntryPoint)
}

// ReportURL is derived from the run id alone; it does not check that the
// report was uploaded.
func (g *Gateway) ReportURL(runID string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", g.bucket, g.region, ReportKey(runID))
}

// PresignReport verifies the report exists and returns a time-limited link.
func (g *Gateway) PresignReport(ctx context.Context, runID string, ttl time.Duration) (string, error) {
	if g.bucket == "" {
		return "", ErrNoBucket
	}
	key := ReportKey(runID)
	if _, err := g.store.Stat(ctx, g.bucket, key); err != nil {
		return "", err
	}
	return g.store.PresignGet(ctx, g.bucket, key, ttl)
}

// ContentTypeFor guesses from the file extension.
func ContentTypeFor(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".log":
		return "text/plain; charset=utf-8"
	case "":
		return "application/octet-stream"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
