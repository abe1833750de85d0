package cache

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"chromascope/logging"
)

// MirrorConfig carries the connection settings for an S3-compatible
// object store used as a shared media mirror.
type MirrorConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Mirror replicates downloaded media to an object store so other
// instances can reuse a download instead of resolving it again. All
// mirror operations are best effort from the store's point of view.
type Mirror struct {
	client *minio.Client
	bucket string
	logger logging.Logger
}

// NewMirror connects to the object store and ensures the bucket exists.
func NewMirror(cfg MirrorConfig, logger logging.Logger) (*Mirror, error) {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	m := &Mirror{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.WithFields(logging.Fields{"component": "media_mirror"}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, m.bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		m.logger.Info("created mirror bucket", logging.Fields{"bucket": m.bucket})
	}

	return m, nil
}

// Upload copies the local file to the mirror under name.
func (m *Mirror) Upload(ctx context.Context, name, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat local file: %w", err)
	}

	_, err = m.client.PutObject(ctx, m.bucket, name, f, info.Size(), minio.PutObjectOptions{
		ContentType: contentTypeForExt(filepath.Ext(name)),
	})
	if err != nil {
		return fmt.Errorf("mirror upload failed: %w", err)
	}
	m.logger.Debug("uploaded to mirror", logging.Fields{
		"object": name,
		"bytes":  info.Size(),
	})
	return nil
}

// Fetch downloads name from the mirror into localPath, writing through a
// temporary file so a partial download never appears at the final path.
func (m *Mirror) Fetch(ctx context.Context, name, localPath string) error {
	obj, err := m.client.GetObject(ctx, m.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("mirror fetch failed: %w", err)
	}
	defer obj.Close()

	tmp := localPath + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create local file: %w", err)
	}
	if _, err := io.Copy(f, obj); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("mirror fetch failed: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close local file: %w", err)
	}
	if err := os.Rename(tmp, localPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("place local file: %w", err)
	}
	return nil
}

// Find returns the first object whose name starts with prefix.
func (m *Mirror) Find(ctx context.Context, prefix string) (string, bool) {
	objectCh := m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix: prefix,
	})
	for obj := range objectCh {
		if obj.Err != nil {
			m.logger.Warn("mirror listing failed", logging.Fields{"error": obj.Err.Error()})
			return "", false
		}
		return obj.Key, true
	}
	return "", false
}

// Has reports whether name exists on the mirror.
func (m *Mirror) Has(ctx context.Context, name string) bool {
	_, err := m.client.StatObject(ctx, m.bucket, name, minio.StatObjectOptions{})
	return err == nil
}

func contentTypeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	case ".wav":
		return "audio/wav"
	case ".m4a":
		return "audio/mp4"
	case ".ogg":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}
