// Package minio removes saved-page files kept in a MinIO (S3 compatible) bucket.
package minio

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"github.com/rossigee/pagekeeper/internal/files"
	"github.com/rossigee/pagekeeper/internal/retry"
)

// DefaultRetry is used when a Remover is built without a retry config.
var DefaultRetry = retry.Config{
	MaxAttempts: 3,
	Delays:      []time.Duration{200 * time.Millisecond, time.Second},
}

// objectAPI is the part of *minio.Client the remover uses.
type objectAPI interface {
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	RemoveObjects(ctx context.Context, bucketName string, objectsCh <-chan minio.ObjectInfo, opts minio.RemoveObjectsOptions) <-chan minio.RemoveObjectError
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// Client handles MinIO operations.
type Client struct {
	minioClient objectAPI
}

// NewClient creates a new MinIO client.
func NewClient() (*Client, error) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:9000"
	}

	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	if accessKey == "" {
		// Also check for AWS/MinIO standard variable name
		accessKey = os.Getenv("MINIO_ACCESS_KEY_ID")
	}

	secretKey := os.Getenv("MINIO_SECRET_KEY")
	if secretKey == "" {
		secretKey = os.Getenv("MINIO_SECRET_ACCESS_KEY")
	}

	logrus.WithFields(logrus.Fields{
		"MINIO_ENDPOINT":  os.Getenv("MINIO_ENDPOINT"),
		"accessKey_found": accessKey != "",
		"secretKey_found": secretKey != "",
	}).Debug("MinIO environment variable check")

	if accessKey == "" {
		return nil, fmt.Errorf("MINIO_ACCESS_KEY or MINIO_ACCESS_KEY_ID environment variable is required")
	}

	if secretKey == "" {
		return nil, fmt.Errorf("MINIO_SECRET_KEY or MINIO_SECRET_ACCESS_KEY environment variable is required")
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid MINIO_ENDPOINT '%s': %w (expected format: https://hostname:port)", endpoint, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid MINIO_ENDPOINT scheme '%s': must be http or https", u.Scheme)
	}

	if u.Host == "" {
		return nil, fmt.Errorf("invalid MINIO_ENDPOINT '%s': missing hostname", endpoint)
	}

	minioClient, err := minio.New(u.Host, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client for %s: %w", u.Host, err)
	}

	return &Client{
		minioClient: minioClient,
	}, nil
}

// Remover deletes objects below a prefix of one bucket. It implements
// files.Remover, treating names as object keys relative to Prefix.
type Remover struct {
	client *Client
	bucket string
	prefix string
	retry  retry.Config
}

var _ files.Remover = (*Remover)(nil)

// NewRemover returns a Remover for bucket, rooted at prefix.
func NewRemover(client *Client, bucket, prefix string, cfg retry.Config) (*Remover, error) {
	if client == nil {
		return nil, errors.New("minio client is required")
	}
	if bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRetry
	}
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Remover{client: client, bucket: bucket, prefix: prefix, retry: cfg}, nil
}

// Delete removes one object, or every object under name when recursive is
// set. Missing objects and a missing bucket are not errors.
func (r *Remover) Delete(ctx context.Context, name string, recursive bool) error {
	rel, err := files.Clean(name)
	if err != nil {
		return err
	}

	entry := logrus.WithFields(logrus.Fields{
		"bucket":    r.bucket,
		"path":      r.prefix + rel,
		"recursive": recursive,
	})

	var removed int
	err = retry.WithRetry(ctx, r.retry, func() error {
		var attemptErr error
		if recursive {
			removed, attemptErr = r.removePrefix(ctx, rel)
		} else {
			removed, attemptErr = r.removeObject(ctx, rel)
		}
		if attemptErr != nil {
			entry.WithError(attemptErr).Debug("MinIO removal attempt failed")
		}
		return classify(attemptErr)
	})
	if err != nil {
		return fmt.Errorf("failed to remove s3://%s/%s: %w", r.bucket, r.prefix+rel, err)
	}

	entry.WithField("objects", removed).Debug("Removed MinIO objects")
	return nil
}

func (r *Remover) removeObject(ctx context.Context, rel string) (int, error) {
	if rel == "" {
		return 0, retry.Permanent(errors.New("object name is required for a non-recursive delete"))
	}
	if err := r.client.minioClient.RemoveObject(ctx, r.bucket, r.prefix+rel, minio.RemoveObjectOptions{}); err != nil {
		return 0, err
	}
	return 1, nil
}

// removePrefix removes the object named rel, if any, and every object below
// rel, mirroring os.RemoveAll on a local path.
func (r *Remover) removePrefix(ctx context.Context, rel string) (int, error) {
	exact := r.prefix + rel
	dir := r.prefix
	if rel != "" {
		dir = exact + "/"
	}

	var objects []minio.ObjectInfo
	for obj := range r.client.minioClient.ListObjects(ctx, r.bucket, minio.ListObjectsOptions{
		Prefix:    exact,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return 0, obj.Err
		}
		// Siblings such as "name.bak" share the listing prefix.
		if (rel != "" && obj.Key == exact) || strings.HasPrefix(obj.Key, dir) {
			objects = append(objects, obj)
		}
	}
	if len(objects) == 0 {
		return 0, nil
	}

	objectsCh := make(chan minio.ObjectInfo, len(objects))
	for _, obj := range objects {
		objectsCh <- obj
	}
	close(objectsCh)

	var failed []error
	for removeErr := range r.client.minioClient.RemoveObjects(ctx, r.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		failed = append(failed, fmt.Errorf("%s: %w", removeErr.ObjectName, removeErr.Err))
	}
	if len(failed) > 0 {
		return len(objects) - len(failed), errors.Join(failed...)
	}
	return len(objects), nil
}

// classify maps MinIO error codes onto retry behaviour.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchBucket", "NoSuchKey":
		return nil
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "InvalidBucketName":
		return retry.Permanent(err)
	}
	return err
}
