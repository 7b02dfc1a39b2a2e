package minio

import (
	"context"
	"errors"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rossigee/pagekeeper/internal/retry"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name        string
		envVars     map[string]string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid configuration",
			envVars: map[string]string{
				"MINIO_ENDPOINT":   "https://minio.example.com:9000",
				"MINIO_ACCESS_KEY": "test-access-key",
				"MINIO_SECRET_KEY": "test-secret-key",
			},
			expectError: false,
		},
		{
			name: "missing access key",
			envVars: map[string]string{
				"MINIO_ENDPOINT":          "https://minio.example.com:9000",
				"MINIO_SECRET_ACCESS_KEY": "test-secret-key",
			},
			expectError: true,
			errorMsg:    "MINIO_ACCESS_KEY or MINIO_ACCESS_KEY_ID environment variable is required",
		},
		{
			name: "missing secret key",
			envVars: map[string]string{
				"MINIO_ENDPOINT":      "https://minio.example.com:9000",
				"MINIO_ACCESS_KEY_ID": "test-access-key",
			},
			expectError: true,
			errorMsg:    "MINIO_SECRET_KEY or MINIO_SECRET_ACCESS_KEY environment variable is required",
		},
		{
			name: "invalid endpoint URL",
			envVars: map[string]string{
				"MINIO_ENDPOINT":   "not-a-url",
				"MINIO_ACCESS_KEY": "test-access-key",
				"MINIO_SECRET_KEY": "test-secret-key",
			},
			expectError: true,
			errorMsg:    "invalid MINIO_ENDPOINT",
		},
		{
			name: "endpoint without scheme",
			envVars: map[string]string{
				"MINIO_ENDPOINT":   "minio.example.com:9000",
				"MINIO_ACCESS_KEY": "test-access-key",
				"MINIO_SECRET_KEY": "test-secret-key",
			},
			expectError: true,
			errorMsg:    "invalid MINIO_ENDPOINT scheme",
		},
		{
			name: "default endpoint when not set",
			envVars: map[string]string{
				"MINIO_ACCESS_KEY": "test-access-key",
				"MINIO_SECRET_KEY": "test-secret-key",
			},
			expectError: false,
		},
		{
			name: "valid configuration with _ID suffix",
			envVars: map[string]string{
				"MINIO_ENDPOINT":          "https://minio.example.com:9000",
				"MINIO_ACCESS_KEY_ID":     "test-access-key-id",
				"MINIO_SECRET_ACCESS_KEY": "test-secret-access-key",
			},
			expectError: false,
		},
		{
			name: "mixed variable names (old and new)",
			envVars: map[string]string{
				"MINIO_ENDPOINT":          "https://minio.example.com:9000",
				"MINIO_ACCESS_KEY":        "test-access-key",
				"MINIO_SECRET_ACCESS_KEY": "test-secret-access-key",
			},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear environment
			_ = os.Unsetenv("MINIO_ENDPOINT")
			_ = os.Unsetenv("MINIO_ACCESS_KEY")
			_ = os.Unsetenv("MINIO_ACCESS_KEY_ID")
			_ = os.Unsetenv("MINIO_SECRET_KEY")
			_ = os.Unsetenv("MINIO_SECRET_ACCESS_KEY")

			// Set test environment variables
			for key, value := range tt.envVars {
				_ = os.Setenv(key, value)
			}

			// Test client creation
			client, err := NewClient()

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, client)
				if tt.errorMsg != "" {
					assert.Contains(t, err.Error(), tt.errorMsg)
				}
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, client)
			}
		})
	}
}

type fakeObjects struct {
	mu        sync.Mutex
	objects   map[string]map[string]bool
	listErrs  []error
	removeErr error
	removed   []string
}

func newFakeObjects(bucket string, keys ...string) *fakeObjects {
	f := &fakeObjects{objects: map[string]map[string]bool{bucket: {}}}
	for _, k := range keys {
		f.objects[bucket][k] = true
	}
	return f
}

func (f *fakeObjects) ListObjects(_ context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan minio.ObjectInfo, len(f.objects[bucket])+1)
	defer close(ch)

	if len(f.listErrs) > 0 {
		err := f.listErrs[0]
		f.listErrs = f.listErrs[1:]
		ch <- minio.ObjectInfo{Err: err}
		return ch
	}
	objs, ok := f.objects[bucket]
	if !ok {
		ch <- minio.ObjectInfo{Err: minio.ErrorResponse{Code: "NoSuchBucket", BucketName: bucket}}
		return ch
	}
	for key := range objs {
		if strings.HasPrefix(key, opts.Prefix) {
			ch <- minio.ObjectInfo{Key: key}
		}
	}
	return ch
}

func (f *fakeObjects) RemoveObjects(_ context.Context, bucket string, objectsCh <-chan minio.ObjectInfo, _ minio.RemoveObjectsOptions) <-chan minio.RemoveObjectError {
	out := make(chan minio.RemoveObjectError, 16)
	go func() {
		defer close(out)
		for obj := range objectsCh {
			f.mu.Lock()
			delete(f.objects[bucket], obj.Key)
			f.removed = append(f.removed, obj.Key)
			f.mu.Unlock()
		}
	}()
	return out
}

func (f *fakeObjects) RemoveObject(_ context.Context, bucket, name string, _ minio.RemoveObjectOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.removeErr != nil {
		return f.removeErr
	}
	delete(f.objects[bucket], name)
	f.removed = append(f.removed, name)
	return nil
}

func (f *fakeObjects) keys(bucket string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var keys []string
	for k := range f.objects[bucket] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var fastRetry = retry.Config{MaxAttempts: 3, Delays: []time.Duration{time.Millisecond}}

func TestRemoverDeletePrefix(t *testing.T) {
	fake := newFakeObjects("pages",
		"saved/en.wikipedia.org/Main_Page/index.html",
		"saved/en.wikipedia.org/Main_Page/img.png",
		"saved/de.wikipedia.org/Hauptseite/index.html",
		"other/file",
	)
	r, err := NewRemover(&Client{minioClient: fake}, "pages", "/saved/", fastRetry)
	require.NoError(t, err)

	require.NoError(t, r.Delete(context.Background(), "en.wikipedia.org", true))
	assert.Equal(t, []string{"other/file", "saved/de.wikipedia.org/Hauptseite/index.html"}, fake.keys("pages"))

	require.NoError(t, r.Delete(context.Background(), "", true))
	assert.Equal(t, []string{"other/file"}, fake.keys("pages"))
}

func TestRemoverDeleteRecursiveIncludesExactObject(t *testing.T) {
	fake := newFakeObjects("pages",
		"saved/en.wikipedia.org/Earth",
		"saved/en.wikipedia.org/Earth/index.html",
		"saved/en.wikipedia.org/Earth_(planet)/index.html",
		"saved/en.wikipedia.org/Earth.bak",
	)
	r, err := NewRemover(&Client{minioClient: fake}, "pages", "saved", fastRetry)
	require.NoError(t, err)

	require.NoError(t, r.Delete(context.Background(), "en.wikipedia.org/Earth", true))
	assert.Equal(t, []string{
		"saved/en.wikipedia.org/Earth.bak",
		"saved/en.wikipedia.org/Earth_(planet)/index.html",
	}, fake.keys("pages"))
}

func TestRemoverDeleteSingleObject(t *testing.T) {
	fake := newFakeObjects("pages", "saved/a", "saved/b")
	r, err := NewRemover(&Client{minioClient: fake}, "pages", "saved", fastRetry)
	require.NoError(t, err)

	require.NoError(t, r.Delete(context.Background(), "a", false))
	assert.Equal(t, []string{"saved/b"}, fake.keys("pages"))

	assert.Error(t, r.Delete(context.Background(), "", false))
}

func TestRemoverMissingIsNotAnError(t *testing.T) {
	fake := newFakeObjects("pages")
	r, err := NewRemover(&Client{minioClient: fake}, "missing-bucket", "", fastRetry)
	require.NoError(t, err)
	assert.NoError(t, r.Delete(context.Background(), "anything", true))

	fake.removeErr = minio.ErrorResponse{Code: "NoSuchKey"}
	r, err = NewRemover(&Client{minioClient: fake}, "pages", "", fastRetry)
	require.NoError(t, err)
	assert.NoError(t, r.Delete(context.Background(), "gone", false))
}

func TestRemoverRetriesTransientErrors(t *testing.T) {
	fake := newFakeObjects("pages", "a/1")
	fake.listErrs = []error{errors.New("connection reset"), errors.New("connection reset")}

	r, err := NewRemover(&Client{minioClient: fake}, "pages", "", fastRetry)
	require.NoError(t, err)

	require.NoError(t, r.Delete(context.Background(), "a", true))
	assert.Empty(t, fake.keys("pages"))
}

func TestRemoverGivesUp(t *testing.T) {
	fake := newFakeObjects("pages", "a/1")
	fake.listErrs = []error{errors.New("e1"), errors.New("e2"), errors.New("e3")}

	r, err := NewRemover(&Client{minioClient: fake}, "pages", "", fastRetry)
	require.NoError(t, err)

	err = r.Delete(context.Background(), "a", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
}

func TestRemoverAccessDeniedIsPermanent(t *testing.T) {
	fake := newFakeObjects("pages", "a/1")
	fake.listErrs = []error{minio.ErrorResponse{Code: "AccessDenied"}, errors.New("unreachable")}

	r, err := NewRemover(&Client{minioClient: fake}, "pages", "", fastRetry)
	require.NoError(t, err)

	err = r.Delete(context.Background(), "a", true)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "failed after")
	assert.Len(t, fake.listErrs, 1)
}

func TestNewRemoverValidation(t *testing.T) {
	_, err := NewRemover(nil, "pages", "", fastRetry)
	assert.Error(t, err)

	_, err = NewRemover(&Client{minioClient: newFakeObjects("pages")}, "", "", fastRetry)
	assert.Error(t, err)

	r, err := NewRemover(&Client{minioClient: newFakeObjects("pages")}, "pages", "", retry.Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultRetry, r.retry)
}
