package app

import (
	"errors"
	"testing"

	"github.com/yungbote/studio-ingest/internal/platform/gcp"
	"github.com/yungbote/studio-ingest/internal/platform/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func TestClassifyStorageProviderBootstrapError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want StorageProviderBootstrapErrorCode
	}{
		{"invalid mode", &gcp.ObjectStorageConfigError{Code: gcp.ObjectStorageConfigErrorInvalidMode}, StorageProviderBootstrapErrorInvalidMode},
		{"missing emulator host", &gcp.ObjectStorageConfigError{Code: gcp.ObjectStorageConfigErrorMissingEmulatorHost}, StorageProviderBootstrapErrorMissingEmulatorHost},
		{"invalid emulator host", &gcp.ObjectStorageConfigError{Code: gcp.ObjectStorageConfigErrorInvalidEmulatorHost}, StorageProviderBootstrapErrorInvalidEmulatorHost},
		{"connect", errors.New("dial tcp: connection refused"), StorageProviderBootstrapErrorConnectFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyStorageProviderBootstrapError(gcp.ObjectStorageConfig{Mode: gcp.ObjectStorageModeGCS}, tc.err)
			var got *StorageProviderBootstrapError
			if !errors.As(err, &got) {
				t.Fatalf("expected StorageProviderBootstrapError, got=%T", err)
			}
			if got.Code != tc.want {
				t.Fatalf("code: want=%q got=%q", tc.want, got.Code)
			}
			if !errors.Is(err, tc.err) {
				t.Fatalf("cause should unwrap")
			}
		})
	}
}

func TestResolveBucketServiceInvalidMode(t *testing.T) {
	_, err := resolveBucketService(testLogger(t), Config{Storage: gcp.ObjectStorageConfig{Mode: "invalid"}})
	if storageProviderBootstrapErrorCode(err) != StorageProviderBootstrapErrorInvalidMode {
		t.Fatalf("expected invalid_mode, got %v", err)
	}
}

func TestResolveBucketServiceMemoryMode(t *testing.T) {
	bucket, err := resolveBucketService(testLogger(t), Config{Storage: gcp.ObjectStorageConfig{Mode: gcp.ObjectStorageModeMemory}})
	if err != nil {
		t.Fatalf("resolveBucketService: %v", err)
	}
	if _, ok := bucket.(*gcp.MemoryBucketService); !ok {
		t.Fatalf("bucket = %T, want memory", bucket)
	}
}

func TestResolveBucketServiceWrapsConnectFailure(t *testing.T) {
	orig := newBucketServiceWithConfig
	t.Cleanup(func() { newBucketServiceWithConfig = orig })
	cause := errors.New("boom")
	newBucketServiceWithConfig = func(*logger.Logger, gcp.ObjectStorageConfig) (gcp.BucketService, error) {
		return nil, cause
	}

	_, err := resolveBucketService(testLogger(t), Config{Storage: gcp.ObjectStorageConfig{Mode: gcp.ObjectStorageModeGCS}})
	if storageProviderBootstrapErrorCode(err) != StorageProviderBootstrapErrorConnectFailed || !errors.Is(err, cause) {
		t.Fatalf("unexpected error: %v", err)
	}
}
