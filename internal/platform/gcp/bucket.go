package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/yungbote/studio-ingest/internal/domain/media"
	"github.com/yungbote/studio-ingest/internal/platform/logger"
)

type BucketCategory string

const (
	BucketCategoryImage BucketCategory = "image"
	BucketCategoryVideo BucketCategory = "video"
)

// CategoryForKind keeps renames on the same bucket the object was uploaded to.
func CategoryForKind(kind media.Kind) BucketCategory {
	if kind == media.KindVideo {
		return BucketCategoryVideo
	}
	return BucketCategoryImage
}

type bucketConfig struct {
	name      string
	cdnDomain string
}

type BucketService interface {
	UploadObject(ctx context.Context, category BucketCategory, key string, r io.Reader, opts UploadOptions) (*ObjectAttrs, error)
	RenameObject(ctx context.Context, category BucketCategory, srcKey, dstKey string) (*ObjectAttrs, error)
	UpdateMetadata(ctx context.Context, category BucketCategory, key string, metadata map[string]string) error
	DeleteFile(ctx context.Context, category BucketCategory, key string) error
	GetObjectAttrs(ctx context.Context, category BucketCategory, key string) (*ObjectAttrs, error)
	ListObjects(ctx context.Context, category BucketCategory, prefix string) ([]ObjectAttrs, error)
	GetPublicURL(category BucketCategory, key string) string
	Close() error
}

type UploadOptions struct {
	ContentType string
	Metadata    map[string]string
}

type ObjectAttrs struct {
	Bucket      string
	Name        string
	Generation  int64
	Size        int64
	ContentType string
	Created     time.Time
	Updated     time.Time
	ETag        string
	Metadata    map[string]string
}

// ProviderID is the stable identity of one stored generation of an object.
func (a *ObjectAttrs) ProviderID() string {
	if a == nil {
		return ""
	}
	return fmt.Sprintf("%s/%s#%d", a.Bucket, a.Name, a.Generation)
}

type bucketService struct {
	log           *logger.Logger
	storageClient *storage.Client
	storageMode   ObjectStorageMode
	emulatorHost  string
	imageBucket   bucketConfig
	videoBucket   bucketConfig
	publicBaseURL string
}

func NewBucketService(log *logger.Logger) (BucketService, error) {
	storageCfg, err := ResolveObjectStorageConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("resolve object storage config: %w", err)
	}
	if storageCfg.Mode == ObjectStorageModeMemory {
		log.Warn("Object storage running in memory mode; uploads are not durable")
		return NewMemoryBucketService(), nil
	}
	return NewBucketServiceWithConfig(log, storageCfg)
}

func NewBucketServiceWithConfig(log *logger.Logger, storageCfg ObjectStorageConfig) (BucketService, error) {
	if err := ValidateObjectStorageConfig(storageCfg); err != nil {
		return nil, fmt.Errorf("validate object storage config: %w", err)
	}
	if storageCfg.Mode == ObjectStorageModeMemory {
		return NewMemoryBucketService(), nil
	}
	serviceLog := log.With("service", "BucketService")

	imageBucketName := strings.TrimSpace(os.Getenv("IMAGE_GCS_BUCKET_NAME"))
	if imageBucketName == "" {
		return nil, fmt.Errorf("missing env var IMAGE_GCS_BUCKET_NAME")
	}
	// Video loops share the image bucket unless a dedicated one is configured.
	videoBucketName := strings.TrimSpace(os.Getenv("VIDEO_GCS_BUCKET_NAME"))
	if videoBucketName == "" {
		videoBucketName = imageBucketName
	}

	imageCDN := os.Getenv("IMAGE_CDN_DOMAIN")
	videoCDN := os.Getenv("VIDEO_CDN_DOMAIN")
	publicBaseURL, publicBaseSource, err := resolveObjectStoragePublicBaseURL(storageCfg)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	stClient, err := newStorageClientForMode(ctx, storageCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	serviceLog.Info(
		"Object storage initialized",
		"mode", storageCfg.Mode,
		"mode_source", storageCfg.ModeSource(),
		"emulator_host", storageCfg.EmulatorHost,
		"public_base_source", publicBaseSource,
		"public_base_url", publicBaseURL,
		"image_bucket", imageBucketName,
		"video_bucket", videoBucketName,
	)

	return &bucketService{
		log:           serviceLog,
		storageClient: stClient,
		storageMode:   storageCfg.Mode,
		emulatorHost:  strings.TrimRight(strings.TrimSpace(storageCfg.EmulatorHost), "/"),
		imageBucket:   bucketConfig{name: imageBucketName, cdnDomain: imageCDN},
		videoBucket:   bucketConfig{name: videoBucketName, cdnDomain: videoCDN},
		publicBaseURL: publicBaseURL,
	}, nil
}

func newStorageClientForMode(ctx context.Context, storageCfg ObjectStorageConfig) (*storage.Client, error) {
	switch storageCfg.Mode {
	case ObjectStorageModeGCS:
		opts := ClientOptionsFromEnv()
		opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
		return storage.NewClient(ctx, opts...)
	case ObjectStorageModeGCSEmulator:
		endpoint := strings.TrimRight(strings.TrimSpace(storageCfg.EmulatorHost), "/")
		_ = os.Setenv("STORAGE_EMULATOR_HOST", endpoint)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	default:
		return nil, &ObjectStorageConfigError{
			Code: ObjectStorageConfigErrorInvalidMode,
			Mode: string(storageCfg.Mode),
		}
	}
}

func resolveObjectStoragePublicBaseURL(storageCfg ObjectStorageConfig) (baseURL string, source string, err error) {
	raw := strings.TrimSpace(os.Getenv("OBJECT_STORAGE_PUBLIC_BASE_URL"))
	if raw != "" {
		parsed, parseErr := url.Parse(raw)
		if parseErr != nil || strings.TrimSpace(parsed.Scheme) == "" || strings.TrimSpace(parsed.Host) == "" {
			return "", "", fmt.Errorf(
				"invalid OBJECT_STORAGE_PUBLIC_BASE_URL=%q; expected absolute URL like http://localhost:4443",
				raw,
			)
		}
		return strings.TrimRight(raw, "/"), "object_storage_public_base_url", nil
	}

	if storageCfg.IsEmulatorMode() {
		return strings.TrimRight(strings.TrimSpace(storageCfg.EmulatorHost), "/"), "storage_emulator_host", nil
	}

	return "", "gcs_default", nil
}

func (bs *bucketService) getBucketConfig(category BucketCategory) (bucketConfig, error) {
	switch category {
	case BucketCategoryImage:
		return bs.imageBucket, nil
	case BucketCategoryVideo:
		return bs.videoBucket, nil
	default:
		return bucketConfig{}, fmt.Errorf("unknown bucket category: %s", category)
	}
}

func (bs *bucketService) UploadObject(ctx context.Context, category BucketCategory, key string, r io.Reader, opts UploadOptions) (*ObjectAttrs, error) {
	cfg, err := bs.getBucketConfig(category)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	obj := bs.storageClient.Bucket(cfg.name).Object(key).If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	w.ContentType = opts.ContentType
	if w.ContentType == "" {
		w.ContentType = contentTypeForKey(key)
	}
	if len(opts.Metadata) > 0 {
		w.Metadata = copyMetadata(opts.Metadata)
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return fromStorageAttrs(w.Attrs()), nil
}

// RenameObject promotes srcKey to dstKey. GCS has no rename; this is copy then delete,
// and the copy refuses to overwrite an existing destination.
func (bs *bucketService) RenameObject(ctx context.Context, category BucketCategory, srcKey, dstKey string) (*ObjectAttrs, error) {
	cfg, err := bs.getBucketConfig(category)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	bkt := bs.storageClient.Bucket(cfg.name)
	src := bkt.Object(srcKey)
	dst := bkt.Object(dstKey).If(storage.Conditions{DoesNotExist: true})
	attrs, err := dst.CopierFrom(src).Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("copy %s->%s: %w", srcKey, dstKey, err)
	}
	if err := src.Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		// The final object exists; a lingering provisional copy is left for the sweep report.
		bs.log.Warn("provisional delete after rename failed", "src", srcKey, "dst", dstKey, "error", err)
	}
	return fromStorageAttrs(attrs), nil
}

func (bs *bucketService) UpdateMetadata(ctx context.Context, category BucketCategory, key string, metadata map[string]string) error {
	cfg, err := bs.getBucketConfig(category)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err = bs.storageClient.Bucket(cfg.name).Object(key).Update(ctx, storage.ObjectAttrsToUpdate{
		Metadata: copyMetadata(metadata),
	})
	if err != nil {
		return fmt.Errorf("update metadata %s: %w", key, err)
	}
	return nil
}

func (bs *bucketService) DeleteFile(ctx context.Context, category BucketCategory, key string) error {
	cfg, err := bs.getBucketConfig(category)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := bs.storageClient.Bucket(cfg.name).Object(key).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete GCS object %q in bucket %q: %w", key, cfg.name, err)
	}
	return nil
}

func (bs *bucketService) GetObjectAttrs(ctx context.Context, category BucketCategory, key string) (*ObjectAttrs, error) {
	cfg, err := bs.getBucketConfig(category)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	attrs, err := bs.storageClient.Bucket(cfg.name).Object(key).Attrs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch GCS object attrs: %w", err)
	}
	return fromStorageAttrs(attrs), nil
}

func (bs *bucketService) ListObjects(ctx context.Context, category BucketCategory, prefix string) ([]ObjectAttrs, error) {
	cfg, err := bs.getBucketConfig(category)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	it := bs.storageClient.Bucket(cfg.name).Objects(ctx, &storage.Query{Prefix: prefix})
	out := []ObjectAttrs{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *fromStorageAttrs(attrs))
	}
	return out, nil
}

func (bs *bucketService) GetPublicURL(category BucketCategory, key string) string {
	cfg, err := bs.getBucketConfig(category)
	if err != nil {
		return key
	}
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if cfg.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", cfg.cdnDomain, key)
	}
	if bs.storageMode == ObjectStorageModeGCSEmulator {
		if u := bs.publicEmulatorObjectMediaURL(cfg.name, key); u != "" {
			return u
		}
	}
	if bs.publicBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", bs.publicBaseURL, cfg.name, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", cfg.name, key)
}

func (bs *bucketService) publicEmulatorObjectMediaURL(bucket, key string) string {
	base := strings.TrimRight(strings.TrimSpace(bs.publicBaseURL), "/")
	if base == "" {
		base = strings.TrimRight(strings.TrimSpace(bs.emulatorHost), "/")
	}
	if base == "" {
		return ""
	}
	return fmt.Sprintf(
		"%s/storage/v1/b/%s/o/%s?alt=media",
		base,
		url.PathEscape(bucket),
		url.PathEscape(key),
	)
}

func (bs *bucketService) Close() error {
	if bs == nil || bs.storageClient == nil {
		return nil
	}
	return bs.storageClient.Close()
}

// ProviderStatus extracts the HTTP status and message from a GCS error, if it carries one.
func ProviderStatus(err error) (int, string) {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		msg := strings.TrimSpace(gerr.Message)
		if msg == "" && len(gerr.Errors) > 0 {
			msg = gerr.Errors[0].Message
		}
		return gerr.Code, msg
	}
	return 0, ""
}

func fromStorageAttrs(a *storage.ObjectAttrs) *ObjectAttrs {
	if a == nil {
		return &ObjectAttrs{}
	}
	return &ObjectAttrs{
		Bucket:      a.Bucket,
		Name:        a.Name,
		Generation:  a.Generation,
		Size:        a.Size,
		ContentType: a.ContentType,
		Created:     a.Created,
		Updated:     a.Updated,
		ETag:        a.Etag,
		Metadata:    copyMetadata(a.Metadata),
	}
}

func copyMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func contentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	if s == "" {
		return ""
	}
	if i := strings.Index(s, "?"); i >= 0 {
		s = s[:i]
	}
	switch {
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	case strings.HasSuffix(s, ".jpg"), strings.HasSuffix(s, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(s, ".webp"):
		return "image/webp"
	case strings.HasSuffix(s, ".gif"):
		return "image/gif"
	case strings.HasSuffix(s, ".mp4"), strings.HasSuffix(s, ".m4v"):
		return "video/mp4"
	case strings.HasSuffix(s, ".webm"):
		return "video/webm"
	case strings.HasSuffix(s, ".mov"):
		return "video/quicktime"
	default:
		return ""
	}
}
