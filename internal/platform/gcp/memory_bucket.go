package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// errPreconditionFailed mirrors what GCS returns when a DoesNotExist write condition fails.
var errPreconditionFailed = &googleapi.Error{Code: 412, Message: "conditionNotMet"}

// MemoryBucketService is an in-process BucketService used by OBJECT_STORAGE_MODE=memory and tests.
// Faults queued with FailNext are returned by the next matching call.
type MemoryBucketService struct {
	mu         sync.Mutex
	objects    map[BucketCategory]map[string]*memoryObject
	generation int64
	faults     map[string][]error
}

type memoryObject struct {
	data  []byte
	attrs ObjectAttrs
}

func NewMemoryBucketService() *MemoryBucketService {
	return &MemoryBucketService{
		objects: map[BucketCategory]map[string]*memoryObject{},
		faults:  map[string][]error{},
	}
}

// FailNext makes the next call of op ("upload", "rename", "metadata") return err.
func (m *MemoryBucketService) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = append(m.faults[op], err)
}

func (m *MemoryBucketService) takeFault(op string) error {
	q := m.faults[op]
	if len(q) == 0 {
		return nil
	}
	m.faults[op] = q[1:]
	return q[0]
}

func (m *MemoryBucketService) bucket(category BucketCategory) (map[string]*memoryObject, error) {
	if category != BucketCategoryImage && category != BucketCategoryVideo {
		return nil, fmt.Errorf("unknown bucket category: %s", category)
	}
	b, ok := m.objects[category]
	if !ok {
		b = map[string]*memoryObject{}
		m.objects[category] = b
	}
	return b, nil
}

func (m *MemoryBucketService) UploadObject(ctx context.Context, category BucketCategory, key string, r io.Reader, opts UploadOptions) (*ObjectAttrs, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upload body: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFault("upload"); err != nil {
		return nil, err
	}
	b, err := m.bucket(category)
	if err != nil {
		return nil, err
	}
	if _, exists := b[key]; exists {
		return nil, fmt.Errorf("upload %s: %w", key, errPreconditionFailed)
	}
	m.generation++
	now := time.Now().UTC()
	ct := opts.ContentType
	if ct == "" {
		ct = contentTypeForKey(key)
	}
	obj := &memoryObject{
		data: data,
		attrs: ObjectAttrs{
			Bucket:      "memory-" + string(category),
			Name:        key,
			Generation:  m.generation,
			Size:        int64(len(data)),
			ContentType: ct,
			Created:     now,
			Updated:     now,
			Metadata:    copyMetadata(opts.Metadata),
		},
	}
	b[key] = obj
	attrs := obj.attrs
	return &attrs, nil
}

func (m *MemoryBucketService) RenameObject(ctx context.Context, category BucketCategory, srcKey, dstKey string) (*ObjectAttrs, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFault("rename"); err != nil {
		return nil, err
	}
	b, err := m.bucket(category)
	if err != nil {
		return nil, err
	}
	src, ok := b[srcKey]
	if !ok {
		return nil, fmt.Errorf("copy %s->%s: %w", srcKey, dstKey, storage.ErrObjectNotExist)
	}
	if _, exists := b[dstKey]; exists {
		return nil, fmt.Errorf("copy %s->%s: %w", srcKey, dstKey, errPreconditionFailed)
	}
	m.generation++
	moved := &memoryObject{data: src.data, attrs: src.attrs}
	moved.attrs.Name = dstKey
	moved.attrs.Generation = m.generation
	moved.attrs.Updated = time.Now().UTC()
	moved.attrs.Metadata = copyMetadata(src.attrs.Metadata)
	b[dstKey] = moved
	delete(b, srcKey)
	attrs := moved.attrs
	return &attrs, nil
}

func (m *MemoryBucketService) UpdateMetadata(ctx context.Context, category BucketCategory, key string, metadata map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFault("metadata"); err != nil {
		return err
	}
	b, err := m.bucket(category)
	if err != nil {
		return err
	}
	obj, ok := b[key]
	if !ok {
		return fmt.Errorf("update metadata %s: %w", key, storage.ErrObjectNotExist)
	}
	if obj.attrs.Metadata == nil {
		obj.attrs.Metadata = map[string]string{}
	}
	// Same merge semantics as GCS: an empty value deletes the key.
	for k, v := range metadata {
		if v == "" {
			delete(obj.attrs.Metadata, k)
			continue
		}
		obj.attrs.Metadata[k] = v
	}
	obj.attrs.Updated = time.Now().UTC()
	return nil
}

func (m *MemoryBucketService) DeleteFile(ctx context.Context, category BucketCategory, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.bucket(category)
	if err != nil {
		return err
	}
	if _, ok := b[key]; !ok {
		return fmt.Errorf("delete %s: %w", key, storage.ErrObjectNotExist)
	}
	delete(b, key)
	return nil
}

func (m *MemoryBucketService) GetObjectAttrs(ctx context.Context, category BucketCategory, key string) (*ObjectAttrs, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.bucket(category)
	if err != nil {
		return nil, err
	}
	obj, ok := b[key]
	if !ok {
		return nil, fmt.Errorf("failed to fetch object attrs: %w", storage.ErrObjectNotExist)
	}
	attrs := obj.attrs
	attrs.Metadata = copyMetadata(obj.attrs.Metadata)
	return &attrs, nil
}

func (m *MemoryBucketService) ListObjects(ctx context.Context, category BucketCategory, prefix string) ([]ObjectAttrs, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.bucket(category)
	if err != nil {
		return nil, err
	}
	out := []ObjectAttrs{}
	for k, obj := range b {
		if strings.HasPrefix(k, prefix) {
			attrs := obj.attrs
			attrs.Metadata = copyMetadata(obj.attrs.Metadata)
			out = append(out, attrs)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Content returns the stored bytes for key.
func (m *MemoryBucketService) Content(category BucketCategory, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.bucket(category)
	if err != nil {
		return nil, false
	}
	obj, ok := b[key]
	if !ok {
		return nil, false
	}
	return bytes.Clone(obj.data), true
}

func (m *MemoryBucketService) GetPublicURL(category BucketCategory, key string) string {
	return fmt.Sprintf("memory://%s/%s", category, strings.TrimLeft(key, "/"))
}

func (m *MemoryBucketService) Close() error { return nil }

// IsNotExist reports whether err means the object is missing in either backend.
func IsNotExist(err error) bool {
	return errors.Is(err, storage.ErrObjectNotExist)
}
