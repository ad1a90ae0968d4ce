package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/yungbote/studio-ingest/internal/platform/gcp"
)

func seedBucket(t *testing.T) *gcp.MemoryBucketService {
	t.Helper()
	b := gcp.NewMemoryBucketService()
	ctx := context.Background()
	objects := []struct {
		cat gcp.BucketCategory
		key string
	}{
		{gcp.BucketCategoryImage, "refs/_provisional/1_aaa"},
		{gcp.BucketCategoryVideo, "refs/_provisional/2_bbb"},
		{gcp.BucketCategoryImage, "refs/vesper_5_eyes_20260101T000000_abcd1234.png"},
		{gcp.BucketCategoryImage, "other/_provisional/3_ccc"},
	}
	for _, o := range objects {
		if _, err := b.UploadObject(ctx, o.cat, o.key, strings.NewReader("data"), gcp.UploadOptions{}); err != nil {
			t.Fatalf("seed %s: %v", o.key, err)
		}
	}
	return b
}

func TestFindStaleReportsOnlyOldProvisionalObjects(t *testing.T) {
	b := seedBucket(t)

	stale, err := findStale(context.Background(), b, "refs", time.Hour, time.Now().Add(2*time.Hour))
	if err != nil {
		t.Fatalf("findStale: %v", err)
	}
	if len(stale) != 2 {
		t.Fatalf("stale = %+v, want the two refs provisional objects", stale)
	}
	for _, s := range stale {
		if !strings.HasPrefix(s.Key, "refs/_provisional/") {
			t.Fatalf("unexpected key %q", s.Key)
		}
	}

	fresh, err := findStale(context.Background(), b, "refs", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("findStale: %v", err)
	}
	if len(fresh) != 0 {
		t.Fatalf("objects younger than the threshold should be skipped, got %+v", fresh)
	}

	if _, ok := b.Content(gcp.BucketCategoryImage, "refs/_provisional/1_aaa"); !ok {
		t.Fatalf("report must not delete anything")
	}
}

func TestWriters(t *testing.T) {
	rows := []staleObject{{Category: gcp.BucketCategoryImage, Key: "refs/_provisional/1_aaa", Size: 4, Age: "2h0m0s"}}

	var table bytes.Buffer
	if err := writeTable(&table, rows); err != nil {
		t.Fatalf("writeTable: %v", err)
	}
	if !strings.Contains(table.String(), "refs/_provisional/1_aaa") || !strings.Contains(table.String(), "1 objects") {
		t.Fatalf("table = %q", table.String())
	}

	var lines bytes.Buffer
	if err := writeJSON(&lines, rows); err != nil {
		t.Fatalf("writeJSON: %v", err)
	}
	var got staleObject
	if err := json.Unmarshal(lines.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Key != rows[0].Key {
		t.Fatalf("json key = %q", got.Key)
	}
}

func TestDeleteStaleRemovesOnlyReportedObjects(t *testing.T) {
	b := seedBucket(t)
	ctx := context.Background()

	stale, err := findStale(ctx, b, "refs", time.Hour, time.Now().Add(2*time.Hour))
	if err != nil {
		t.Fatalf("findStale: %v", err)
	}
	// One object vanishes between listing and deleting.
	if err := b.DeleteFile(ctx, gcp.BucketCategoryVideo, "refs/_provisional/2_bbb"); err != nil {
		t.Fatalf("pre-delete: %v", err)
	}
	if err := deleteStale(ctx, b, stale); err != nil {
		t.Fatalf("deleteStale: %v", err)
	}
	for _, s := range stale {
		if !s.Deleted {
			t.Fatalf("%s not marked deleted", s.Key)
		}
		if _, ok := b.Content(s.Category, s.Key); ok {
			t.Fatalf("%s still present", s.Key)
		}
	}
	if _, ok := b.Content(gcp.BucketCategoryImage, "refs/vesper_5_eyes_20260101T000000_abcd1234.png"); !ok {
		t.Fatalf("final object was deleted")
	}
	if _, ok := b.Content(gcp.BucketCategoryImage, "other/_provisional/3_ccc"); !ok {
		t.Fatalf("provisional object outside the folder was deleted")
	}

	var table bytes.Buffer
	if err := writeTable(&table, stale); err != nil {
		t.Fatalf("writeTable: %v", err)
	}
	if !strings.Contains(table.String(), "2 deleted") {
		t.Fatalf("table = %q", table.String())
	}
}
