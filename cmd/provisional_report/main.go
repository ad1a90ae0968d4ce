package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/yungbote/studio-ingest/internal/ingest/upload"
	"github.com/yungbote/studio-ingest/internal/platform/envutil"
	"github.com/yungbote/studio-ingest/internal/platform/gcp"
	"github.com/yungbote/studio-ingest/internal/platform/logger"
)

var (
	folderFlag    string
	olderThanFlag time.Duration
	jsonFlag      bool
	deleteFlag    bool
)

var rootCmd = &cobra.Command{
	Use:   "provisional_report",
	Short: "List provisional objects that were never promoted",
	Long: "Lists objects under <folder>/_provisional/ older than a threshold in both bucket categories.\n" +
		"Nothing is deleted unless --delete is passed; the default output is meant for review.",
	RunE: runReport,
}

func init() {
	rootCmd.Flags().StringVar(&folderFlag, "folder", envutil.String("INGEST_FOLDER", "visual-bible"), "asset folder to scan")
	rootCmd.Flags().DurationVar(&olderThanFlag, "older-than", 24*time.Hour, "only report objects created before now minus this")
	rootCmd.Flags().BoolVar(&jsonFlag, "json", false, "print JSON lines instead of a table")
	rootCmd.Flags().BoolVar(&deleteFlag, "delete", false, "delete the reported objects after listing them")
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runReport(cmd *cobra.Command, args []string) error {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	bucket, err := gcp.NewBucketService(log)
	if err != nil {
		return fmt.Errorf("init bucket: %w", err)
	}
	defer bucket.Close()

	stale, err := findStale(cmd.Context(), bucket, folderFlag, olderThanFlag, time.Now())
	if err != nil {
		return err
	}
	var deleteErr error
	if deleteFlag {
		deleteErr = deleteStale(cmd.Context(), bucket, stale)
		log.Info("provisional cleanup finished", "folder", folderFlag, "objects", len(stale), "error", deleteErr)
	}
	if jsonFlag {
		err = writeJSON(cmd.OutOrStdout(), stale)
	} else {
		err = writeTable(cmd.OutOrStdout(), stale)
	}
	return errors.Join(err, deleteErr)
}

type staleObject struct {
	Category gcp.BucketCategory `json:"category"`
	Key      string             `json:"key"`
	Size     int64              `json:"size"`
	Created  time.Time          `json:"created"`
	Age      string             `json:"age"`
	Deleted  bool               `json:"deleted,omitempty"`
}

func findStale(ctx context.Context, bucket gcp.BucketService, folder string, olderThan time.Duration, now time.Time) ([]staleObject, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cutoff := now.Add(-olderThan)
	prefix := upload.ProvisionalPrefix(folder)
	var out []staleObject
	for _, cat := range []gcp.BucketCategory{gcp.BucketCategoryImage, gcp.BucketCategoryVideo} {
		objs, err := bucket.ListObjects(ctx, cat, prefix)
		if err != nil {
			return nil, fmt.Errorf("list %s objects: %w", cat, err)
		}
		for _, o := range objs {
			if !upload.IsProvisionalKey(o.Name) || !o.Created.Before(cutoff) {
				continue
			}
			out = append(out, staleObject{
				Category: cat,
				Key:      o.Name,
				Size:     o.Size,
				Created:  o.Created,
				Age:      now.Sub(o.Created).Truncate(time.Minute).String(),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out, nil
}

// deleteStale removes each row's object and marks it Deleted. Objects already
// gone count as deleted; other failures are collected and the rest continue.
func deleteStale(ctx context.Context, bucket gcp.BucketService, rows []staleObject) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var errs []error
	for i := range rows {
		err := bucket.DeleteFile(ctx, rows[i].Category, rows[i].Key)
		if err != nil && !gcp.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("delete %s object %s: %w", rows[i].Category, rows[i].Key, err))
			continue
		}
		rows[i].Deleted = true
	}
	return errors.Join(errs...)
}

func writeJSON(w io.Writer, rows []staleObject) error {
	enc := json.NewEncoder(w)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func writeTable(w io.Writer, rows []staleObject) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tKEY\tBYTES\tAGE\tDELETED")
	var total int64
	deleted := 0
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%t\n", r.Category, r.Key, r.Size, r.Age, r.Deleted)
		total += r.Size
		if r.Deleted {
			deleted++
		}
	}
	fmt.Fprintf(tw, "\n%d objects\t\t%d\t\t%d deleted\n", len(rows), total, deleted)
	return tw.Flush()
}
