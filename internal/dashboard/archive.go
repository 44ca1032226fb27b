// v1
// internal/dashboard/archive.go
package dashboard

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"homemon/internal/reading"
	"homemon/internal/store"
)

// Uploader stores an object under key.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) error
}

type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader writes archive objects to a bucket.
type S3Uploader struct {
	client s3API
	bucket string
}

// NewS3Uploader loads the default AWS configuration (environment, shared
// files, instance role). region overrides the configured region when set.
func NewS3Uploader(ctx context.Context, bucket, region string) (*S3Uploader, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return &S3Uploader{client: client, bucket: bucket}, nil
}

func (u *S3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", u.bucket, key, err)
	}
	return nil
}

// Archiver writes readings about to be pruned as one CSV object.
type Archiver struct {
	up      Uploader
	prefix  string
	metrics *Metrics
	log     *slog.Logger
}

func NewArchiver(up Uploader, prefix string, metrics *Metrics, log *slog.Logger) *Archiver {
	return &Archiver{up: up, prefix: prefix, metrics: metrics, log: log.With("component", "archive")}
}

// Key is the object key for a prune at cutoff.
func (a *Archiver) Key(cutoff time.Time) string {
	return path.Join(a.prefix, "readings-"+cutoff.UTC().Format("20060102T150405Z")+".csv")
}

// Archive uploads rows and returns the object key.
func (a *Archiver) Archive(ctx context.Context, cutoff time.Time, rows []store.Stored) (string, error) {
	key := a.Key(cutoff)
	body, err := EncodeCSV(rows)
	if err != nil {
		return "", err
	}
	if err := a.up.Upload(ctx, key, body, "text/csv"); err != nil {
		a.metrics.ArchiveUploaded(false)
		a.log.Error("archive_upload_failed", slog.String("key", key), slog.Any("err", err))
		return "", err
	}
	a.metrics.ArchiveUploaded(true)
	a.log.Info("archive_uploaded", slog.String("key", key), slog.Int("rows", len(rows)))
	return key, nil
}

// EncodeCSV renders rows with the monitor_readings column names.
func EncodeCSV(rows []store.Stored) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"id", "datetime", "rawvalue", "voltage", "pressure"})
	for _, r := range rows {
		_ = w.Write([]string{
			r.ID,
			r.Timestamp.UTC().Format(reading.WireTimeLayout),
			strconv.FormatInt(r.RawValue, 10),
			strconv.FormatFloat(r.Voltage, 'f', -1, 64),
			strconv.FormatFloat(r.Pressure, 'f', -1, 64),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("encode archive csv: %w", err)
	}
	return buf.Bytes(), nil
}
