// Package backup archives and restores the SQL dump for an instance to an
// S3-compatible object store, grounded on original_source's
// storage/backup.rs (R2/S3 client configured with a custom endpoint and
// path-style addressing, gzip-compressed dumps keyed by db_id and
// timestamp).
package backup

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithy "github.com/aws/smithy-go"

	"github.com/skeema/dbctl/internal/apperr"
)

// Config carries the object-store connection details, named for an
// R2-compatible endpoint the way the original's Config does, but usable
// against any S3-compatible provider.
type Config struct {
	AccountID       string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

// Store archives instance dumps to and restores them from object storage.
type Store struct {
	client *s3.Client
	bucket string
}

// New builds a Store from cfg, pointing the S3 client at
// https://{AccountID}.r2.cloudflarestorage.com with path-style addressing,
// mirroring the original's BackupManager::new.
func New(ctx context.Context, cfg Config) (*Store, error) {
	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)),
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// Key returns the object key a backup for dbID taken at t would use:
// backups/{db_id}/{YYYYMMDD_HHMMSS}.sql.gz
func Key(dbID string, t time.Time) string {
	return fmt.Sprintf("backups/%s/%s.sql.gz", dbID, t.UTC().Format("20060102_150405"))
}

// Upload gzip-compresses sqlDump and stores it at Key(dbID, now), returning
// the object key and compressed size in bytes.
func (s *Store) Upload(ctx context.Context, dbID string, sqlDump []byte, now time.Time) (key string, sizeBytes int64, err error) {
	compressed, err := compressGzip(sqlDump)
	if err != nil {
		return "", 0, apperr.Wrap(apperr.BackupFailed, err)
	}
	key = Key(dbID, now)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(compressed),
		ContentType: aws.String("application/gzip"),
	})
	if err != nil {
		return "", 0, apperr.Wrap(apperr.BackupFailed, err)
	}
	return key, int64(len(compressed)), nil
}

// Download fetches and gunzips the backup at key, returning the raw SQL dump.
func (s *Store) Download(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.New(apperr.BackupNotFound, key)
		}
		return nil, apperr.Wrap(apperr.RestoreFailed, err)
	}
	defer out.Body.Close()

	compressed, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.RestoreFailed, err)
	}
	return decompressGzip(compressed)
}

// Exists reports whether a backup object is present at key.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, apperr.Wrap(apperr.Storage, err)
}

// Delete removes the backup object at key.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return apperr.Wrap(apperr.Storage, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func compressGzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressGzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Wrap(apperr.RestoreFailed, err)
	}
	defer r.Close()
	decompressed, err := io.ReadAll(r)
	if err != nil {
		return nil, apperr.Wrap(apperr.RestoreFailed, err)
	}
	return decompressed, nil
}
