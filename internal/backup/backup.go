// Package backup ships encrypted snapshots of the brokerdesk database to
// S3-compatible storage and fetches them back for restore.
package backup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	_ "modernc.org/sqlite"
)

const keyTimeFormat = "2006-01-02T150405Z"

var ErrNotConfigured = errors.New("backup not configured: bucket, credentials and passphrase are required")

// ObjectStore is the subset of the S3 API used for archives.
type ObjectStore interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config holds S3-compatible storage settings.
type Config struct {
	Endpoint   string
	Bucket     string
	Region     string
	AccessKey  string
	SecretKey  string
	Prefix     string
	Passphrase string
}

func (c Config) Enabled() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != "" && c.Passphrase != ""
}

// NewS3Client builds a path-style client, which works with MinIO and R2 as
// well as AWS.
func NewS3Client(cfg Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Archive is one stored snapshot.
type Archive struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

type Service struct {
	client ObjectStore
	cfg    Config
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewService(client ObjectStore, cfg Config, db *sql.DB, logger *slog.Logger) *Service {
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	if cfg.Prefix == "" {
		cfg.Prefix = "brokerdesk"
	}
	return &Service{
		client: client,
		cfg:    cfg,
		db:     db,
		logger: logger.With("component", "backup"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the service clock. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Run snapshots the live database, encrypts it and uploads it.
func (s *Service) Run(ctx context.Context) (*Archive, error) {
	created := s.now()
	tmp, err := os.MkdirTemp("", "brokerdesk-backup-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	snapshot := filepath.Join(tmp, "snapshot.db")
	// VACUUM INTO copies a consistent view of the live WAL database
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, snapshot); err != nil {
		return nil, fmt.Errorf("snapshot database: %w", err)
	}
	plain, err := os.ReadFile(snapshot)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	sealed, err := Seal(plain, s.cfg.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("encrypt snapshot: %w", err)
	}

	key := path.Join(s.cfg.Prefix, fmt.Sprintf("backup-%s.db.enc", created.Format(keyTimeFormat)))
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
	})
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", key, err)
	}

	s.logger.Info("backup uploaded", "key", key, "size", len(sealed))
	return &Archive{Key: key, Size: int64(len(sealed)), CreatedAt: created}, nil
}

// List returns stored archives, newest first.
func (s *Service) List(ctx context.Context) ([]Archive, error) {
	var out []Archive
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(s.cfg.Prefix + "/backup-"),
	}
	for {
		page, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("list backups: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			created, ok := parseKeyTime(key)
			if !ok {
				continue
			}
			out = append(out, Archive{Key: key, Size: aws.ToInt64(obj.Size), CreatedAt: created})
		}
		if !aws.ToBool(page.IsTruncated) || page.NextContinuationToken == nil {
			break
		}
		input.ContinuationToken = page.NextContinuationToken
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func parseKeyTime(key string) (time.Time, bool) {
	name := strings.TrimSuffix(strings.TrimPrefix(path.Base(key), "backup-"), ".db.enc")
	t, err := time.Parse(keyTimeFormat, name)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Prune deletes archives older than retention, always keeping the newest.
func (s *Service) Prune(ctx context.Context, retention time.Duration) ([]string, error) {
	archives, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := s.now().Add(-retention)

	var deleted []string
	for i, a := range archives {
		if i == 0 || !a.CreatedAt.Before(cutoff) {
			continue
		}
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(a.Key),
		}); err != nil {
			s.logger.Error("delete backup", "key", a.Key, "error", err)
			continue
		}
		deleted = append(deleted, a.Key)
	}
	return deleted, nil
}

// Fetch downloads and decrypts an archive into dst and checks that it is a
// sound SQLite database. The live database is never touched.
func (s *Service) Fetch(ctx context.Context, key, dst string) error {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("download %s: %w", key, err)
	}
	defer result.Body.Close()

	sealed, err := io.ReadAll(result.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	plain, err := Open(sealed, s.cfg.Passphrase)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, plain, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	if err := checkIntegrity(ctx, dst); err != nil {
		os.Remove(dst)
		return err
	}
	s.logger.Info("backup fetched", "key", key, "dst", dst)
	return nil
}

func checkIntegrity(ctx context.Context, dbPath string) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open restored db: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// Loop runs a backup every interval and prunes archives past retention.
func (s *Service) Loop(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil {
				s.logger.Error("scheduled backup failed", "error", err)
				continue
			}
			if _, err := s.Prune(ctx, retention); err != nil {
				s.logger.Error("prune backups", "error", err)
			}
		}
	}
}
