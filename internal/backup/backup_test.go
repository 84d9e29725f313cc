package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dukerupert/brokerdesk/internal/database"
	"github.com/dukerupert/brokerdesk/internal/store"
)

// mockS3Client implements ObjectStore in memory.
type mockS3Client struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	delErr  error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if m.delErr != nil {
		return nil, m.delErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3Client) ListObjectsV2(_ context.Context, input *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, aws.ToString(input.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(m.objects[k])))})
	}
	return out, nil
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var testCfg = Config{Bucket: "desk", AccessKey: "key", SecretKey: "secret", Passphrase: "backup-pass"}

func setupService(t *testing.T) (*Service, *mockS3Client, *store.SignupStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	client := newMockS3()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(client, testCfg, db, logger).WithClock(func() time.Time { return testNow })
	return svc, client, store.NewSignupStore(db)
}

func TestConfigEnabled(t *testing.T) {
	if (Config{}).Enabled() {
		t.Error("empty config should be disabled")
	}
	if !testCfg.Enabled() {
		t.Error("full config should be enabled")
	}
	noPass := testCfg
	noPass.Passphrase = ""
	if noPass.Enabled() {
		t.Error("config without passphrase should be disabled")
	}
}

func TestRunAndFetch(t *testing.T) {
	svc, client, signups := setupService(t)
	ctx := context.Background()

	if _, err := signups.UpsertPending(ctx, "a@x.com", "hash", "tok", testNow.Add(time.Hour)); err != nil {
		t.Fatalf("seed signup: %v", err)
	}

	a, err := svc.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if a.Key != "brokerdesk/backup-2026-03-01T120000Z.db.enc" {
		t.Errorf("key = %q", a.Key)
	}
	stored := client.objects[a.Key]
	if int64(len(stored)) != a.Size {
		t.Errorf("size = %d, stored %d", a.Size, len(stored))
	}
	if bytes.Contains(stored, []byte("SQLite format 3")) {
		t.Error("archive is not encrypted")
	}

	dst := filepath.Join(t.TempDir(), "restored.db")
	if err := svc.Fetch(ctx, a.Key, dst); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	restored, err := database.Open(dst)
	if err != nil {
		t.Fatalf("open restored: %v", err)
	}
	defer restored.Close()
	su, err := store.NewSignupStore(restored).GetByEmail(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("get restored signup: %v", err)
	}
	if su == nil {
		t.Error("expected signup in restored database")
	}
}

func TestRunUploadError(t *testing.T) {
	svc, client, _ := setupService(t)
	client.putErr = errors.New("bucket gone")

	if _, err := svc.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(client.objects) != 0 {
		t.Errorf("objects = %d, want 0", len(client.objects))
	}
}

func TestFetchWrongPassphrase(t *testing.T) {
	svc, client, _ := setupService(t)
	ctx := context.Background()

	a, err := svc.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	other := testCfg
	other.Passphrase = "not-it"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	wrong := NewService(client, other, nil, logger)

	err = wrong.Fetch(ctx, a.Key, filepath.Join(t.TempDir(), "x.db"))
	if !errors.Is(err, ErrDecrypt) {
		t.Errorf("fetch = %v, want ErrDecrypt", err)
	}
}

func TestFetchRejectsNonDatabase(t *testing.T) {
	svc, client, _ := setupService(t)

	sealed, _ := Seal([]byte(strings.Repeat("not a database ", 100)), testCfg.Passphrase)
	client.objects["brokerdesk/backup-2026-01-01T000000Z.db.enc"] = sealed

	err := svc.Fetch(context.Background(), "brokerdesk/backup-2026-01-01T000000Z.db.enc", filepath.Join(t.TempDir(), "x.db"))
	if err == nil {
		t.Fatal("expected integrity error")
	}
}

func TestListAndPrune(t *testing.T) {
	svc, client, _ := setupService(t)
	ctx := context.Background()

	for _, k := range []string{
		"brokerdesk/backup-2026-01-01T000000Z.db.enc",
		"brokerdesk/backup-2026-02-01T000000Z.db.enc",
		"brokerdesk/backup-2026-02-28T000000Z.db.enc",
		"brokerdesk/backup-garbage.db.enc",
		"other/backup-2026-01-01T000000Z.db.enc",
	} {
		client.objects[k] = []byte("x")
	}

	list, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("list len = %d, want 3", len(list))
	}
	if list[0].Key != "brokerdesk/backup-2026-02-28T000000Z.db.enc" {
		t.Errorf("newest = %q", list[0].Key)
	}

	deleted, err := svc.Prune(ctx, 14*24*time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(deleted) != 2 {
		t.Fatalf("deleted = %v, want 2 keys", deleted)
	}
	if _, ok := client.objects["brokerdesk/backup-2026-02-28T000000Z.db.enc"]; !ok {
		t.Error("expected recent archive kept")
	}
	if _, ok := client.objects["other/backup-2026-01-01T000000Z.db.enc"]; !ok {
		t.Error("expected foreign prefix untouched")
	}
}

func TestPruneKeepsNewestEvenIfOld(t *testing.T) {
	svc, client, _ := setupService(t)
	client.objects["brokerdesk/backup-2025-01-01T000000Z.db.enc"] = []byte("x")

	deleted, err := svc.Prune(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(deleted) != 0 {
		t.Errorf("deleted = %v, want none", deleted)
	}
}
