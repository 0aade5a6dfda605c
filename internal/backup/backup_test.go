package backup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dukerupert/homebank/internal/clock"
	"github.com/dukerupert/homebank/internal/database"
	"github.com/dukerupert/homebank/internal/logging"
)

var testNow = time.Date(2024, 3, 10, 3, 0, 0, 0, time.UTC)

type storedObject struct {
	data     []byte
	modified time.Time
}

// mockS3Client implements s3Client for testing.
type mockS3Client struct {
	mu      sync.Mutex
	clock   clock.Clock
	objects map[string]storedObject
	putErr  error
	delErr  error
}

func newMockS3(clk clock.Clock) *mockS3Client {
	return &mockS3Client{clock: clk, objects: make(map[string]storedObject)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = storedObject{data: data, modified: m.clock.Now()}
	return &s3.PutObjectOutput{}, nil
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
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			LastModified: aws.Time(m.objects[k].modified),
		})
	}
	return out, nil
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

func (m *mockS3Client) only(t *testing.T) (string, []byte) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.objects) != 1 {
		t.Fatalf("stored %d objects, want 1", len(m.objects))
	}
	for k, o := range m.objects {
		return k, o.data
	}
	return "", nil
}

var testS3 = S3Config{Bucket: "test", AccessKey: "key", SecretKey: "secret"}

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(`INSERT INTO users (email, name, password_hash, role) VALUES ('kid@example.com', 'Kid', 'x', 'child')`); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return db
}

func newTestManager(t *testing.T, cfg Config, cb StatusCallback) (*Manager, *mockS3Client, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(testNow)
	m := NewManager(cfg, setupDB(t), clk, logging.Discard(), cb)
	mock := newMockS3(clk)
	m.client = mock
	return m, mock, clk
}

func TestManagerState(t *testing.T) {
	m := NewManager(Config{}, nil, clock.Real{}, logging.Discard(), nil)
	if m.Status().State != StateDisabled {
		t.Errorf("state = %q, want %q", m.Status().State, StateDisabled)
	}
	if m.Enabled() {
		t.Error("manager without S3 settings should be disabled")
	}
	if _, err := m.Run(context.Background()); err == nil {
		t.Error("run without S3 settings should fail")
	}

	m2 := NewManager(Config{S3: testS3}, nil, clock.Real{}, logging.Discard(), nil)
	if m2.Status().State != StateIdle {
		t.Errorf("state = %q, want %q", m2.Status().State, StateIdle)
	}
}

func TestRunUploadsSnapshot(t *testing.T) {
	var states []State
	var mu sync.Mutex
	cb := func(s Status) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	}
	m, mock, _ := newTestManager(t, Config{S3: testS3}, cb)

	res, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Encrypted {
		t.Error("snapshot should not be encrypted without a passphrase")
	}
	if !strings.HasPrefix(res.Key, "homebank/backup-2024-03-10T030000Z-") || !strings.HasSuffix(res.Key, ".db") {
		t.Errorf("key = %q", res.Key)
	}

	key, data := mock.only(t)
	if key != res.Key {
		t.Errorf("stored key = %q, want %q", key, res.Key)
	}
	if !bytes.HasPrefix(data, []byte("SQLite format 3\x00")) {
		t.Error("snapshot is not a SQLite database")
	}
	if int64(len(data)) != res.SizeBytes {
		t.Errorf("size = %d, want %d", res.SizeBytes, len(data))
	}

	st := m.Status()
	if st.State != StateIdle || st.LastBackup == nil || st.LastKey != res.Key {
		t.Errorf("status = %+v", st)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) != 2 || states[0] != StateRunning || states[1] != StateIdle {
		t.Errorf("callback states = %v, want [running idle]", states)
	}
}

func TestRunEncrypted(t *testing.T) {
	m, mock, _ := newTestManager(t, Config{S3: testS3, Passphrase: "correct horse"}, nil)

	res, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Encrypted || !strings.HasSuffix(res.Key, ".db.enc") {
		t.Errorf("result = %+v", res)
	}

	_, data := mock.only(t)
	if bytes.HasPrefix(data, []byte("SQLite format 3")) {
		t.Fatal("encrypted snapshot stored in the clear")
	}
	plain, err := Open(data, "correct horse")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.HasPrefix(plain, []byte("SQLite format 3\x00")) {
		t.Error("decrypted snapshot is not a SQLite database")
	}

	if _, err := Open(data, "wrong"); err == nil {
		t.Error("wrong passphrase should fail")
	}
}

func TestRunUploadFailure(t *testing.T) {
	m, mock, _ := newTestManager(t, Config{S3: testS3}, nil)
	mock.putErr = errors.New("bucket gone")

	if _, err := m.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	st := m.Status()
	if st.State != StateError || st.InProgress {
		t.Errorf("status = %+v", st)
	}

	mock.putErr = nil
	if _, err := m.Run(context.Background()); err != nil {
		t.Errorf("run after failure: %v", err)
	}
}

func TestRunRejectsOverlap(t *testing.T) {
	m, _, _ := newTestManager(t, Config{S3: testS3}, nil)
	m.status.InProgress = true

	if _, err := m.Run(context.Background()); !errors.Is(err, ErrInProgress) {
		t.Errorf("err = %v, want ErrInProgress", err)
	}
}

func TestCleanupRetention(t *testing.T) {
	m, mock, clk := newTestManager(t, Config{S3: testS3, RetentionDays: 7}, nil)

	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("old run: %v", err)
	}
	clk.Advance(10 * 24 * time.Hour)
	fresh, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("fresh run: %v", err)
	}
	mock.objects["elsewhere/keep.txt"] = storedObject{modified: testNow.AddDate(-1, 0, 0)}

	removed, err := m.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, ok := mock.objects[fresh.Key]; !ok {
		t.Error("fresh backup deleted")
	}
	if _, ok := mock.objects["elsewhere/keep.txt"]; !ok {
		t.Error("object outside the prefix deleted")
	}
}

func TestCleanupDisabledRetention(t *testing.T) {
	m, _, _ := newTestManager(t, Config{S3: testS3}, nil)

	removed, err := m.Cleanup(context.Background())
	if err != nil || removed != 0 {
		t.Errorf("cleanup = %d, %v; want 0, nil", removed, err)
	}
}
