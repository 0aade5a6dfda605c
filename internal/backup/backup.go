// Package backup snapshots the SQLite database and uploads it to
// S3-compatible storage, optionally encrypted, with age-based retention.
package backup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/dukerupert/homebank/internal/clock"
)

// ErrInProgress is returned by Run when another backup has not finished.
var ErrInProgress = errors.New("backup already in progress")

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

func (c S3Config) complete() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

type Config struct {
	S3 S3Config
	// Prefix is prepended to every object key.
	Prefix string
	// Passphrase, when set, encrypts snapshots with Argon2id + AES-256-GCM.
	Passphrase string
	// RetentionDays removes uploaded snapshots older than this. Zero keeps everything.
	RetentionDays int
}

type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

type Status struct {
	State      State      `json:"state"`
	LastBackup *time.Time `json:"last_backup,omitempty"`
	LastKey    string     `json:"last_key,omitempty"`
	Error      string     `json:"error,omitempty"`
	InProgress bool       `json:"in_progress"`
}

// StatusCallback is called whenever the backup state changes.
type StatusCallback func(Status)

// Result describes one uploaded snapshot.
type Result struct {
	Key       string `json:"key"`
	SizeBytes int64  `json:"size_bytes"`
	Encrypted bool   `json:"encrypted"`
}

// Manager runs database backups to S3-compatible storage.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	status   Status
	callback StatusCallback

	db     *sql.DB
	client s3Client
	clock  clock.Clock
	logger *slog.Logger
}

func NewManager(cfg Config, db *sql.DB, clk clock.Clock, logger *slog.Logger, callback StatusCallback) *Manager {
	m := &Manager{
		cfg:      cfg,
		db:       db,
		clock:    clk,
		logger:   logger,
		callback: callback,
		status:   Status{State: StateDisabled},
	}
	if cfg.Prefix == "" {
		m.cfg.Prefix = "homebank"
	}
	if cfg.S3.complete() {
		m.client = newS3Client(cfg.S3)
		m.status.State = StateIdle
	}
	return m
}

func newS3Client(cfg S3Config) *s3.Client {
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

func (m *Manager) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client != nil
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
	if m.callback != nil {
		m.callback(s)
	}
}

// begin flips the manager into the running state, failing if it is
// disabled or already running.
func (m *Manager) begin() (s3Client, Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil, m.status, fmt.Errorf("backup not configured: S3 credentials missing")
	}
	if m.status.InProgress {
		return nil, m.status, ErrInProgress
	}
	prev := m.status
	m.status = Status{State: StateRunning, InProgress: true, LastBackup: prev.LastBackup, LastKey: prev.LastKey}
	return m.client, prev, nil
}

func (m *Manager) fail(prev Status, err error) {
	m.setStatus(Status{State: StateError, LastBackup: prev.LastBackup, LastKey: prev.LastKey, Error: err.Error()})
}

// Run takes a consistent snapshot with VACUUM INTO, encrypts it when a
// passphrase is configured, and uploads it under a timestamped key.
func (m *Manager) Run(ctx context.Context) (*Result, error) {
	client, prev, err := m.begin()
	if err != nil {
		return nil, err
	}
	if m.callback != nil {
		m.callback(m.Status())
	}

	data, err := m.snapshot(ctx)
	if err != nil {
		m.fail(prev, err)
		return nil, err
	}

	now := m.clock.Now().UTC()
	key := fmt.Sprintf("%s/backup-%s-%s.db", m.cfg.Prefix, now.Format("2006-01-02T150405Z"), uuid.NewString()[:8])
	encrypted := m.cfg.Passphrase != ""
	if encrypted {
		if data, err = seal(data, m.cfg.Passphrase); err != nil {
			m.fail(prev, err)
			return nil, fmt.Errorf("encrypt snapshot: %w", err)
		}
		key += ".enc"
	}

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.S3.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		m.fail(prev, err)
		return nil, fmt.Errorf("upload to s3: %w", err)
	}

	m.setStatus(Status{State: StateIdle, LastBackup: &now, LastKey: key})
	m.logger.Info("backup uploaded", "key", key, "bytes", len(data), "encrypted", encrypted)
	return &Result{Key: key, SizeBytes: int64(len(data)), Encrypted: encrypted}, nil
}

func (m *Manager) snapshot(ctx context.Context) ([]byte, error) {
	dir, err := os.MkdirTemp("", "homebank-backup-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "snapshot.db")
	if _, err := m.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return nil, fmt.Errorf("vacuum into snapshot: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

// Cleanup deletes uploaded snapshots older than the retention period and
// returns how many were removed.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()
	if client == nil || m.cfg.RetentionDays <= 0 {
		return 0, nil
	}

	cutoff := m.clock.Now().UTC().AddDate(0, 0, -m.cfg.RetentionDays)
	removed := 0
	var token *string
	for {
		out, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(m.cfg.S3.Bucket),
			Prefix:            aws.String(m.cfg.Prefix + "/backup-"),
			ContinuationToken: token,
		})
		if err != nil {
			return removed, fmt.Errorf("list backups: %w", err)
		}

		for _, obj := range out.Contents {
			if obj.Key == nil || obj.LastModified == nil || !obj.LastModified.Before(cutoff) {
				continue
			}
			if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(m.cfg.S3.Bucket),
				Key:    obj.Key,
			}); err != nil {
				m.logger.Warn("delete old backup", "key", *obj.Key, "error", err)
				continue
			}
			removed++
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}

	if removed > 0 {
		m.logger.Info("old backups removed", "count", removed, "older_than", cutoff)
	}
	return removed, nil
}
