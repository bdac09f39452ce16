// Package objectstore persists the ledger in an S3-compatible bucket.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/specialistvlad/deploygrid/internal/ledger"
)

const formatVersion = 1

// Config selects the bucket and credentials.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	Prefix    string
	Network   string
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("object ledger: endpoint is required")
	}
	if c.Bucket == "" {
		return errors.New("object ledger: bucket is required")
	}
	if c.Network == "" {
		return errors.New("object ledger: network is required")
	}
	return nil
}

type document struct {
	Version int                      `json:"version"`
	Network string                   `json:"network"`
	Records map[string]ledger.Record `json:"records"`
}

type lockInfo struct {
	Owner    string    `json:"owner"`
	Acquired time.Time `json:"acquired"`
}

// Store is a ledger.Store backed by two objects: the ledger document and a
// lock marker.
type Store struct {
	client  *minio.Client
	bucket  string
	network string
	prefix  string
	owner   string
}

// New connects to the endpoint and makes sure the bucket exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("object ledger client: %w", err)
	}
	if err := ensureBucket(ctx, client, cfg.Bucket, cfg.Region); err != nil {
		return nil, fmt.Errorf("ensure bucket %q: %w", cfg.Bucket, err)
	}

	return &Store{
		client:  client,
		bucket:  cfg.Bucket,
		network: cfg.Network,
		prefix:  cfg.Prefix,
		owner:   uuid.NewString(),
	}, nil
}

// LedgerKey is the object key of the ledger document.
func (s *Store) LedgerKey() string { return objectKey(s.prefix, s.network, "ledger.json") }

func (s *Store) lockKey() string { return objectKey(s.prefix, s.network, "ledger.lock") }

// Lock implements ledger.Store. The lock object is written and read back; a
// different owner in the read-back means another run won the race.
func (s *Store) Lock(ctx context.Context) error {
	if _, err := s.client.StatObject(ctx, s.bucket, s.lockKey(), minio.StatObjectOptions{}); err == nil {
		return fmt.Errorf("%w: s3://%s/%s exists", ledger.ErrLocked, s.bucket, s.lockKey())
	} else if !isNotFound(err) {
		return fmt.Errorf("stat lock: %w", err)
	}

	data, err := json.Marshal(lockInfo{Owner: s.owner, Acquired: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := s.put(ctx, s.lockKey(), data); err != nil {
		return fmt.Errorf("write lock: %w", err)
	}

	holder, err := s.readLock(ctx)
	if err != nil {
		return fmt.Errorf("confirm lock: %w", err)
	}
	if holder.Owner != s.owner {
		return fmt.Errorf("%w: lost lock race to %s", ledger.ErrLocked, holder.Owner)
	}
	return nil
}

// Unlock implements ledger.Store.
func (s *Store) Unlock(ctx context.Context) error {
	holder, err := s.readLock(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("read lock: %w", err)
	}
	if holder.Owner != s.owner {
		return fmt.Errorf("lock is held by %s", holder.Owner)
	}
	return s.client.RemoveObject(ctx, s.bucket, s.lockKey(), minio.RemoveObjectOptions{})
}

// Load implements ledger.Store.
func (s *Store) Load(ctx context.Context) (map[string]ledger.Record, error) {
	data, err := s.get(ctx, s.LedgerKey())
	if err != nil {
		if isNotFound(err) {
			return map[string]ledger.Record{}, nil
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return decodeDocument(data)
}

// Save implements ledger.Store.
func (s *Store) Save(ctx context.Context, records map[string]ledger.Record) error {
	data, err := encodeDocument(s.network, records)
	if err != nil {
		return err
	}
	return s.put(ctx, s.LedgerKey(), data)
}

func (s *Store) readLock(ctx context.Context) (lockInfo, error) {
	var info lockInfo
	data, err := s.get(ctx, s.lockKey())
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("unreadable lock object: %w", err)
	}
	return info, nil
}

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

func (s *Store) put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	return err
}

func encodeDocument(network string, records map[string]ledger.Record) ([]byte, error) {
	if records == nil {
		records = map[string]ledger.Record{}
	}
	return json.MarshalIndent(document{Version: formatVersion, Network: network, Records: records}, "", "  ")
}

func decodeDocument(data []byte) (map[string]ledger.Record, error) {
	var doc document
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrCorrupt, err)
	}
	if doc.Version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ledger.ErrCorrupt, doc.Version)
	}
	if doc.Records == nil {
		doc.Records = map[string]ledger.Record{}
	}
	return doc.Records, nil
}

func objectKey(prefix, network, name string) string {
	return path.Join(prefix, network, name)
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
