// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package s3meta wraps metastore.SQLite with a SQLite file that lives in an
// S3 bucket under a fixed key, syncing on every mutation and guarding
// concurrent writers with the object's ETag the way kss.S3 guards KSS
// uploads -- generalized from key/blob PutObject calls to a whole-database
// upload with optimistic concurrency instead of per-key idempotent puts.
package s3meta

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/HYChou0515/autocrud-sub001/logger"
	"github.com/HYChou0515/autocrud-sub001/metastore"
	"github.com/HYChou0515/autocrud-sub001/query"
	"github.com/HYChou0515/autocrud-sub001/resource"
)

// S3API is the subset of the AWS SDK v2 S3 client this package calls,
// narrowed so tests can substitute a fake without dragging in a live bucket.
type S3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ClientConfig configures the real AWS SDK v2 client NewS3Client builds.
// Region and credentials follow the same optional-override pattern as
// kss.NewS3: empty AccessID/AccessKey fall through to the SDK's default
// credential chain (environment, instance profile, shared config file).
type ClientConfig struct {
	Region     string
	AccessID   string
	AccessKey  string
	Endpoint   string // non-empty for S3-compatible stores (e.g. MinIO)
	PathStyle  bool   // required by most S3-compatible stores
}

// NewS3Client builds a live *s3.Client from ClientConfig, the production
// counterpart to the fakeS3 test double.
func NewS3Client(ctx context.Context, cfg ClientConfig) (*s3.Client, error) {
	options := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessID != "" {
		options = append(options, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessID, cfg.AccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	}), nil
}

// Config configures a Store.
type Config struct {
	Bucket               string
	Key                  string
	LocalPath            string // temp file the SQLite database is opened from
	Table                string
	SyncInterval         time.Duration // 0 = sync immediately after every mutation
	AutoReloadOnConflict bool
	CheckETagOnRead       bool
}

// Store is a MetaStore backed by a SQLite file synced to S3, implementing
// metastore.Store.
type Store struct {
	api    S3API
	cfg    Config
	sqlite *metastore.SQLite

	mu             sync.Mutex
	etag           string
	lastSync       time.Time
	lastETagCheck  time.Time
	dirtySinceSync bool
}

// Open downloads the database object if present (capturing its ETag), or
// creates a fresh local database with the full schema if the key is absent.
func Open(ctx context.Context, api S3API, cfg Config) (*Store, error) {
	s := &Store{api: api, cfg: cfg}
	if err := s.bootstrap(ctx); err != nil {
		return nil, err
	}
	sqlite, err := metastore.OpenSQLite(cfg.LocalPath, cfg.Table)
	if err != nil {
		return nil, err
	}
	s.sqlite = sqlite
	return s, nil
}

func (s *Store) bootstrap(ctx context.Context) error {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.cfg.Bucket), Key: aws.String(s.cfg.Key)})
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.cfg.LocalPath, data, 0o644); err != nil {
		return err
	}
	if out.ETag != nil {
		s.etag = *out.ETag
	}
	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound")
}

// Close runs one final sync and removes the local temp file.
func (s *Store) Close(ctx context.Context) error {
	err := s.Sync(ctx, false)
	s.sqlite.Close()
	os.Remove(s.cfg.LocalPath)
	return err
}

// Get implements metastore.Store.
func (s *Store) Get(resourceID string) (resource.ResourceMeta, error) {
	s.maybeCheckETag(context.Background())
	return s.sqlite.Get(resourceID)
}

// Exists implements metastore.Store.
func (s *Store) Exists(resourceID string) (bool, error) {
	s.maybeCheckETag(context.Background())
	return s.sqlite.Exists(resourceID)
}

// Search implements metastore.Store.
func (s *Store) Search(q query.Query) ([]resource.ResourceMeta, int, error) {
	s.maybeCheckETag(context.Background())
	return s.sqlite.Search(q)
}

// Put implements metastore.Store, syncing afterward per cfg.SyncInterval.
func (s *Store) Put(meta resource.ResourceMeta) error {
	if err := s.sqlite.Put(meta); err != nil {
		return err
	}
	return s.afterMutation(context.Background())
}

// Delete implements metastore.Store, syncing afterward per cfg.SyncInterval.
func (s *Store) Delete(resourceID string) error {
	if err := s.sqlite.Delete(resourceID); err != nil {
		return err
	}
	return s.afterMutation(context.Background())
}

func (s *Store) afterMutation(ctx context.Context) error {
	s.mu.Lock()
	s.dirtySinceSync = true
	due := s.cfg.SyncInterval <= 0 || time.Since(s.lastSync) >= s.cfg.SyncInterval
	s.mu.Unlock()
	if !due {
		return nil
	}
	return s.Sync(ctx, false)
}

// maybeCheckETag runs a throttled (at most once/second) HEAD to detect
// upstream changes and silently reload; a 404 is ignored so reads are never
// blocked by a missing object.
func (s *Store) maybeCheckETag(ctx context.Context) {
	if !s.cfg.CheckETagOnRead {
		return
	}
	s.mu.Lock()
	if time.Since(s.lastETagCheck) < time.Second {
		s.mu.Unlock()
		return
	}
	s.lastETagCheck = time.Now()
	localETag := s.etag
	s.mu.Unlock()

	out, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.cfg.Bucket), Key: aws.String(s.cfg.Key)})
	if isNotFound(err) {
		return
	}
	if err != nil || out.ETag == nil || *out.ETag == localETag {
		return
	}
	if err := s.reload(ctx); err != nil {
		logger.Default().WithError(err).Error("s3meta: reload on read-path etag mismatch failed")
	}
}

func (s *Store) reload(ctx context.Context) error {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.cfg.Bucket), Key: aws.String(s.cfg.Key)})
	if err != nil {
		return err
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return err
	}
	s.sqlite.Close()
	if err := os.WriteFile(s.cfg.LocalPath, data, 0o644); err != nil {
		return err
	}
	sqlite, err := metastore.OpenSQLite(s.cfg.LocalPath, s.cfg.Table)
	if err != nil {
		return err
	}
	s.sqlite = sqlite
	s.mu.Lock()
	if out.ETag != nil {
		s.etag = *out.ETag
	}
	s.dirtySinceSync = false
	s.mu.Unlock()
	return nil
}

// Sync uploads the local database file, enforcing the ETag match unless
// force is set. A mismatch either reloads (cfg.AutoReloadOnConflict) and
// returns S3Conflict so the caller retries its write, or simply refuses the
// upload.
func (s *Store) Sync(ctx context.Context, force bool) error {
	s.mu.Lock()
	if !s.dirtySinceSync && !force {
		s.mu.Unlock()
		return nil
	}
	localETag := s.etag
	s.mu.Unlock()

	if !force {
		head, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.cfg.Bucket), Key: aws.String(s.cfg.Key)})
		switch {
		case isNotFound(err):
			// no remote object yet; proceed to upload unconditionally.
		case err != nil:
			return err
		case head.ETag != nil && *head.ETag != localETag:
			if s.cfg.AutoReloadOnConflict {
				if err := s.reload(ctx); err != nil {
					return err
				}
			}
			return resource.NewError(resource.KindS3Conflict, "s3meta: remote object %s/%s changed since last sync", s.cfg.Bucket, s.cfg.Key)
		}
	}

	data, err := os.ReadFile(s.cfg.LocalPath)
	if err != nil {
		return err
	}
	out, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.cfg.Key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	if out.ETag != nil {
		s.etag = *out.ETag
	}
	s.lastSync = time.Now()
	s.dirtySinceSync = false
	s.mu.Unlock()
	return nil
}
