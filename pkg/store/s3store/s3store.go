// Package s3store keeps values as objects in an S3 bucket.
//
// Example usage:
//
//	client := s3.New(s3.Options{Region: "eu-west-1", Credentials: creds})
//	adapter := s3store.New(client, "my-bucket", s3store.WithPrefix("pulse/"))
//
// S3 has no push notifications to offer here, so Watch polls the prefix and
// compares ETags.
package s3store

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/vango-dev/pulse/internal/errors"
	"github.com/vango-dev/pulse/pkg/store"
)

// DefaultPollInterval is how often Watch lists the prefix.
const DefaultPollInterval = 2 * time.Second

// originMetadata is the object metadata key carrying the writer's origin.
const originMetadata = "pulse-origin"

// API is the subset of *s3.Client used by Store.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

var _ API = (*s3.Client)(nil)

// Store is one context's handle on a bucket prefix.
type Store struct {
	api      API
	bucket   string
	prefix   string
	origin   string
	interval time.Duration
	logger   *slog.Logger

	// mu guards pollers and their own maps.
	mu      sync.Mutex
	pollers map[*poller]struct{}
}

// poller is the state of one Watch call.
type poller struct {
	known map[string]object

	// own maps keys to the ETag of this context's latest write ("" for a
	// delete) so polling can skip them. Every write is recorded in each
	// live poller.
	own map[string]string
}

var _ store.Adapter = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithPrefix places every key under prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithPollInterval sets the Watch polling period.
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger sets the logger for polling failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Store on bucket.
func New(api API, bucket string, opts ...Option) *Store {
	s := &Store{
		api:      api,
		bucket:   bucket,
		origin:   uuid.NewString(),
		interval: DefaultPollInterval,
		pollers:  make(map[*poller]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default().With("component", "s3store", "bucket", bucket)
	}
	return s
}

// Origin returns the identifier stamped on this context's writes.
func (s *Store) Origin() string {
	return s.origin
}

func (s *Store) objectKey(key string) string {
	return s.prefix + key
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return stderrors.As(err, &nsk) || stderrors.As(err, &nf)
}

// Load implements store.Adapter.
func (s *Store) Load(ctx context.Context, key string) ([]byte, bool, error) {
	data, _, ok, err := s.get(ctx, key)
	return data, ok, err
}

func (s *Store) get(ctx context.Context, key string) ([]byte, string, bool, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, "", false, nil
		}
		return nil, "", false, errors.New(errors.CodeBackend).WithDetailf("s3 get %q", key).Wrap(err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", false, errors.New(errors.CodeBackend).WithDetailf("s3 read %q", key).Wrap(err)
	}
	return data, aws.ToString(out.ETag), true, nil
}

// Store implements store.Adapter.
func (s *Store) Store(ctx context.Context, key string, data []byte) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}

	out, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			originMetadata: s.origin,
		},
	})
	if err != nil {
		return errors.New(errors.CodeBackend).WithDetailf("s3 put %q", key).Wrap(err)
	}

	s.remember(key, aws.ToString(out.ETag))
	return nil
}

// Delete implements store.Adapter.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil && !isNotFound(err) {
		return errors.New(errors.CodeBackend).WithDetailf("s3 delete %q", key).Wrap(err)
	}

	s.remember(key, "")
	return nil
}

// object is what the poller remembers about one key.
type object struct {
	etag string
	data []byte
}

// list returns the ETag of every object under the prefix, keyed by key.
func (s *Store) list(ctx context.Context) (map[string]string, error) {
	etags := make(map[string]string)
	paginator := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			name := aws.ToString(obj.Key)
			key := strings.TrimPrefix(name, s.prefix)
			if key == "" {
				continue
			}
			etags[key] = aws.ToString(obj.ETag)
		}
	}
	return etags, nil
}

func (s *Store) remember(key, etag string) {
	s.mu.Lock()
	for p := range s.pollers {
		p.own[key] = etag
	}
	s.mu.Unlock()
}

// newPoller registers a poller starting from known.
func (s *Store) newPoller(known map[string]object) *poller {
	p := &poller{known: known, own: make(map[string]string)}
	s.mu.Lock()
	s.pollers[p] = struct{}{}
	s.mu.Unlock()
	return p
}

func (s *Store) release(p *poller) {
	s.mu.Lock()
	delete(s.pollers, p)
	s.mu.Unlock()
}

// mine reports whether etag ("" for deleted) is this context's latest write
// as recorded for p.
func (s *Store) mine(p *poller, key, etag string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	own, ok := p.own[key]
	if !ok {
		return false
	}
	delete(p.own, key)
	return own == etag
}

// Watch implements store.Adapter by polling.
func (s *Store) Watch(ctx context.Context, fn func(store.Change)) (func(), error) {
	// Register before listing so no write falls between the two.
	p := s.newPoller(make(map[string]object))

	etags, err := s.list(ctx)
	if err != nil {
		s.release(p)
		return nil, errors.New(errors.CodeBackend).WithDetail("s3 list " + s.prefix).Wrap(err)
	}
	for key, etag := range etags {
		data, _, ok, err := s.get(ctx, key)
		if err != nil {
			s.release(p)
			return nil, err
		}
		if ok {
			p.known[key] = object{etag: etag, data: data}
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer s.release(p)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, ch := range s.poll(ctx, p) {
					fn(ch)
				}
			}
		}
	}()

	return cancel, nil
}

// poll diffs the bucket against p.known and updates it in place.
func (s *Store) poll(ctx context.Context, p *poller) []store.Change {
	known := p.known
	etags, err := s.list(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("Failed to list bucket", "error", err)
		}
		return nil
	}

	var changes []store.Change
	for key, etag := range etags {
		prev, had := known[key]
		if had && prev.etag == etag {
			continue
		}

		data, current, ok, err := s.get(ctx, key)
		if err != nil {
			s.logger.Warn("Failed to fetch changed object", "key", key, "error", err)
			continue
		}
		if !ok {
			continue
		}
		if current != "" {
			etag = current
		}
		known[key] = object{etag: etag, data: data}

		if s.mine(p, key, etag) {
			continue
		}
		changes = append(changes, store.Change{
			Key:      key,
			NewValue: data,
			OldValue: prev.data,
		})
	}

	for key, prev := range known {
		if _, ok := etags[key]; ok {
			continue
		}
		delete(known, key)
		if s.mine(p, key, "") {
			continue
		}
		changes = append(changes, store.Change{
			Key:      key,
			OldValue: prev.data,
			Deleted:  true,
		})
	}

	return changes
}
