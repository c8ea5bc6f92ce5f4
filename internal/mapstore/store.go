// Package mapstore persists map configurations in an external key-value
// store under content-derived tokens with a sliding TTL.
package mapstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tilecore/internal/mapconfig"
)

const (
	DefaultKeyPrefix = "map_cfg|"
	DefaultTTL       = 300 * time.Second
)

// Backend is the byte-oriented key-value collaborator behind a Store.
// Implementations must be safe for concurrent use.
type Backend interface {
	// SetNX stores val under key with ttl unless the key already holds a
	// live value. It reports whether the value was written.
	SetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error)
	// Get returns ErrMissing when the key holds no live value.
	Get(ctx context.Context, key string) ([]byte, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// Options tune the key layout and expiry. Zero values fall back to
// DefaultKeyPrefix and DefaultTTL.
type Options struct {
	KeyPrefix string
	TTL       time.Duration
}

// Store keeps map configurations under their content token. Every Load
// slides the expiry of the token it reads.
type Store struct {
	backend Backend
	prefix  string
	ttl     time.Duration
	log     *zap.Logger
}

// New wraps a connected backend.
func New(backend Backend, opts Options, log *zap.Logger) *Store {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &Store{
		backend: backend,
		prefix:  opts.KeyPrefix,
		ttl:     opts.TTL,
		log:     log.Named("mapstore"),
	}
}

func (s *Store) key(token string) string { return s.prefix + token }

// Save stores cfg under its content token. Saving content that is already
// stored refreshes its TTL and reports alreadyExisted.
func (s *Store) Save(ctx context.Context, cfg *mapconfig.MapConfig) (token string, alreadyExisted bool, err error) {
	token = cfg.ID()
	alreadyExisted, err = s.SaveAs(ctx, token, cfg)
	return token, alreadyExisted, err
}

// SaveAs stores cfg under a caller-chosen token.
func (s *Store) SaveAs(ctx context.Context, token string, cfg *mapconfig.MapConfig) (bool, error) {
	data, err := cfg.MarshalJSON()
	if err != nil {
		return false, &StoreError{Op: "encode", Err: err}
	}
	key := s.key(token)

	// A concurrent expiry between SetNX and Get leaves the key empty; one
	// more attempt covers it.
	for attempt := 0; attempt < 2; attempt++ {
		written, err := s.backend.SetNX(ctx, key, data, s.ttl)
		if err != nil {
			return false, &StoreError{Op: "save", Err: err}
		}
		if written {
			s.log.Debug("Map configuration saved", zap.String("token", token))
			return false, nil
		}

		existing, err := s.backend.Get(ctx, key)
		if errors.Is(err, ErrMissing) {
			continue
		}
		if err != nil {
			return false, &StoreError{Op: "save", Err: err}
		}
		if !bytes.Equal(existing, data) {
			return false, fmt.Errorf("%w: %s", ErrTokenConflict, token)
		}
		if err := s.backend.Expire(ctx, key, s.ttl); err != nil {
			return false, &StoreError{Op: "save", Err: err}
		}
		return true, nil
	}
	return false, &StoreError{Op: "save", Err: fmt.Errorf("key %q expired during save", key)}
}

// Load returns the configuration stored under token and slides its expiry.
func (s *Store) Load(ctx context.Context, token string) (*mapconfig.MapConfig, error) {
	key := s.key(token)
	data, err := s.backend.Get(ctx, key)
	if errors.Is(err, ErrMissing) {
		return nil, &NotFoundError{Token: token}
	}
	if err != nil {
		return nil, &StoreError{Op: "load", Err: err}
	}

	cfg, err := mapconfig.Create(data)
	if err != nil {
		return nil, &StoreError{Op: "decode", Err: err}
	}

	if err := s.backend.Expire(ctx, key, s.ttl); err != nil {
		s.log.Warn("Failed to refresh map configuration TTL",
			zap.String("token", token),
			zap.Error(err),
		)
	}
	return cfg, nil
}

// Delete removes token. Deleting an unknown token is not an error.
func (s *Store) Delete(ctx context.Context, token string) error {
	if err := s.backend.Del(ctx, s.key(token)); err != nil {
		return &StoreError{Op: "delete", Err: err}
	}
	return nil
}

func (s *Store) TTL() time.Duration { return s.ttl }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.backend.Ping(ctx); err != nil {
		return &StoreError{Op: "ping", Err: err}
	}
	return nil
}

type purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// PurgeExpired drops expired entries from backends that keep them around
// until asked. It is a no-op for backends with native expiry.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	p, ok := s.backend.(purger)
	if !ok {
		return 0, nil
	}
	n, err := p.PurgeExpired(ctx)
	if err != nil {
		return 0, &StoreError{Op: "purge", Err: err}
	}
	if n > 0 {
		s.log.Debug("purged expired map configurations", zap.Int64("count", n))
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.backend.Close()
}
