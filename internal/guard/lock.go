package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shubh-37/x-autoposter/internal/kv"
)

// Default KV keys.
const (
	DefaultLockKey     = "x-autoposter:posting-lock"
	DefaultLastPostKey = "x-autoposter:last-post-at"
)

// LockResult is the outcome of CheckAndLock.
type LockResult struct {
	Allowed bool
	Reason  string
	Token   string
}

// Lock is the system-wide "one post in flight" mutex plus the minimum
// interval between posts. All state lives in the shared KV store.
type Lock struct {
	store       kv.Store
	key         string
	lastPostKey string
	ttl         time.Duration
	minInterval time.Duration
	bootstrap   bool
	now         func() time.Time
	logger      *zap.Logger
}

type LockConfig struct {
	Key         string
	LastPostKey string
	TTL         time.Duration
	MinInterval time.Duration
	Bootstrap   bool
}

func NewLock(store kv.Store, cfg LockConfig, logger *zap.Logger) *Lock {
	if cfg.Key == "" {
		cfg.Key = DefaultLockKey
	}
	if cfg.LastPostKey == "" {
		cfg.LastPostKey = DefaultLastPostKey
	}
	return &Lock{
		store:       store,
		key:         cfg.Key,
		lastPostKey: cfg.LastPostKey,
		ttl:         cfg.TTL,
		minInterval: cfg.MinInterval,
		bootstrap:   cfg.Bootstrap,
		now:         time.Now,
		logger:      logger.Named("lock"),
	}
}

// CheckAndLock takes the lock if it is free and the minimum interval since
// the last post has elapsed. A refusal never changes the recorded last-post
// time.
func (l *Lock) CheckAndLock(ctx context.Context) (LockResult, error) {
	token := uuid.NewString()
	ok, err := l.store.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return LockResult{}, fmt.Errorf("failed to acquire posting lock: %w", err)
	}
	if !ok {
		return LockResult{Allowed: false, Reason: ReasonLockHeld}, nil
	}

	if !l.bootstrap && l.minInterval > 0 {
		wait, err := l.remainingInterval(ctx)
		if err != nil {
			l.release(ctx, token)
			return LockResult{}, err
		}
		if wait > 0 {
			l.release(ctx, token)
			return LockResult{
				Allowed: false,
				Reason:  fmt.Sprintf("Minimum interval not reached: %s remaining", wait.Round(time.Second)),
			}, nil
		}
	}

	return LockResult{Allowed: true, Token: token}, nil
}

func (l *Lock) remainingInterval(ctx context.Context) (time.Duration, error) {
	raw, err := l.store.Get(ctx, l.lastPostKey)
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read last post time: %w", err)
	}
	last, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		l.logger.Warn("ignoring unreadable last post time", zap.String("value", raw))
		return 0, nil
	}
	return l.minInterval - l.now().Sub(last), nil
}

// Release frees the lock if token still owns it.
func (l *Lock) Release(ctx context.Context, token string) error {
	ok, err := l.store.CompareAndDelete(ctx, l.key, token)
	if err != nil {
		return fmt.Errorf("failed to release posting lock: %w", err)
	}
	if !ok {
		l.logger.Warn("posting lock expired or was taken over before release")
	}
	return nil
}

func (l *Lock) release(ctx context.Context, token string) {
	if err := l.Release(ctx, token); err != nil {
		l.logger.Error("lock release failed", zap.Error(err))
	}
}

// MarkPosted records at as the time of the latest post.
func (l *Lock) MarkPosted(ctx context.Context, at time.Time) error {
	if err := l.store.Set(ctx, l.lastPostKey, at.UTC().Format(time.RFC3339Nano), 0); err != nil {
		return fmt.Errorf("failed to record last post time: %w", err)
	}
	return nil
}

// LastPost returns the recorded time of the latest post, if any.
func (l *Lock) LastPost(ctx context.Context) (time.Time, bool, error) {
	raw, err := l.store.Get(ctx, l.lastPostKey)
	if errors.Is(err, kv.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, nil
	}
	return t, true, nil
}
