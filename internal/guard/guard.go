// Package guard prevents overlapping runs of long operations such as
// folder scans, rescans, syncs and report dispatch, across every pb
// process sharing one database.
package guard

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrBusy is returned when the operation is already running.
	ErrBusy = errors.New("already running")
	// ErrLost is returned when a claim expired and was taken by another
	// holder while the operation was still running.
	ErrLost = errors.New("claim lost")
)

// Guard grants exclusive access to named operations.
type Guard interface {
	// TryAcquire claims name or returns ErrBusy. It never waits.
	TryAcquire(ctx context.Context, name string) error
	// Release gives up a claim held by this guard.
	Release(ctx context.Context, name string) error
}

// Extender is implemented by guards whose claims expire. Run extends the
// claim every third of TTL while the operation runs.
type Extender interface {
	Extend(ctx context.Context, name string) error
	TTL() time.Duration
}

// Run executes fn while holding name. Failures to keep or release the
// claim are joined into the returned error.
func Run(ctx context.Context, g Guard, name string, fn func(context.Context) error) (err error) {
	if err := g.TryAcquire(ctx, name); err != nil {
		return err
	}
	stop := keepAlive(ctx, g, name)
	defer func() {
		if kerr := stop(); kerr != nil {
			err = errors.Join(err, kerr)
		}
		if rerr := g.Release(context.WithoutCancel(ctx), name); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()
	return fn(ctx)
}

func keepAlive(ctx context.Context, g Guard, name string) func() error {
	e, ok := g.(Extender)
	if !ok || e.TTL() <= 0 {
		return func() error { return nil }
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan error, 1)
	go func() {
		t := time.NewTicker(e.TTL() / 3)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				done <- nil
				return
			case <-t.C:
				if err := e.Extend(ctx, name); err != nil {
					done <- err
					return
				}
			}
		}
	}()
	return func() error {
		cancel()
		return <-done
	}
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate guard token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Locker is the lock table of the phishbeads database.
type Locker interface {
	TryLock(ctx context.Context, name, holder string, expires, now int64) (bool, error)
	ExtendLock(ctx context.Context, name, holder string, expires int64) (bool, error)
	Unlock(ctx context.Context, name, holder string) error
}

// DB guards operations through the lock table, so every process opening
// the same database file sees the same claims. Claims expire after ttl so
// a crashed holder cannot block forever.
type DB struct {
	locks Locker
	token string
	ttl   time.Duration
	now   func() time.Time
}

// NewDB returns a database-backed guard.
func NewDB(locks Locker, ttl time.Duration) (*DB, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	return &DB{locks: locks, token: token, ttl: ttl, now: time.Now}, nil
}

// TryAcquire implements Guard.
func (g *DB) TryAcquire(ctx context.Context, name string) error {
	now := g.now()
	ok, err := g.locks.TryLock(ctx, name, g.token, now.Add(g.ttl).UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("acquire %s: %w", name, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrBusy)
	}
	return nil
}

// Extend implements Extender.
func (g *DB) Extend(ctx context.Context, name string) error {
	ok, err := g.locks.ExtendLock(ctx, name, g.token, g.now().Add(g.ttl).UnixMilli())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrLost)
	}
	return nil
}

// TTL implements Extender.
func (g *DB) TTL() time.Duration { return g.ttl }

// Release implements Guard.
func (g *DB) Release(ctx context.Context, name string) error {
	return g.locks.Unlock(ctx, name, g.token)
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// Redis guards operations across hosts sharing one Redis. Claims expire
// after ttl so a crashed holder cannot block forever.
type Redis struct {
	client *redis.Client
	prefix string
	token  string
	ttl    time.Duration
}

// NewRedis returns a Redis-backed guard. Keys are "<prefix>:<name>".
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) (*Redis, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "phishbeads:guard"
	}
	return &Redis{client: client, prefix: prefix, token: token, ttl: ttl}, nil
}

func (r *Redis) key(name string) string {
	return r.prefix + ":" + name
}

// TryAcquire implements Guard.
func (r *Redis) TryAcquire(ctx context.Context, name string) error {
	ok, err := r.client.SetNX(ctx, r.key(name), r.token, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire %s: %w", name, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrBusy)
	}
	return nil
}

// Extend implements Extender.
func (r *Redis) Extend(ctx context.Context, name string) error {
	n, err := extendScript.Run(ctx, r.client, []string{r.key(name)}, r.token, r.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", name, ErrLost)
	}
	return nil
}

// TTL implements Extender.
func (r *Redis) TTL() time.Duration { return r.ttl }

// Release implements Guard. A claim taken over by another holder after
// expiry is left alone.
func (r *Redis) Release(ctx context.Context, name string) error {
	if _, err := releaseScript.Run(ctx, r.client, []string{r.key(name)}, r.token).Result(); err != nil {
		return fmt.Errorf("release %s: %w", name, err)
	}
	return nil
}
