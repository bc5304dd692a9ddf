package reminders

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeRedis implements the SET NX and the release script against a map.
type fakeRedis struct {
	mu   sync.Mutex
	keys map[string]string
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewBoolCmd(ctx)
	if _, ok := f.keys[key]; ok {
		cmd.SetVal(false)
		return cmd
	}
	f.keys[key] = value.(string)
	cmd.SetVal(true)
	return cmd
}

func (f *fakeRedis) release(ctx context.Context, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewCmd(ctx)
	if f.keys[keys[0]] == args[0].(string) {
		delete(f.keys, keys[0])
		cmd.SetVal(int64(1))
		return cmd
	}
	cmd.SetVal(int64(0))
	return cmd
}

func (f *fakeRedis) Eval(ctx context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return f.release(ctx, keys, args...)
}

func (f *fakeRedis) EvalSha(ctx context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return f.release(ctx, keys, args...)
}

func (f *fakeRedis) EvalRO(ctx context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return f.release(ctx, keys, args...)
}

func (f *fakeRedis) EvalShaRO(ctx context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	return f.release(ctx, keys, args...)
}

func (f *fakeRedis) ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd {
	cmd := redis.NewBoolSliceCmd(ctx)
	cmd.SetVal(make([]bool, len(hashes)))
	return cmd
}

func (f *fakeRedis) ScriptLoad(ctx context.Context, _ string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	cmd.SetVal("sha")
	return cmd
}

func TestRedisLockerExclusive(t *testing.T) {
	ctx := context.Background()
	rdb := &fakeRedis{keys: map[string]string{}}
	a := NewRedisLocker(rdb, "")
	b := NewRedisLocker(rdb, "")

	release, ok, err := a.Acquire(ctx, time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, got %v %v", ok, err)
	}
	if _, ok, _ := b.Acquire(ctx, time.Minute); ok {
		t.Fatal("expected second acquire to fail while held")
	}
	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, _ := b.Acquire(ctx, time.Minute); !ok {
		t.Fatal("expected acquire after release")
	}
}

func TestRedisLockerReleaseOnlyOwnToken(t *testing.T) {
	ctx := context.Background()
	rdb := &fakeRedis{keys: map[string]string{}}
	l := NewRedisLocker(rdb, "sweep")

	release, _, _ := l.Acquire(ctx, time.Minute)
	// Simulate expiry and takeover by another instance.
	rdb.keys["sweep"] = "someone-else"
	_ = release(ctx)
	if rdb.keys["sweep"] != "someone-else" {
		t.Fatal("expected foreign lock left in place")
	}
}
