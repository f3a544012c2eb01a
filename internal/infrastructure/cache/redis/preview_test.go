package redis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kirillkom/tomd/internal/core/domain"
	"github.com/redis/go-redis/v9"
)

type fakeClient struct {
	values  map[string]string
	ttls    map[string]time.Duration
	failGet error
	failSet error
}

func newFakeClient() *fakeClient {
	return &fakeClient{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeClient) Get(_ context.Context, key string) *redis.StringCmd {
	if f.failGet != nil {
		return redis.NewStringResult("", f.failGet)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeClient) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	if f.failSet != nil {
		return redis.NewStatusResult("", f.failSet)
	}
	f.values[key] = string(value.([]byte))
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeClient) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			delete(f.values, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPreviewCacheRoundTrip(t *testing.T) {
	client := newFakeClient()
	cache := New(client, time.Minute, quietLogger())
	ctx := context.Background()

	if _, ok := cache.Get(ctx, "job-1"); ok {
		t.Fatal("expected miss on empty cache")
	}

	want := domain.Preview{Content: "# Title", Truncated: true, TotalLength: 204800}
	if err := cache.Set(ctx, "job-1", want); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if client.ttls["tomd:preview:job-1"] != time.Minute {
		t.Fatalf("unexpected ttl %v", client.ttls["tomd:preview:job-1"])
	}

	got, ok := cache.Get(ctx, "job-1")
	if !ok || *got != want {
		t.Fatalf("Get() = %+v, %v", got, ok)
	}

	if err := cache.Invalidate(ctx, "job-1"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if _, ok := cache.Get(ctx, "job-1"); ok {
		t.Fatal("expected miss after invalidate")
	}
}

func TestPreviewCacheFailuresDegradeToMiss(t *testing.T) {
	client := newFakeClient()
	client.values["tomd:preview:bad"] = "{not json"
	client.failSet = errors.New("READONLY")
	cache := New(client, 0, quietLogger())
	ctx := context.Background()

	if _, ok := cache.Get(ctx, "bad"); ok {
		t.Fatal("corrupt entry should be a miss")
	}
	if err := cache.Set(ctx, "job", domain.Preview{}); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}

	client.failGet = errors.New("connection refused")
	if _, ok := cache.Get(ctx, "job"); ok {
		t.Fatal("get failure should be a miss")
	}
}
