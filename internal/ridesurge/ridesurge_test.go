package ridesurge

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/citytransit/simcore/internal/model"
)

type fakeRedis struct {
	store map[string]string
}

func newFakeRedis() *fakeRedis { return &fakeRedis{store: make(map[string]string)} }

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx, "get", key)
	if v, ok := f.store[key]; ok {
		cmd.SetVal(v)
	} else {
		cmd.SetErr(redis.Nil)
	}
	return cmd
}

func (f *fakeRedis) Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx, "set", key, value)
	f.store[key] = value.(string)
	cmd.SetVal("OK")
	return cmd
}

func TestSmoothed_CacheMissReturnsRawAndSeedsCell(t *testing.T) {
	fr := newFakeRedis()
	c := &Cache{redis: fr, alpha: 0.3, ttl: time.Minute}

	got, ok := c.Smoothed("13.25:-59.64", 2.0)
	if ok {
		t.Fatal("expected ok=false on a cold cell")
	}
	if got != 2.0 {
		t.Fatalf("got %f, want raw value 2.0 on cache miss", got)
	}
	if _, exists := fr.store[keyPrefix+"13.25:-59.64"]; !exists {
		t.Fatal("expected the cold cell to be seeded for next time")
	}
}

func TestSmoothed_BlendsWithPreviousEMA(t *testing.T) {
	fr := newFakeRedis()
	c := &Cache{redis: fr, alpha: 0.5, ttl: time.Minute}

	fr.store[keyPrefix+"cell"] = "10"
	got, ok := c.Smoothed("cell", 20)
	if !ok {
		t.Fatal("expected ok=true on a warm cell")
	}
	want := 0.5*20 + 0.5*10
	if got != want {
		t.Fatalf("got %f, want %f", got, want)
	}
}

func TestCellKey_TruncatesToConfiguredPrecision(t *testing.T) {
	loc := model.Location{Lat: 13.25214, Lon: -59.64253}
	got := CellKey(loc, 2)
	want := "13.25:-59.64"
	if got != want {
		t.Fatalf("CellKey = %q, want %q", got, want)
	}
}
