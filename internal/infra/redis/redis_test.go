package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/vietddude/printguard/internal/core/domain"
	"github.com/vietddude/printguard/internal/infra/cache"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(server.Close)

	client, err := NewClient(Config{URL: "redis://" + server.Addr(), KeyPrefix: "test"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client, server
}

func TestNewClient_BadURL(t *testing.T) {
	if _, err := NewClient(Config{URL: "not a url"}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestCacheStore_SaveLoad(t *testing.T) {
	client, server := newTestClient(t)
	store := NewCacheStore(client)
	ctx := context.Background()

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	entries := map[string]cache.PersistedEntry{
		"discovery:network": {Value: json.RawMessage(`["10.0.0.5"]`), ExpiresAt: expires, Category: "discovery"},
		"plain":             {Value: json.RawMessage(`42`), ExpiresAt: expires},
	}
	if err := store.Save(ctx, entries); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !server.Exists("test:cache") {
		t.Fatal("expected snapshot hash under the configured prefix")
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	e := got["discovery:network"]
	if string(e.Value) != `["10.0.0.5"]` || e.Category != "discovery" || !e.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

func TestCacheStore_SaveReplacesSnapshot(t *testing.T) {
	client, server := newTestClient(t)
	store := NewCacheStore(client)
	ctx := context.Background()

	expires := time.Now().Add(time.Hour)
	_ = store.Save(ctx, map[string]cache.PersistedEntry{"old": {Value: json.RawMessage(`1`), ExpiresAt: expires}})
	_ = store.Save(ctx, map[string]cache.PersistedEntry{"new": {Value: json.RawMessage(`2`), ExpiresAt: expires}})

	got, _ := store.Load(ctx)
	if _, ok := got["old"]; ok {
		t.Fatal("stale key survived a later save")
	}
	if _, ok := got["new"]; !ok {
		t.Fatal("expected new key")
	}

	if err := store.Save(ctx, nil); err != nil {
		t.Fatalf("empty save: %v", err)
	}
	if server.Exists("test:cache") {
		t.Fatal("expected empty snapshot to remove the hash")
	}
}

func TestCacheStore_SkipsMalformed(t *testing.T) {
	client, server := newTestClient(t)
	store := NewCacheStore(client)

	server.HSet("test:cache", "broken", "{not json")
	server.HSet("test:cache", "ok", `{"value":1,"expires_at":"2099-01-01T00:00:00Z"}`)

	got, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected malformed entry skipped, got %v", got)
	}
}

func TestCacheStore_RoundTripThroughManager(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewCacheStore(client)
	ctx := context.Background()

	m := cache.NewManager(cache.Config{DefaultTTL: time.Minute}, cache.WithPersister(store))
	defer m.Close()
	m.SetByCategory(cache.CategoryDiscovery, "network", []string{"10.0.0.7"}, time.Hour)
	if res := m.PersistCache(ctx); !res.Success || res.Data != 1 {
		t.Fatalf("persist: %+v", res)
	}

	restored := cache.NewManager(cache.Config{DefaultTTL: time.Minute}, cache.WithPersister(store))
	defer restored.Close()
	if res := restored.LoadCache(ctx); !res.Success || res.Data != 1 {
		t.Fatalf("load: %+v", res)
	}
	got, ok := cache.GetByCategoryAs[[]string](restored, cache.CategoryDiscovery, "network")
	if !ok || len(got) != 1 || got[0] != "10.0.0.7" {
		t.Fatalf("unexpected restored value %v %v", got, ok)
	}
}

func TestEventPublisher_Publish(t *testing.T) {
	client, _ := newTestClient(t)
	pub := NewEventPublisher(client)
	ctx := context.Background()

	sub := client.rdb.Subscribe(ctx, pub.Channel())
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ev := domain.NewEvent(domain.EventPrinted, "10.0.0.5", "")
	ev.JobID = "job-1"
	if err := pub.Publish(ctx, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(recvCtx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	var got domain.Event
	if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Kind != domain.EventPrinted || got.Address != "10.0.0.5" || got.JobID != "job-1" {
		t.Fatalf("unexpected event %+v", got)
	}
}
