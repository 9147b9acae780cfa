package redis

import (
	"context"
	"os"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/toposync/internal/domain"
	"github.com/MrSnakeDoc/toposync/internal/store"
	"github.com/MrSnakeDoc/toposync/internal/store/storetest"
)

// TestRedisStore needs a disposable Redis: TOPOSYNC_TEST_REDIS_ADDR=localhost:6379.
// Keys under toposync:* are wiped before each case.
func TestRedisStore(t *testing.T) {
	client := testClient(t)

	storetest.Run(t, func(t *testing.T) store.Store {
		flush(t, client)
		return NewStore(client)
	})
}

func TestListEndpointsRebuildsMissingIndex(t *testing.T) {
	client := testClient(t)
	flush(t, client)
	ctx := context.Background()
	s := NewStore(client)

	for _, id := range []string{"edge-b", "edge-a"} {
		ep := domain.Endpoint{ID: id, URI: "http://" + id + ".local", Kind: domain.KindDirect}
		if err := s.SaveEndpoint(ctx, ep); err != nil {
			t.Fatalf("SaveEndpoint(%s) error = %v", id, err)
		}
	}
	if err := client.Del(ctx, KeyAllEndpoints).Err(); err != nil {
		t.Fatalf("failed to drop index: %v", err)
	}

	got, err := s.ListEndpoints(ctx)
	if err != nil {
		t.Fatalf("ListEndpoints() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "edge-a" || got[1].ID != "edge-b" {
		t.Fatalf("ListEndpoints() = %+v, want edge-a then edge-b", got)
	}

	n, err := client.SCard(ctx, KeyAllEndpoints).Result()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("index holds %d IDs after rebuild, want 2", n)
	}
}

func TestCommitTouchesOnlyEndpointKeys(t *testing.T) {
	client := testClient(t)
	flush(t, client)
	ctx := context.Background()
	s := NewStore(client)

	if err := s.SaveEndpoint(ctx, domain.Endpoint{ID: "edge-1", URI: "http://edge-1.local", Kind: domain.KindDirect}); err != nil {
		t.Fatal(err)
	}
	_, err := s.Commit(ctx, store.Commit{
		EndpointID: "edge-1",
		Available:  true,
		Records:    []domain.ServiceRecord{{ServerName: "x", ServiceIP: "10.0.0.1", ServicePort: 80, EndpointID: "edge-1"}},
		At:         time.Now(),
	})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	keys, err := client.Keys(ctx, "toposync:*").Result()
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(keys)
	want := []string{EndpointKey("edge-1"), KeyAllEndpoints, RecordsKey("edge-1")}
	sort.Strings(want)
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("keys = %v, want %v", keys, want)
	}
}

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TOPOSYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TOPOSYNC_TEST_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	t.Cleanup(func() { _ = client.Close() })

	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis at %s unavailable: %v", addr, err)
	}
	return client
}

func flush(t *testing.T, client *redis.Client) {
	t.Helper()
	ctx := context.Background()
	iter := client.Scan(ctx, 0, "toposync:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := client.Del(ctx, iter.Val()).Err(); err != nil {
			t.Fatalf("failed to delete key: %v", err)
		}
	}
	if err := iter.Err(); err != nil {
		t.Fatalf("failed to scan keys: %v", err)
	}
}

func TestExtractEndpointID(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{key: EndpointKey("edge-1"), want: "edge-1"},
		{key: KeyPrefixEndpoint, wantErr: true},
		{key: "other:endpoint:x", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ExtractEndpointID(tt.key)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ExtractEndpointID(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ExtractEndpointID(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestEncodeRecordsIsCanonical(t *testing.T) {
	x := domain.ServiceRecord{ServerName: "x.example", ServiceIP: "10.0.0.1", ServicePort: 443, EndpointID: "a"}
	y := domain.ServiceRecord{ServerName: "empty", ServiceIP: "10.1.1.1", ServicePort: 8080, EndpointID: "a"}

	forward, err := encodeRecords("a", []domain.ServiceRecord{x, y})
	if err != nil {
		t.Fatal(err)
	}
	backward, err := encodeRecords("a", []domain.ServiceRecord{y, x})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(forward, backward) {
		t.Errorf("encoding depends on input order: %v vs %v", forward, backward)
	}

	want := `{"sni":"x.example","si":"10.0.0.1","sp":443,"endpoint_id":"a"}`
	if forward[1] != want {
		t.Errorf("member = %v, want %s", forward[1], want)
	}

	if _, err := encodeRecords("b", []domain.ServiceRecord{x}); err == nil {
		t.Error("expected error for a foreign endpoint id")
	}
}
