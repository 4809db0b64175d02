package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"salefeed-relay/utils"
)

// Backend tests need a live server and run only when the matching
// environment variable points at one.

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	retry := &utils.RetryConfig{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond}

	runStoreSuite(t, func(t *testing.T) Store {
		st, err := NewPostgresStore(ctx, dsn, retry)
		if err != nil {
			t.Fatalf("NewPostgresStore: %v", err)
		}
		if _, err := st.Clear(ctx); err != nil {
			t.Fatalf("Clear: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
		return st
	})
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()

	n := 0
	runStoreSuite(t, func(t *testing.T) Store {
		client, err := ConnectRedis(url)
		if err != nil {
			t.Fatalf("ConnectRedis: %v", err)
		}
		n++
		prefix := fmt.Sprintf("salefeed-test-%d-%d", time.Now().UnixNano(), n)
		st := NewRedisStore(client, prefix)
		if err := st.Ping(ctx); err != nil {
			t.Fatalf("Ping: %v", err)
		}
		t.Cleanup(func() {
			client.Del(ctx, st.seqKey, st.idxKey, st.rowKey)
			_ = st.Close()
		})
		return st
	})
}
