package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/ggoodman/mcp-vault-server/storage"
	"github.com/ggoodman/mcp-vault-server/storage/storagetest"
	"github.com/redis/go-redis/v9"
)

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   2, // Use separate DB for storage tests
	})
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	var n int
	storagetest.RunStoreTests(t, func(t *testing.T) storage.Store {
		n++
		key := fmt.Sprintf("vault-mcp:test:%d:%d", time.Now().UnixNano(), n)
		t.Cleanup(func() { client.Del(context.Background(), key) })
		s, err := NewWithClient(client, key)
		if err != nil {
			t.Fatalf("new store: %v", err)
		}
		return s
	})
}
