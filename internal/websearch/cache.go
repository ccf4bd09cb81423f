package websearch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/chongs12/agentic-rag/internal/common/models"
	"github.com/chongs12/agentic-rag/pkg/logger"
)

// Cached wraps a Searcher with a Redis result cache. Only successful
// outcomes with results are cached; cache failures fall through to next.
type Cached struct {
	next   Searcher
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewCached(next Searcher, rdb *redis.Client, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cached{next: next, rdb: rdb, ttl: ttl, prefix: "websearch"}
}

func (c *Cached) Search(ctx context.Context, query string) Outcome {
	key := c.key(query)
	if v, err := c.rdb.Get(ctx, key).Result(); err == nil {
		var cached []models.WebResult
		if sonic.UnmarshalString(v, &cached) == nil && len(cached) > 0 {
			return Outcome{Status: StatusOK, Results: cached}
		}
	} else if err != redis.Nil {
		logger.Warn(ctx, "Web search cache read failed", "error", err)
	}

	out := c.next.Search(ctx, query)
	if out.HasResults() {
		if b, err := sonic.Marshal(out.Results); err == nil {
			if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
				logger.Warn(ctx, "Web search cache write failed", "error", err)
			}
		}
	}
	return out
}

// key 生成缓存键
func (c *Cached) key(query string) string {
	h := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return fmt.Sprintf("%s:%s", c.prefix, hex.EncodeToString(h[:8]))
}
