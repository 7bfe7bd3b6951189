package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/dgraph-io/ristretto"

	"github.com/ruochenliao/text2sql/pkg/metrics"
)

const defaultCacheMaxBytes = 32 << 20

// Cached memoizes deterministic (temperature 0) completions. Responses
// sampled at a higher temperature always go upstream.
type Cached struct {
	next  Client
	cache *ristretto.Cache
}

// NewCached bounds the cache by the total size of cached responses.
func NewCached(next Client, maxBytes int64) (*Cached, error) {
	if maxBytes <= 0 {
		maxBytes = defaultCacheMaxBytes
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create completion cache: %w", err)
	}
	return &Cached{next: next, cache: cache}, nil
}

func (c *Cached) Name() string { return NameOf(c.next) }

func (c *Cached) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	if opts.Temperature != 0 {
		return c.next.Complete(ctx, messages, opts)
	}

	key := cacheKey(messages, opts)
	if v, ok := c.cache.Get(key); ok {
		metrics.ModelCacheTotal.WithLabelValues("hit").Inc()
		return v.(string), nil
	}
	metrics.ModelCacheTotal.WithLabelValues("miss").Inc()

	text, err := c.next.Complete(ctx, messages, opts)
	if err != nil {
		return "", err
	}
	c.cache.Set(key, text, int64(len(text))+1)
	c.cache.Wait()
	return text, nil
}

// Close releases the cache's background goroutines.
func (c *Cached) Close() {
	c.cache.Close()
}

func cacheKey(messages []Message, opts Options) string {
	h := sha256.New()
	for _, m := range messages {
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(strconv.Itoa(len(m.Content))))
		h.Write([]byte{0})
		h.Write([]byte(m.Content))
	}
	h.Write([]byte(strconv.FormatInt(opts.MaxTokens, 10)))
	return hex.EncodeToString(h.Sum(nil))
}
