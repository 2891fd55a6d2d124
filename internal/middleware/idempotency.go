package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	idempotencyHeader = "Idempotency-Key"
	idempotencyTTL    = 24 * time.Hour
)

// ResponseCache stores responses of idempotent requests. Get returns nil
// on a miss.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

// cachedResponse stores the response for idempotent requests.
type cachedResponse struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
	Headers    http.Header     `json:"headers"`
}

// responseWriter wraps gin.ResponseWriter to capture the response.
type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Idempotency replays the stored response when a mutating request repeats
// its Idempotency-Key. Keys are scoped to the principal and route. A nil
// cache or a cache error lets the request through unprotected.
func Idempotency(cache ResponseCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cache == nil {
			c.Next()
			return
		}
		// Only apply to mutating methods.
		if c.Request.Method != http.MethodPost && c.Request.Method != http.MethodPut && c.Request.Method != http.MethodPatch {
			c.Next()
			return
		}
		key := c.GetHeader(idempotencyHeader)
		if key == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		cacheKey := scopedKey(c, key)

		cached, err := getCachedResponse(ctx, cache, cacheKey)
		if err != nil {
			zap.L().Warn("idempotency lookup failed", zap.String("key", cacheKey), zap.Error(err))
			c.Next()
			return
		}
		if cached != nil {
			for k, v := range cached.Headers {
				for _, val := range v {
					c.Header(k, val)
				}
			}
			c.Header("Idempotent-Replayed", "true")
			c.Data(cached.StatusCode, "application/json", cached.Body)
			c.Abort()
			return
		}

		w := &responseWriter{
			ResponseWriter: c.Writer,
			body:           &bytes.Buffer{},
		}
		c.Writer = w

		c.Next()

		// Server errors are retryable; everything else is replayed.
		if status := c.Writer.Status(); status >= 200 && status < 500 {
			response := cachedResponse{
				StatusCode: status,
				Body:       w.body.Bytes(),
				Headers:    extractResponseHeaders(c),
			}
			if err := setCachedResponse(context.WithoutCancel(ctx), cache, cacheKey, &response, idempotencyTTL); err != nil {
				zap.L().Warn("idempotency store failed", zap.String("key", cacheKey), zap.Error(err))
			}
		}
	}
}

func scopedKey(c *gin.Context, key string) string {
	owner := "anonymous"
	if p, ok := PrincipalFrom(c); ok {
		owner = p.ID
	}
	return owner + ":" + c.Request.Method + ":" + c.Request.URL.Path + ":" + key
}

func getCachedResponse(ctx context.Context, cache ResponseCache, key string) (*cachedResponse, error) {
	data, err := cache.Get(ctx, key)
	if err != nil || data == nil {
		return nil, err
	}

	var cached cachedResponse
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	return &cached, nil
}

func setCachedResponse(ctx context.Context, cache ResponseCache, key string, response *cachedResponse, ttl time.Duration) error {
	data, err := json.Marshal(response)
	if err != nil {
		return err
	}
	return cache.Set(ctx, key, data, ttl)
}

// extractResponseHeaders extracts headers to cache.
func extractResponseHeaders(c *gin.Context) http.Header {
	headers := make(http.Header)
	if ct := c.Writer.Header().Get("Content-Type"); ct != "" {
		headers.Set("Content-Type", ct)
	}
	return headers
}
