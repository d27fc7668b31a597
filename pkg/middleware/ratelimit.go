package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	limiterhttp "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/iota-uz/reportgrid/pkg/composables"
	"github.com/iota-uz/reportgrid/pkg/httpapi"
)

const rateLimitPrefix = "reportgrid:ratelimit"

type RateLimitConfig struct {
	RequestsPerPeriod int
	// Period defaults to one second.
	Period time.Duration
	Store  limiter.Store
	// KeyFunc picks the bucket for a request; the client IP by default.
	KeyFunc func(r *http.Request) string
}

func NewMemoryStore() limiter.Store {
	return memory.NewStoreWithOptions(limiter.StoreOptions{
		Prefix:          rateLimitPrefix,
		CleanUpInterval: time.Minute,
	})
}

func NewRedisStore(redisURL string) (limiter.Store, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis url is empty")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return redisstore.NewStoreWithOptions(client, limiter.StoreOptions{
		Prefix: rateLimitPrefix,
	})
}

// RateLimit rejects requests over the configured rate with 429 and the
// standard error envelope.
func RateLimit(cfg RateLimitConfig) mux.MiddlewareFunc {
	period := cfg.Period
	if period <= 0 {
		period = time.Second
	}
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	instance := limiter.New(store, limiter.Rate{
		Period: period,
		Limit:  int64(cfg.RequestsPerPeriod),
	})

	opts := []limiterhttp.Option{
		limiterhttp.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			_ = httpapi.WriteError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests",
				map[string]string{"request_id": composables.UseRequestID(r.Context())})
		}),
	}
	if cfg.KeyFunc != nil {
		opts = append(opts, limiterhttp.WithKeyGetter(cfg.KeyFunc))
	}
	return limiterhttp.NewMiddleware(instance, opts...).Handler
}
