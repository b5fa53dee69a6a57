package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RateLimit allows limit requests per client IP in each fixed window,
// counted in redis under "rl:<scope>:<ip>". Redis failures let the request
// through.
func RateLimit(client *redis.Client, scope string, limit int64, window time.Duration, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if client == nil || limit <= 0 {
			c.Next()
			return
		}

		key := "rl:" + scope + ":" + c.ClientIP()
		ctx := c.Request.Context()

		var (
			incr *redis.IntCmd
			ttl  *redis.DurationCmd
		)
		_, err := client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetNX(ctx, key, 0, window)
			incr = pipe.Incr(ctx, key)
			ttl = pipe.TTL(ctx, key)
			return nil
		})
		if err != nil {
			log.Warn().Err(err).Str("scope", scope).Msg("rate limiter unavailable")
			c.Next()
			return
		}

		// A counter left without expiry would block the client forever.
		if ttl.Val() < 0 {
			if err := client.Expire(ctx, key, window).Err(); err != nil {
				log.Warn().Err(err).Str("scope", scope).Msg("rate limiter expiry not set")
			}
		}

		if incr.Val() > limit {
			if remaining := ttl.Val(); remaining > 0 {
				c.Header("Retry-After", strconv.Itoa(int(remaining.Round(time.Second)/time.Second)))
			} else {
				c.Header("Retry-After", strconv.Itoa(int(window/time.Second)))
			}
			abortStatus(c, http.StatusTooManyRequests, "too_many_requests", "Too many requests, please try again later")
			return
		}

		c.Next()
	}
}
