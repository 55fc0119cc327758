package cache

import (
	"fmt"
	"time"
)

// RateLimitKey buckets requests from client into fixed windows of the given size.
func RateLimitKey(scope, client string, now time.Time, window time.Duration) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", scope, client, now.Unix()/int64(window.Seconds()))
}
