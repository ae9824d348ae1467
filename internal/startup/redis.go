package startup

import (
	"context"
	"os"
	"time"

	"github.com/journeyman/messaging/internal/logger"
	redisstorage "github.com/journeyman/messaging/internal/storage/redis"
)

// ConnectRedisWithRetry connects to Redis, retrying with a doubling backoff up to maxWait.
// logPrefix is prepended to log lines (e.g. "relay: ").
func ConnectRedisWithRetry(redisURL, channel string, maxWait time.Duration, logPrefix string) *redisstorage.Client {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := redisstorage.New(ctx, redisURL, channel)
		cancel()
		if err != nil {
			if time.Now().After(deadline) {
				logger.Errorf("%sredis (gave up after %v): %v", logPrefix, maxWait, err)
				os.Exit(1)
			}
			logger.Errorf("%sredis connect failed, retry in %v: %v", logPrefix, backoff, err)
			time.Sleep(backoff)
			backoff = nextBackoff(backoff)
			continue
		}
		return client
	}
}
