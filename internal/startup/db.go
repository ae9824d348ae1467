// Package startup connects the server to its backing services, retrying while they come up.
package startup

import (
	"context"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/journeyman/messaging/internal/logger"
)

const maxBackoff = 30 * time.Second

func nextBackoff(d time.Duration) time.Duration {
	if d < maxBackoff {
		d *= 2
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// ConnectDBWithRetry connects to PostgreSQL and pings it, retrying until maxWait elapses.
// The process exits if the database never becomes reachable.
func ConnectDBWithRetry(poolCfg *pgxpool.Config, maxWait time.Duration, logPrefix string) *pgxpool.Pool {
	pool, err := connectDB(context.Background(), poolCfg, maxWait, logPrefix, time.Sleep)
	if err != nil {
		logger.Errorf("%sconnect to db (gave up after %v): %v", logPrefix, maxWait, err)
		os.Exit(1)
	}
	return pool
}

func connectDB(ctx context.Context, poolCfg *pgxpool.Config, maxWait time.Duration, logPrefix string, sleep func(time.Duration)) (*pgxpool.Pool, error) {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		pool, err := tryDB(ctx, poolCfg)
		if err == nil {
			return pool, nil
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		logger.Errorf("%sdb connect failed, retry in %v: %v", logPrefix, backoff, err)
		sleep(backoff)
		backoff = nextBackoff(backoff)
	}
}

func tryDB(ctx context.Context, poolCfg *pgxpool.Config) (*pgxpool.Pool, error) {
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := pgxpool.NewWithConfig(connCtx, poolCfg)
	cancel()
	if err != nil {
		return nil, err
	}
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	err = pool.Ping(pingCtx)
	pingCancel()
	if err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
