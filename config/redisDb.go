package config

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/bsm/redislock"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

var (
	rdb    *redis.Client
	locker *redislock.Client
)
var ctx = context.Background()

func GetRedisDB() *redis.Client {
	return rdb
}

func GetRedisLock() *redislock.Client {
	return locker
}

// SetRedisClient replaces the global client (and its lock client). Used by tests and the ops CLI.
func SetRedisClient(c *redis.Client) {
	rdb = c
	if c == nil {
		locker = nil
		return
	}
	locker = redislock.New(c)
}

// SetRedisValueNX stores value only when key is absent and reports whether it did.
// Without a redis connection it reports true so callers fall back to at-least-once.
func SetRedisValueNX(ctx context.Context, key string, value string, exp time.Duration) (bool, error) {
	if rdb == nil {
		return true, nil
	}
	return rdb.SetNX(ctx, key, value, exp).Result()
}

// GetRedisCounter adds one and returns it, while storing the updated value.
// exp is applied when the key is first created.
func GetRedisCounter(ctx context.Context, key string, exp time.Duration) (int64, error) {
	if rdb == nil {
		return 0, errors.New("redis is not connected")
	}
	n, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 && exp > 0 {
		if err := rdb.Expire(ctx, key, exp).Err(); err != nil {
			log.Printf("failed to set expiry on %s: %v", key, err)
		}
	}
	return n, nil
}

// SeedRedisCounter raises the counter to at least floor, e.g. after a fallback to the database.
func SeedRedisCounter(ctx context.Context, key string, floor int64, exp time.Duration) error {
	if rdb == nil {
		return nil
	}
	ok, err := rdb.SetNX(ctx, key, floor, exp).Result()
	if err != nil || ok {
		return err
	}
	cur, err := rdb.Get(ctx, key).Int64()
	if err != nil {
		return err
	}
	if cur < floor {
		return rdb.IncrBy(ctx, key, floor-cur).Err()
	}
	return nil
}

func init() {
	// Load env from .env
	godotenv.Load()
	// IMPORTANT (Cloud Run):
	// Do NOT block startup in init() waiting for Redis.
	// Cloud Run requires the container to start listening on $PORT quickly.
}

// ConnectRedisWithRetry connects and sets the global Redis client + lock client.
// Call this from main() AFTER the HTTP server is listening.
func ConnectRedisWithRetry() {
	redisAddr := os.Getenv("REDIS_ADDRESS")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
		log.Printf("REDIS_ADDRESS not set; defaulting to %s", redisAddr)
	}

	var attempt int
	for {
		attempt++
		rdb = redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       0, // use default DB
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err == nil {
			locker = redislock.New(rdb)
			log.Printf("connected to redis (attempt=%d addr=%s)", attempt, redisAddr)
			return
		} else {
			sleep := time.Second * time.Duration(1<<min(attempt, 5))
			if sleep > 30*time.Second {
				sleep = 30 * time.Second
			}
			log.Printf("failed to connect redis (attempt=%d addr=%s): %v; retrying in %s", attempt, redisAddr, err, sleep)
			time.Sleep(sleep)
		}
	}
}
