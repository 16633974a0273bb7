package health

import (
	"context"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/d4l-network/d4l-gateway/internal/database"
)

func DBChecker(db *gorm.DB) Checker {
	return CheckFunc{Name: "db", Fn: func(ctx context.Context) error {
		return database.Ping(ctx, db)
	}}
}

func RedisChecker(client redis.UniversalClient) Checker {
	return CheckFunc{Name: "redis", Fn: func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}}
}

// ChainPinger is implemented by *chain.Facade.
type ChainPinger interface {
	Ping(ctx context.Context) error
}

func ChainChecker(chain ChainPinger) Checker {
	return CheckFunc{Name: "chain", Fn: chain.Ping}
}
