package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/jhoicas/stock-deduction/internal/application/deduction"
	goredis "github.com/redis/go-redis/v9"
)

var _ deduction.RateCounter = (*RateCounter)(nil)

// allowScript incrementa solo si el contador no alcanzó el límite; GET + INCR + EXPIREAT atómicos.
var allowScript = goredis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local expire_at = tonumber(ARGV[2])

local current = tonumber(redis.call('GET', key) or '0')
if current >= limit then
	return 0
end

redis.call('INCR', key)
redis.call('EXPIREAT', key, expire_at)
return 1
`)

// RateCounter contadores por actor y hora sobre Redis, compartidos entre instancias.
type RateCounter struct {
	client goredis.Scripter
}

// NewRateCounter construye el contador con un cliente Redis (o cluster).
func NewRateCounter(client goredis.Scripter) *RateCounter {
	return &RateCounter{client: client}
}

// Allow ver deduction.RateCounter.
func (r *RateCounter) Allow(ctx context.Context, key string, limit int, expireAt time.Time) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	res, err := allowScript.Run(ctx, r.client, []string{key}, limit, expireAt.Unix()).Int()
	if err != nil {
		return false, fmt.Errorf("rate counter %s: %w", key, err)
	}
	return res == 1, nil
}
