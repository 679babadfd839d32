package ipstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"sentrygate/internal/storeerr"
)

// admitScript performs the atomic sliding-window admit: evict scores
// <= now-window, count survivors, admit iff count < max, and in that case
// add the new member and refresh the key's TTL so orphaned windows
// self-destruct. KEYS[1] is the ordered-set key. ARGV: cutoffMs, nowMs,
// max, member, ttlSeconds.
const admitScript = `
local cutoff = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local member = ARGV[4]
local ttl = tonumber(ARGV[5])

redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, cutoff)
local pre = redis.call('ZCARD', KEYS[1])

if pre < max then
	redis.call('ZADD', KEYS[1], now, member)
	redis.call('EXPIRE', KEYS[1], ttl)
	return {1, pre, pre + 1}
else
	return {0, pre, pre}
end
`

// RedisConfig configures the remote back-end. KeyPrefix defaults to
// "rate_limit".
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore is the distributed state store back-end: ordered sets for
// sliding windows and active-IP tracking, scalars for TTL'd flags. Client
// construction verifies connectivity with a health ping up front and
// applies the same key-prefix convention and TTL discipline throughout.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	admitSHA  string
}

// NewRedisStore connects to Redis and loads the admit script, pinging with
// a short timeout so a misconfigured endpoint fails fast at startup rather
// than on the first request.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "rate_limit"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ipstore: connect to redis: %w", err)
	}

	sha, err := client.ScriptLoad(ctx, admitScript).Result()
	if err != nil {
		return nil, fmt.Errorf("ipstore: load admit script: %w", err)
	}

	return &RedisStore{client: client, keyPrefix: prefix, admitSHA: sha}, nil
}

func (r *RedisStore) key(parts ...string) string {
	key := r.keyPrefix
	for _, p := range parts {
		key += ":" + p
	}
	return key
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", storeerr.ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", storeerr.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", storeerr.ErrTransport, err)
}

// Admit runs the atomic admit script with a 500ms budget and one 100ms
// retry on transport-class failures.
func (r *RedisStore) Admit(ctx context.Context, key string, now time.Time, window time.Duration, max int) (AdmitResult, error) {
	cutoffMs := now.Add(-window).UnixMilli()
	nowMs := now.UnixMilli()
	ttlSeconds := int(window.Seconds()) + 5 // slack so the key outlives its own window before eviction
	member := fmt.Sprintf("%d-%s", nowMs, uuid.NewString())

	result, err := r.runAdmit(ctx, key, cutoffMs, nowMs, max, member, ttlSeconds, 500*time.Millisecond)
	if err != nil && storeerr.Infra(err) {
		result, err = r.runAdmit(ctx, key, cutoffMs, nowMs, max, member, ttlSeconds, 100*time.Millisecond)
	}
	if err != nil {
		return AdmitResult{}, err
	}
	return result, nil
}

func (r *RedisStore) runAdmit(ctx context.Context, key string, cutoffMs, nowMs int64, max int, member string, ttlSeconds int, timeout time.Duration) (AdmitResult, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := r.client.EvalSha(cctx, r.admitSHA, []string{r.key("sliding_window", key)}, cutoffMs, nowMs, max, member, ttlSeconds).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return AdmitResult{}, nil
		}
		// NOSCRIPT: Redis restarted and flushed its script cache; reload once.
		if isNoScript(err) {
			sha, loadErr := r.client.ScriptLoad(cctx, admitScript).Result()
			if loadErr != nil {
				return AdmitResult{}, classify(loadErr)
			}
			r.admitSHA = sha
			raw, err = r.client.EvalSha(cctx, r.admitSHA, []string{r.key("sliding_window", key)}, cutoffMs, nowMs, max, member, ttlSeconds).Result()
		}
		if err != nil {
			return AdmitResult{}, classify(err)
		}
	}

	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 3 {
		return AdmitResult{}, fmt.Errorf("ipstore: unexpected admit script result %T", raw)
	}
	admitted := toInt64(vals[0]) == 1
	pre := int(toInt64(vals[1]))
	post := int(toInt64(vals[2]))
	return AdmitResult{Admitted: admitted, PreCount: pre, PostCount: post}, nil
}

func isNoScript(err error) bool {
	return err != nil && len(err.Error()) >= 8 && err.Error()[:8] == "NOSCRIPT"
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	default:
		return 0
	}
}

func (r *RedisStore) SetFlag(ctx context.Context, key, value string, ttl time.Duration) error {
	cctx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	if err := r.client.Set(cctx, r.key(key), value, ttl).Err(); err != nil {
		return classify(err)
	}
	return nil
}

func (r *RedisStore) GetFlag(ctx context.Context, key string) (string, bool, error) {
	cctx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	val, err := r.client.Get(cctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify(err)
	}
	return val, true, nil
}

func (r *RedisStore) DeleteFlag(ctx context.Context, key string) error {
	cctx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	if err := r.client.Del(cctx, r.key(key)).Err(); err != nil {
		return classify(err)
	}
	return nil
}

func (r *RedisStore) ExistsFlag(ctx context.Context, key string) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	n, err := r.client.Exists(cctx, r.key(key)).Result()
	if err != nil {
		return false, classify(err)
	}
	return n > 0, nil
}

// TrackActive appends ip to the active-set ordered set with score=now and
// evicts members older than window. All IPs share one set keyed by setKey
// (see DESIGN.md for why this consolidates the active-set and 10-second
// bucket into a single key rather than one set per IP).
func (r *RedisStore) TrackActive(ctx context.Context, setKey, ip string, now time.Time, window time.Duration) error {
	cctx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	full := r.key("last_10s_ip", setKey)
	pipe := r.client.TxPipeline()
	pipe.ZAdd(cctx, full, redis.Z{Score: float64(now.UnixMilli()), Member: ip})
	pipe.ZRemRangeByScore(cctx, full, "0", fmt.Sprintf("%d", now.Add(-window).UnixMilli()))
	pipe.Expire(cctx, full, window+5*time.Second)
	if _, err := pipe.Exec(cctx); err != nil {
		return classify(err)
	}
	return nil
}

func (r *RedisStore) CountActive(ctx context.Context, setKey string, now time.Time, window time.Duration) (int, error) {
	cctx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	full := r.key("last_10s_ip", setKey)
	n, err := r.client.ZCount(cctx, full, fmt.Sprintf("(%d", now.Add(-window).UnixMilli()), fmt.Sprintf("%d", now.UnixMilli())).Result()
	if err != nil {
		return 0, classify(err)
	}
	return int(n), nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	if err := r.client.Ping(cctx).Err(); err != nil {
		return classify(err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

var _ Store = (*RedisStore)(nil)
