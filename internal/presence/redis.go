package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"
	redis "github.com/redis/go-redis/v9"
)

const (
	presencePrefix = "sparkle:presence:"
	typingPrefix   = "sparkle:typing:"
	changesChannel = "sparkle:presence:changes"
)

// setOfflineScript writes the offline record unless last_seen is newer
// than ARGV[1]. Nanosecond stamps are compared as strings because Lua
// numbers lose precision at that size.
var setOfflineScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'last_seen')
if cur and (#cur > #ARGV[1] or (#cur == #ARGV[1] and cur > ARGV[1])) then
  return 0
end
redis.call('HSET', KEYS[1], 'online', 0, 'last_seen', ARGV[1])
if tonumber(ARGV[2]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 1
`)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("presence: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("presence: CBOR decoder initialization failed: " + err.Error())
	}
}

// RedisBackend shares presence across processes. Presence is a hash per
// user with a TTL, typing is a sorted set per chat scored by refresh time,
// and changes travel over one pub/sub channel as CBOR.
type RedisBackend struct {
	client *redis.Client
}

var _ Backend = (*RedisBackend)(nil)

// NewRedisBackend connects to url (redis://...) and pings it.
func NewRedisBackend(ctx context.Context, url string) (*RedisBackend, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisBackend{client: c}, nil
}

func (r *RedisBackend) SetPresence(ctx context.Context, userID string, rec Record, ttl time.Duration) error {
	key := presencePrefix + userID
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, "online", boolToInt(rec.Online), "last_seen", rec.LastSeen.UnixNano())
		if ttl > 0 {
			p.Expire(ctx, key, ttl)
		}
		return nil
	})
	return err
}

func (r *RedisBackend) SetOffline(ctx context.Context, userID string, at time.Time, ttl time.Duration) (bool, error) {
	n, err := setOfflineScript.Run(ctx, r.client, []string{presencePrefix + userID},
		strconv.FormatInt(at.UnixNano(), 10), ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RedisBackend) GetPresence(ctx context.Context, userID string) (Record, bool, error) {
	fields, err := r.client.HGetAll(ctx, presencePrefix+userID).Result()
	if err != nil {
		return Record{}, false, err
	}
	if len(fields) == 0 {
		return Record{}, false, nil
	}
	lastSeen, err := strconv.ParseInt(fields["last_seen"], 10, 64)
	if err != nil {
		return Record{}, false, fmt.Errorf("redis: presence %s: %w", userID, err)
	}
	return Record{Online: fields["online"] == "1", LastSeen: time.Unix(0, lastSeen).UTC()}, true, nil
}

// SetTyping refreshes the user's score and drops members older than ttl, so
// the set only ever holds recent typers. Scores are Unix milliseconds, which
// a float64 holds exactly.
func (r *RedisBackend) SetTyping(ctx context.Context, chatKey, userID string, at time.Time, ttl time.Duration) error {
	key := typingPrefix + chatKey
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(at.Add(-ttl).UnixMilli(), 10))
		p.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMilli()), Member: userID})
		p.Expire(ctx, key, 2*ttl)
		return nil
	})
	return err
}

func (r *RedisBackend) ClearTyping(ctx context.Context, chatKey, userID string) error {
	return r.client.ZRem(ctx, typingPrefix+chatKey, userID).Err()
}

func (r *RedisBackend) Typing(ctx context.Context, chatKey string) (map[string]time.Time, error) {
	zs, err := r.client.ZRangeWithScores(ctx, typingPrefix+chatKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		out[member] = time.UnixMilli(int64(z.Score)).UTC()
	}
	return out, nil
}

func (r *RedisBackend) Publish(ctx context.Context, c Change) error {
	payload, err := encMode.Marshal(c)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, changesChannel, payload).Err()
}

// Subscribe waits for the subscription to be confirmed before returning.
func (r *RedisBackend) Subscribe(ctx context.Context) (<-chan Change, error) {
	ps := r.client.Subscribe(ctx, changesChannel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribe: %w", err)
	}

	out := make(chan Change, memorySubscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var c Change
				if err := decMode.Unmarshal([]byte(msg.Payload), &c); err != nil {
					continue
				}
				select {
				case out <- c:
				default:
				}
			}
		}
	}()
	return out, nil
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
