package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Each session is a hash {sess, token, exp} under <prefix>:sid:<sid>. A
// pending token is indexed as <prefix>:token:<token> -> sid. Scripts keep the
// hash and the index consistent.

const saveSessionScript = `
local old = redis.call("HGET", KEYS[1], "token")
if old and old ~= "" and old ~= ARGV[2] then
  if redis.call("GET", ARGV[5] .. old) == ARGV[6] then
    redis.call("DEL", ARGV[5] .. old)
  end
end
redis.call("HSET", KEYS[1], "sess", ARGV[1], "token", ARGV[2], "exp", ARGV[3])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
if ARGV[2] ~= "" then
  redis.call("SET", ARGV[5] .. ARGV[2], ARGV[6], "PX", ARGV[4])
end
return 1
`

const promoteSessionScript = `
if redis.call("HGET", KEYS[1], "token") ~= ARGV[2] then
  return 0
end
if redis.call("GET", ARGV[5] .. ARGV[2]) ~= ARGV[6] then
  return 0
end
redis.call("DEL", ARGV[5] .. ARGV[2])
redis.call("HSET", KEYS[1], "sess", ARGV[1], "token", "", "exp", ARGV[3])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return 1
`

const touchSessionScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "exp", ARGV[1])
redis.call("PEXPIRE", KEYS[1], ARGV[2])
local tok = redis.call("HGET", KEYS[1], "token")
if tok and tok ~= "" then
  redis.call("PEXPIRE", ARGV[3] .. tok, ARGV[2])
end
return 1
`

const deleteSessionScript = `
local tok = redis.call("HGET", KEYS[1], "token")
if tok and tok ~= "" then
  if redis.call("GET", ARGV[1] .. tok) == ARGV[2] then
    redis.call("DEL", ARGV[1] .. tok)
  end
end
return redis.call("DEL", KEYS[1])
`

var (
	saveSessionLua    = redis.NewScript(saveSessionScript)
	promoteSessionLua = redis.NewScript(promoteSessionScript)
	touchSessionLua   = redis.NewScript(touchSessionScript)
	deleteSessionLua  = redis.NewScript(deleteSessionScript)
)

// RedisStore keeps sessions in Redis. Expiry is enforced by key TTLs.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisStore(client redis.UniversalClient, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("session store: nil redis client")
	}
	if !identRe.MatchString(prefix) {
		return nil, fmt.Errorf("session store: invalid key prefix %q", prefix)
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}, nil
}

func (s *RedisStore) sessionKey(sid string) string { return s.prefix + ":sid:" + sid }

func (s *RedisStore) tokenPrefix() string { return s.prefix + ":token:" }

func (s *RedisStore) ttl(expires time.Time) time.Duration {
	return expires.Sub(s.now())
}

func (s *RedisStore) Load(ctx context.Context, sid string) (*Session, error) {
	vals, err := s.client.HMGet(ctx, s.sessionKey(sid), "sess", "exp").Result()
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	blob, ok := vals[0].(string)
	if !ok {
		return nil, ErrNotFound
	}
	expStr, _ := vals[1].(string)
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("load session: bad expiry %q", expStr)
	}
	expires := time.UnixMilli(exp)
	if !expires.After(s.now()) {
		return nil, ErrNotFound
	}
	p, err := decodePayload([]byte(blob))
	if err != nil {
		return nil, err
	}
	return &Session{ID: sid, Payload: p, Expires: expires, persisted: true}, nil
}

func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	ttl := s.ttl(sess.Expires)
	if ttl <= 0 {
		return s.Delete(ctx, sess.ID)
	}
	blob, err := encodePayload(sess.Payload)
	if err != nil {
		return err
	}
	err = saveSessionLua.Run(ctx, s.client,
		[]string{s.sessionKey(sess.ID)},
		string(blob), sess.Token(), sess.Expires.UnixMilli(), ttl.Milliseconds(), s.tokenPrefix(), sess.ID,
	).Err()
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	sess.markSaved()
	return nil
}

func (s *RedisStore) FindOne(ctx context.Context, match Payload) (*Session, error) {
	if len(match) == 0 {
		return nil, errors.New("find session: empty predicate")
	}
	if tok, ok := match[KeyToken].(string); ok {
		sid, err := s.client.Get(ctx, s.tokenPrefix()+tok).Result()
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("find session: %w", err)
		}
		sess, err := s.Load(ctx, sid)
		if err != nil {
			return nil, err
		}
		if !sess.Payload.contains(match) {
			return nil, ErrNotFound
		}
		return sess, nil
	}

	iter := s.client.Scan(ctx, 0, s.prefix+":sid:*", 100).Iterator()
	for iter.Next(ctx) {
		sid := iter.Val()[len(s.prefix+":sid:"):]
		sess, err := s.Load(ctx, sid)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if sess.Payload.contains(match) {
			return sess, nil
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	return nil, ErrNotFound
}

func (s *RedisStore) Promote(ctx context.Context, sess *Session, token string) error {
	ttl := s.ttl(sess.Expires)
	if ttl <= 0 {
		return ErrTokenConsumed
	}
	blob, err := encodePayload(sess.Payload)
	if err != nil {
		return err
	}
	n, err := promoteSessionLua.Run(ctx, s.client,
		[]string{s.sessionKey(sess.ID)},
		string(blob), token, sess.Expires.UnixMilli(), ttl.Milliseconds(), s.tokenPrefix(), sess.ID,
	).Int()
	if err != nil {
		return fmt.Errorf("promote session: %w", err)
	}
	if n == 0 {
		return ErrTokenConsumed
	}
	sess.markSaved()
	return nil
}

func (s *RedisStore) Touch(ctx context.Context, sid string, expires time.Time) error {
	ttl := s.ttl(expires)
	if ttl <= 0 {
		return s.Delete(ctx, sid)
	}
	n, err := touchSessionLua.Run(ctx, s.client,
		[]string{s.sessionKey(sid)},
		expires.UnixMilli(), ttl.Milliseconds(), s.tokenPrefix(),
	).Int()
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, sid string) error {
	err := deleteSessionLua.Run(ctx, s.client,
		[]string{s.sessionKey(sid)},
		s.tokenPrefix(), sid,
	).Err()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpired is a no-op: Redis evicts sessions through key TTLs.
func (s *RedisStore) DeleteExpired(context.Context) (int64, error) {
	return 0, nil
}
