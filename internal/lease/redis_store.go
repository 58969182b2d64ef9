package lease

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each owner-key's leases in one hash so that a single Lua
// script can check overlap and insert atomically: Redis serializes script
// execution, so two racing Acquires for the same owner-key cannot both pass
// the conflict check.
//
// Keys (single-instance Redis, as the rest of the deployment assumes):
//
//	lease:{tenant}:{ownerkey}       hash: lease id -> lease JSON
//	leaseref:{tenant}:{id}          string: owner hash key, for id-addressed ops
//	leasesession:{tenant}:{session} set: lease ids held by the session
//
// Every key carries a TTL past its longest member expiry; that TTL is the
// ultimate backstop if the sweeper never runs.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

// keyTTLMargin keeps keys around a little past lease expiry so that Extend
// and Release on a just-expired lease still resolve cleanly.
const keyTTLMargin = 60

// bumpTTL extends a key's TTL, never shortening it. TTL returns -1 for a
// key without one, so a fresh key always gets the new value.
const bumpTTL = `
local function bump_ttl(key, secs)
  if redis.call("TTL", key) < tonumber(secs) then
    redis.call("EXPIRE", key, secs)
  end
end
`

var acquireScript = redis.NewScript(bumpTTL + `
local entries = redis.call("HGETALL", KEYS[1])
for i = 1, #entries, 2 do
  local l = cjson.decode(entries[i+1])
  if tonumber(l.expires_at) <= tonumber(ARGV[6]) then
    redis.call("HDEL", KEYS[1], entries[i])
  elseif l.session_id ~= ARGV[3] and tonumber(l.slot_start) < tonumber(ARGV[5]) and tonumber(ARGV[4]) < tonumber(l.slot_end) then
    return 0
  end
end
redis.call("HSET", KEYS[1], ARGV[2], ARGV[1])
redis.call("SET", KEYS[2], KEYS[1], "EX", ARGV[7])
redis.call("SADD", KEYS[3], ARGV[2])
bump_ttl(KEYS[1], ARGV[7])
bump_ttl(KEYS[3], ARGV[7])
return 1
`)

// extendScript returns 0 when the lease is gone or expired, -1 on a session
// mismatch, and the resulting expiry otherwise.
var extendScript = redis.NewScript(bumpTTL + `
local hash = redis.call("GET", KEYS[1])
if not hash then return 0 end
local raw = redis.call("HGET", hash, ARGV[1])
if not raw then return 0 end
local l = cjson.decode(raw)
if tonumber(l.expires_at) <= tonumber(ARGV[4]) then
  redis.call("HDEL", hash, ARGV[1])
  return 0
end
if l.session_id ~= ARGV[2] then return -1 end
if tonumber(ARGV[3]) > tonumber(l.expires_at) then
  l.expires_at = tonumber(ARGV[3])
  redis.call("HSET", hash, ARGV[1], cjson.encode(l))
end
bump_ttl(hash, ARGV[5])
bump_ttl(KEYS[1], ARGV[5])
return tonumber(l.expires_at)
`)

// releaseScript returns 2 when a live lease was removed, 1 when there was
// nothing live to remove, -1 on a session mismatch.
var releaseScript = redis.NewScript(`
local hash = redis.call("GET", KEYS[1])
if not hash then return 1 end
local raw = redis.call("HGET", hash, ARGV[1])
if not raw then
  redis.call("DEL", KEYS[1])
  return 1
end
local l = cjson.decode(raw)
local live = tonumber(l.expires_at) > tonumber(ARGV[3])
if live and l.session_id ~= ARGV[2] then return -1 end
redis.call("HDEL", hash, ARGV[1])
redis.call("DEL", KEYS[1])
redis.call("SREM", ARGV[4] .. l.session_id, ARGV[1])
if live then return 2 end
return 1
`)

var purgeScript = redis.NewScript(`
local entries = redis.call("HGETALL", KEYS[1])
local purged = 0
for i = 1, #entries, 2 do
  local l = cjson.decode(entries[i+1])
  if tonumber(l.expires_at) <= tonumber(ARGV[1]) then
    redis.call("HDEL", KEYS[1], entries[i])
    redis.call("DEL", ARGV[2] .. entries[i])
    redis.call("SREM", ARGV[3] .. l.session_id, entries[i])
    purged = purged + 1
  end
end
return purged
`)

// Tenant ids are caller-supplied, so they are URL-escaped before being
// embedded in key names: an id containing ":" or "/" must not shift the
// segment boundaries and land in another tenant's keyspace. Owner keys come
// pre-escaped from OwnerKey; lease ids are server-minted UUIDs and session
// ids only ever appear as the final segment, so neither needs escaping.
func ownerHashKey(tenantID, ownerKey string) string {
	return "lease:" + url.QueryEscape(tenantID) + ":" + ownerKey
}

func refKey(tenantID, leaseID string) string {
	return "leaseref:" + url.QueryEscape(tenantID) + ":" + leaseID
}

func sessionKeyPrefix(tenantID string) string {
	return "leasesession:" + url.QueryEscape(tenantID) + ":"
}

func (s *RedisStore) Acquire(ctx context.Context, l *Lease) error {
	payload, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshal lease: %w", err)
	}

	now := s.now().Unix()
	keys := []string{
		ownerHashKey(l.TenantID, l.OwnerKey()),
		refKey(l.TenantID, l.ID),
		sessionKeyPrefix(l.TenantID) + l.SessionID,
	}
	argv := []interface{}{
		string(payload), l.ID, l.SessionID,
		l.SlotStart, l.SlotEnd, now,
		l.ExpiresAt - now + keyTTLMargin,
	}

	res, err := acquireScript.Run(ctx, s.client, keys, argv...).Int()
	if err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}
	if res == 0 {
		return ErrSlotConflict
	}
	return nil
}

func (s *RedisStore) Extend(ctx context.Context, tenantID, leaseID, sessionID string, expiresAt int64) (int64, error) {
	now := s.now().Unix()
	res, err := extendScript.Run(ctx, s.client,
		[]string{refKey(tenantID, leaseID)},
		leaseID, sessionID, expiresAt, now, expiresAt-now+keyTTLMargin,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("extend lease: %w", err)
	}
	switch res {
	case 0:
		return 0, ErrLeaseExpired
	case -1:
		return 0, ErrUnauthorized
	}
	return res, nil
}

func (s *RedisStore) Release(ctx context.Context, tenantID, leaseID, sessionID string) error {
	res, err := s.releaseOne(ctx, tenantID, leaseID, sessionID)
	if err != nil {
		return err
	}
	if res == -1 {
		return ErrUnauthorized
	}
	return nil
}

func (s *RedisStore) releaseOne(ctx context.Context, tenantID, leaseID, sessionID string) (int64, error) {
	res, err := releaseScript.Run(ctx, s.client,
		[]string{refKey(tenantID, leaseID)},
		leaseID, sessionID, s.now().Unix(), sessionKeyPrefix(tenantID),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("release lease: %w", err)
	}
	return res, nil
}

func (s *RedisStore) ReleaseSession(ctx context.Context, tenantID, sessionID, exceptLeaseID string) (int, error) {
	setKey := sessionKeyPrefix(tenantID) + sessionID
	ids, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return 0, fmt.Errorf("list session leases: %w", err)
	}

	released := 0
	for _, id := range ids {
		if id == exceptLeaseID {
			continue
		}
		res, err := s.releaseOne(ctx, tenantID, id, sessionID)
		if err != nil {
			return released, err
		}
		if res == 2 {
			released++
		}
	}
	if exceptLeaseID == "" {
		if err := s.client.Del(ctx, setKey).Err(); err != nil {
			return released, fmt.Errorf("drop session index: %w", err)
		}
	}
	return released, nil
}

func (s *RedisStore) PurgeExpired(ctx context.Context) (int, error) {
	now := s.now().Unix()
	purged := 0

	iter := s.client.Scan(ctx, 0, "lease:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		tenant, ok := tenantSegment(key)
		if !ok {
			continue
		}
		n, err := purgeScript.Run(ctx, s.client,
			[]string{key},
			now, "leaseref:"+tenant+":", "leasesession:"+tenant+":",
		).Int()
		if err != nil {
			return purged, fmt.Errorf("purge %s: %w", key, err)
		}
		purged += n
	}
	if err := iter.Err(); err != nil {
		return purged, fmt.Errorf("scan lease keys: %w", err)
	}
	return purged, nil
}

// tenantSegment extracts the escaped tenant segment from
// "lease:{tenant}:{ownerkey}". The segment stays escaped; callers splice it
// straight back into sibling key names. Escaping guarantees it holds no ":",
// so the first cut is the real boundary.
func tenantSegment(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, "lease:")
	if !ok {
		return "", false
	}
	tenant, _, ok := strings.Cut(rest, ":")
	if !ok || tenant == "" {
		return "", false
	}
	return tenant, true
}
