package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cast"

	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/brokererrors"
	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/domain"
)

//go:embed luascripts/cas_update.lua
var casUpdateScript string

//go:embed luascripts/patch_update.lua
var patchUpdateScript string

const keysIndexSet = "broker:keys"

func docKey(id string) string { return "broker:key:" + id }

// redisDoc is the JSON wire shape stored per key, matching the field names
// the Lua scripts key off of.
type redisDoc struct {
	SubscriptionID string `json:"subscriptionId"`
	Plan           string `json:"plan"`
	Status         string `json:"status"`
	WindowLimit    int    `json:"windowLimit"`
	DailyLimit     int    `json:"dailyLimit"`
	AvgIntervalMs  int64  `json:"avgIntervalMs"`
	UsedInWindow   int    `json:"usedInWindow"`
	WindowStart    int64  `json:"windowStart"`
	UsedDaily      int    `json:"usedDaily"`
	DayStart       int64  `json:"dayStart"`
	LastUsed       int64  `json:"lastUsed"`
}

func toDoc(k domain.Key) redisDoc {
	return redisDoc{
		SubscriptionID: k.SubscriptionID,
		Plan:           string(k.Plan),
		Status:         string(k.Status),
		WindowLimit:    k.WindowLimit,
		DailyLimit:     k.DailyLimit,
		AvgIntervalMs:  k.AvgIntervalMs,
		UsedInWindow:   k.UsedInWindow,
		WindowStart:    k.WindowStart,
		UsedDaily:      k.UsedDaily,
		DayStart:       k.DayStart,
		LastUsed:       k.LastUsed,
	}
}

func fromDoc(d redisDoc) domain.Key {
	return domain.Key{
		SubscriptionID: d.SubscriptionID,
		Plan:           domain.Plan(d.Plan),
		Status:         domain.Status(d.Status),
		WindowLimit:    d.WindowLimit,
		DailyLimit:     d.DailyLimit,
		AvgIntervalMs:  d.AvgIntervalMs,
		UsedInWindow:   d.UsedInWindow,
		WindowStart:    d.WindowStart,
		UsedDaily:      d.UsedDaily,
		DayStart:       d.DayStart,
		LastUsed:       d.LastUsed,
	}
}

// RedisStore is the multi-replica KeyStore backend: UpdateOne and
// FindOneAndUpdate run as Lua scripts executed atomically by the Redis
// server, giving the compare-and-set semantics the Key Store contract
// requires without any client-side locking (InsertOne uses SETNX+SADD and
// DeleteOne a MULTI pipeline). Grounded in qiaoyk's redis_limiter.go (embedded Lua script run
// via redis.Script against go-redis, decoded with spf13/cast).
type RedisStore struct {
	rdb         *redis.Client
	casScript   *redis.Script
	patchScript *redis.Script
}

// NewRedisStore wires a RedisStore against an already-constructed client
// and preloads both Lua scripts, failing fast if the server can't cache
// them (same preload-at-construction pattern as qiaoyk's NewRedisLimiter).
func NewRedisStore(ctx context.Context, rdb *redis.Client) (*RedisStore, error) {
	cas := redis.NewScript(casUpdateScript)
	if err := cas.Load(ctx, rdb).Err(); err != nil {
		return nil, fmt.Errorf("load cas_update.lua: %w", err)
	}
	patch := redis.NewScript(patchUpdateScript)
	if err := patch.Load(ctx, rdb).Err(); err != nil {
		return nil, fmt.Errorf("load patch_update.lua: %w", err)
	}
	return &RedisStore{rdb: rdb, casScript: cas, patchScript: patch}, nil
}

func (s *RedisStore) FindAll(ctx context.Context, filter Filter) ([]domain.Key, error) {
	ids, err := s.rdb.SMembers(ctx, keysIndexSet).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", brokererrors.ErrStoreTransient, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = docKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", brokererrors.ErrStoreTransient, err)
	}

	out := make([]domain.Key, 0, len(vals))
	for _, v := range vals {
		if v == nil {
			continue // id in the set but the doc expired/raced a delete
		}
		raw, err := cast.ToStringE(v)
		if err != nil {
			continue
		}
		var d redisDoc
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			continue // malformed document: skip, don't crash
		}
		k := fromDoc(d)
		if matches(k, filter) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *RedisStore) FindOne(ctx context.Context, filter Filter) (domain.Key, bool, error) {
	if filter.HasSubID {
		raw, err := s.rdb.Get(ctx, docKey(filter.SubscriptionID)).Result()
		if err == redis.Nil {
			return domain.Key{}, false, nil
		}
		if err != nil {
			return domain.Key{}, false, fmt.Errorf("%w: %v", brokererrors.ErrStoreTransient, err)
		}
		var d redisDoc
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return domain.Key{}, false, brokererrors.ErrStoreFatal
		}
		k := fromDoc(d)
		if !matches(k, filter) {
			return domain.Key{}, false, nil
		}
		return k, true, nil
	}

	all, err := s.FindAll(ctx, filter)
	if err != nil || len(all) == 0 {
		return domain.Key{}, false, err
	}
	return all[0], true, nil
}

func (s *RedisStore) InsertOne(ctx context.Context, key domain.Key) error {
	buf, err := json.Marshal(toDoc(key))
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, docKey(key.SubscriptionID), buf, 0).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", brokererrors.ErrStoreTransient, err)
	}
	if !ok {
		return brokererrors.ErrStoreFatal
	}
	if err := s.rdb.SAdd(ctx, keysIndexSet, key.SubscriptionID).Err(); err != nil {
		return fmt.Errorf("%w: %v", brokererrors.ErrStoreTransient, err)
	}
	return nil
}

// UpdateOne applies upd to every document matching filter. Each matched
// document is patched atomically via the unconditional Lua script; there is
// no cross-document atomicity (none is required — only per-document
// atomicity matters here).
func (s *RedisStore) UpdateOne(ctx context.Context, filter Filter, upd Update) (int, error) {
	all, err := s.FindAll(ctx, filter)
	if err != nil {
		return 0, err
	}
	patch, err := json.Marshal(map[string]any{"set": upd.Set, "unset": upd.Unset})
	if err != nil {
		return 0, err
	}

	matched := 0
	for _, k := range all {
		res, err := s.patchScript.Run(ctx, s.rdb, []string{docKey(k.SubscriptionID)}, string(patch)).Result()
		if err != nil {
			return matched, fmt.Errorf("%w: %v", brokererrors.ErrStoreTransient, err)
		}
		if res == nil {
			continue
		}
		matched++
		if filter.HasSubID {
			break
		}
	}
	return matched, nil
}

// FindOneAndUpdate is the Engine's CAS primitive: the Lua script compares
// every pinned field server-side and only applies the update when all of
// them still match the snapshot the caller observed.
func (s *RedisStore) FindOneAndUpdate(ctx context.Context, filter Filter, upd Update) (domain.Key, bool, error) {
	if !filter.HasSubID {
		return domain.Key{}, false, fmt.Errorf("%w: FindOneAndUpdate requires a subscriptionId filter", brokererrors.ErrInvalidArgument)
	}

	current, ok, err := s.FindOne(ctx, Filter{SubscriptionID: filter.SubscriptionID, HasSubID: true})
	if err != nil {
		return domain.Key{}, false, err
	}
	if !ok {
		return domain.Key{}, false, nil
	}

	expected := casExpectedFields(filter)
	newDoc := toDoc(applyUpdate(current, upd))
	expectedJSON, err := json.Marshal(expected)
	if err != nil {
		return domain.Key{}, false, err
	}
	newJSON, err := json.Marshal(newDoc)
	if err != nil {
		return domain.Key{}, false, err
	}

	res, err := s.casScript.Run(ctx, s.rdb, []string{docKey(filter.SubscriptionID)}, string(expectedJSON), string(newJSON)).Result()
	if err != nil {
		return domain.Key{}, false, fmt.Errorf("%w: %v", brokererrors.ErrStoreTransient, err)
	}
	if res == nil {
		return domain.Key{}, false, nil // lost the CAS race
	}
	raw, err := cast.ToStringE(res)
	if err != nil {
		return domain.Key{}, false, brokererrors.ErrStoreFatal
	}
	var d redisDoc
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return domain.Key{}, false, brokererrors.ErrStoreFatal
	}
	return fromDoc(d), true, nil
}

func (s *RedisStore) DeleteOne(ctx context.Context, subscriptionID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, docKey(subscriptionID))
	pipe.SRem(ctx, keysIndexSet, subscriptionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", brokererrors.ErrStoreTransient, err)
	}
	return nil
}

// casExpectedFields extracts the CAS-pinned fields from filter as a
// field-name -> value map matching the Lua script's expectations.
func casExpectedFields(f Filter) map[string]any {
	out := map[string]any{}
	if f.HasState {
		out["status"] = string(f.Status)
	}
	if f.UsedInWindow != nil {
		out["usedInWindow"] = *f.UsedInWindow
	}
	if f.WindowStart != nil {
		out["windowStart"] = *f.WindowStart
	}
	if f.UsedDaily != nil {
		out["usedDaily"] = *f.UsedDaily
	}
	if f.DayStart != nil {
		out["dayStart"] = *f.DayStart
	}
	if f.LastUsed != nil {
		out["lastUsed"] = *f.LastUsed
	}
	return out
}
