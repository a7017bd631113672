package repository

import (
	"context"
	"fmt"
	"strconv"

	"judgehub/internal/common/cache"
	"judgehub/internal/judge/model"
	appErr "judgehub/pkg/errors"
)

// Counter fields.
const (
	FieldNAccept = "nAccept"
	FieldNSubmit = "nSubmit"
)

// ProblemStats tracks per-user problem status and problem counters.
type ProblemStats interface {
	// UpdateStatus records status for (domain, problem, user) unless an acceptance is already recorded.
	// It returns true when this call records the first acceptance, and also when the same
	// record replays that acceptance.
	UpdateStatus(ctx context.Context, domainID, problemID string, userID int64, recordID string, status model.Status) (bool, error)
	// Inc adds delta to a problem counter at most once per record.
	Inc(ctx context.Context, domainID, problemID, field string, delta int64, recordID string) error
}

// DomainStats tracks per-user counters inside a domain.
type DomainStats interface {
	// IncUser adds delta to a user counter at most once per record.
	IncUser(ctx context.Context, domainID string, userID int64, field string, delta int64, recordID string) error
}

// ContestStanding recomputes a user's contest standing from a judged record.
// Repeated calls with the same record leave the standing unchanged.
type ContestStanding interface {
	UpdateStatus(ctx context.Context, domainID, contestID string, userID int64, recordID, problemID string, accepted bool, score float64, contestType string) error
}

// StandingEntry is one row of a contest ranking.
type StandingEntry struct {
	UserID int64   `json:"uid"`
	Value  float64 `json:"value"`
}

var problemStatusScript = cache.NewScript(`
local cur = redis.call("HMGET", KEYS[1], "rid", "status")
local accepted = ARGV[3]
if cur[2] == accepted then
  if cur[1] == ARGV[1] and ARGV[2] == accepted then
    return 1
  end
  return 0
end
redis.call("HSET", KEYS[1], "rid", ARGV[1], "status", ARGV[2])
if ARGV[2] == accepted then
  return 1
end
return 0
`)

// KEYS: applied set, counter hash. ARGV: rid, field, delta.
var idempotentIncScript = cache.NewScript(`
if redis.call("SADD", KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call("HINCRBY", KEYS[2], ARGV[2], ARGV[3])
return 1
`)

// KEYS: user detail hash, ranking zset. ARGV: uid, pid, rid, accepted, score, contest type.
var contestStandingScript = cache.NewScript(`
local pid = ARGV[2]
local score = tonumber(ARGV[5])
if ARGV[4] == "1" then
  redis.call("HSET", KEYS[1], "a:" .. pid, "1")
end
local best = tonumber(redis.call("HGET", KEYS[1], "s:" .. pid) or "-1")
if score > best then
  redis.call("HSET", KEYS[1], "s:" .. pid, ARGV[5])
end
redis.call("HSET", KEYS[1], "r:" .. pid, ARGV[3])
local flat = redis.call("HGETALL", KEYS[1])
local total = 0
for i = 1, #flat, 2 do
  local prefix = string.sub(flat[i], 1, 2)
  if ARGV[6] == "acm" then
    if prefix == "a:" then
      total = total + 1
    end
  elseif prefix == "s:" then
    total = total + tonumber(flat[i + 1])
  end
end
redis.call("ZADD", KEYS[2], total, ARGV[1])
return tostring(total)
`)

// RedisAggregateStore implements ProblemStats, DomainStats and ContestStanding on Redis.
type RedisAggregateStore struct {
	cache cache.Cache
}

// NewRedisAggregateStore creates an aggregate store.
func NewRedisAggregateStore(cacheClient cache.Cache) *RedisAggregateStore {
	return &RedisAggregateStore{cache: cacheClient}
}

func (s *RedisAggregateStore) UpdateStatus(ctx context.Context, domainID, problemID string, userID int64, recordID string, status model.Status) (bool, error) {
	if domainID == "" || problemID == "" || recordID == "" {
		return false, appErr.ValidationError("problem_status", "domain, problem and record are required")
	}
	key := fmt.Sprintf("judge:agg:pstatus:%s:%s:%d", domainID, problemID, userID)
	reply, err := s.cache.Eval(ctx, problemStatusScript, []string{key},
		recordID, strconv.Itoa(int(status)), strconv.Itoa(int(model.StatusAccepted)))
	if err != nil {
		return false, appErr.Wrapf(err, appErr.ProblemStatusFailed, "update problem status failed")
	}
	n, _ := reply.(int64)
	return n == 1, nil
}

func (s *RedisAggregateStore) Inc(ctx context.Context, domainID, problemID, field string, delta int64, recordID string) error {
	if domainID == "" || problemID == "" || field == "" || recordID == "" {
		return appErr.ValidationError("problem_counter", "domain, problem, field and record are required")
	}
	counter := problemCounterKey(domainID, problemID)
	applied := fmt.Sprintf("judge:agg:applied:problem:%s:%s:%s", domainID, problemID, field)
	if _, err := s.cache.Eval(ctx, idempotentIncScript, []string{applied, counter}, recordID, field, delta); err != nil {
		return appErr.Wrapf(err, appErr.CounterUpdateFailed, "increment problem counter failed")
	}
	return nil
}

func (s *RedisAggregateStore) IncUser(ctx context.Context, domainID string, userID int64, field string, delta int64, recordID string) error {
	if domainID == "" || field == "" || recordID == "" {
		return appErr.ValidationError("domain_counter", "domain, field and record are required")
	}
	counter := domainUserKey(domainID, userID)
	applied := fmt.Sprintf("judge:agg:applied:domain:%s:%d:%s", domainID, userID, field)
	if _, err := s.cache.Eval(ctx, idempotentIncScript, []string{applied, counter}, recordID, field, delta); err != nil {
		return appErr.Wrapf(err, appErr.CounterUpdateFailed, "increment domain user counter failed")
	}
	return nil
}

// ContestStandingStore adapts RedisAggregateStore to ContestStanding.
// The method set collides with ProblemStats.UpdateStatus, so contests get their own type.
type ContestStandingStore struct {
	cache cache.Cache
}

// Contests returns the contest standing view of the store.
func (s *RedisAggregateStore) Contests() *ContestStandingStore {
	return &ContestStandingStore{cache: s.cache}
}

func (c *ContestStandingStore) UpdateStatus(ctx context.Context, domainID, contestID string, userID int64, recordID, problemID string, accepted bool, score float64, contestType string) error {
	if domainID == "" || contestID == "" || problemID == "" || recordID == "" {
		return appErr.ValidationError("contest_status", "domain, contest, problem and record are required")
	}
	acceptedArg := "0"
	if accepted {
		acceptedArg = "1"
	}
	keys := []string{
		fmt.Sprintf("judge:contest:%s:%s:user:%d", domainID, contestID, userID),
		contestRankKey(domainID, contestID),
	}
	_, err := c.cache.Eval(ctx, contestStandingScript, keys,
		strconv.FormatInt(userID, 10), problemID, recordID, acceptedArg, formatFloat(score), contestType)
	if err != nil {
		return appErr.Wrapf(err, appErr.ContestStandingFailed, "update contest standing failed")
	}
	return nil
}

// Standing returns the top limit users of a contest, best first.
func (c *ContestStandingStore) Standing(ctx context.Context, domainID, contestID string, limit int64) ([]StandingEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	members, err := c.cache.ZRevRangeWithScores(ctx, contestRankKey(domainID, contestID), 0, limit-1)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "load contest standing failed")
	}
	out := make([]StandingEntry, 0, len(members))
	for _, m := range members {
		uid, err := strconv.ParseInt(m.Member, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, StandingEntry{UserID: uid, Value: m.Score})
	}
	return out, nil
}

// ProblemCounter reads a problem counter.
func (s *RedisAggregateStore) ProblemCounter(ctx context.Context, domainID, problemID, field string) (int64, error) {
	return s.readCounter(ctx, problemCounterKey(domainID, problemID), field)
}

// UserCounter reads a domain user counter.
func (s *RedisAggregateStore) UserCounter(ctx context.Context, domainID string, userID int64, field string) (int64, error) {
	return s.readCounter(ctx, domainUserKey(domainID, userID), field)
}

func (s *RedisAggregateStore) readCounter(ctx context.Context, key, field string) (int64, error) {
	raw, err := s.cache.HGet(ctx, key, field)
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.CacheError, "read counter failed")
	}
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.CacheError, "decode counter failed")
	}
	return n, nil
}

func problemCounterKey(domainID, problemID string) string {
	return fmt.Sprintf("judge:agg:problem:%s:%s", domainID, problemID)
}

func domainUserKey(domainID string, userID int64) string {
	return fmt.Sprintf("judge:agg:domain:%s:user:%d", domainID, userID)
}

func contestRankKey(domainID, contestID string) string {
	return fmt.Sprintf("judge:contest:%s:%s:rank", domainID, contestID)
}

var (
	_ ProblemStats    = (*RedisAggregateStore)(nil)
	_ DomainStats     = (*RedisAggregateStore)(nil)
	_ ContestStanding = (*ContestStandingStore)(nil)
)
