package repository

import (
	"context"
	"encoding/json"
	"time"

	"judgehub/internal/common/cache"
	appErr "judgehub/pkg/errors"
)

const propagationBacklogKey = "judge:propagation:pending"

var (
	backlogAddScript = cache.NewScript(`
return redis.call("ZADD", KEYS[1], ARGV[1], ARGV[2])
`)
	backlogDueScript = cache.NewScript(`
return redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[2])
`)
	backlogRemoveScript = cache.NewScript(`
return redis.call("ZREM", KEYS[1], ARGV[1])
`)
	backlogLenScript = cache.NewScript(`
return redis.call("ZCARD", KEYS[1])
`)
)

// RecordRef names one record.
type RecordRef struct {
	DomainID string `json:"domainId"`
	RecordID string `json:"rid"`
}

// PropagationBacklog remembers finalized records whose aggregate updates still
// have to be applied. Entries are scheduled by due time.
type PropagationBacklog interface {
	// Add schedules ref at due, replacing an earlier schedule.
	Add(ctx context.Context, ref RecordRef, due time.Time) error
	// Due returns up to limit refs scheduled at or before now, oldest first.
	Due(ctx context.Context, now time.Time, limit int64) ([]RecordRef, error)
	Remove(ctx context.Context, ref RecordRef) error
	Len(ctx context.Context) (int64, error)
}

// RedisPropagationBacklog keeps the backlog in one sorted set scored by due time in ms.
type RedisPropagationBacklog struct {
	cache cache.ScriptOps
}

// NewRedisPropagationBacklog creates a Redis-backed backlog.
func NewRedisPropagationBacklog(cacheClient cache.ScriptOps) *RedisPropagationBacklog {
	return &RedisPropagationBacklog{cache: cacheClient}
}

// Add schedules ref.
func (b *RedisPropagationBacklog) Add(ctx context.Context, ref RecordRef, due time.Time) error {
	member, err := encodeRecordRef(ref)
	if err != nil {
		return err
	}
	if _, err := b.cache.Eval(ctx, backlogAddScript, []string{propagationBacklogKey}, due.UnixMilli(), member); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "add propagation backlog entry failed")
	}
	return nil
}

// Due lists refs whose schedule has passed.
func (b *RedisPropagationBacklog) Due(ctx context.Context, now time.Time, limit int64) ([]RecordRef, error) {
	if limit <= 0 {
		limit = 100
	}
	reply, err := b.cache.Eval(ctx, backlogDueScript, []string{propagationBacklogKey}, now.UnixMilli(), limit)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "read propagation backlog failed")
	}
	if reply == nil {
		return nil, nil
	}
	members, err := replyStrings(reply)
	if err != nil {
		return nil, err
	}
	refs := make([]RecordRef, 0, len(members))
	for _, member := range members {
		var ref RecordRef
		if err := json.Unmarshal([]byte(member), &ref); err != nil {
			// Unreadable entries would block the head of the set forever.
			_, _ = b.cache.Eval(ctx, backlogRemoveScript, []string{propagationBacklogKey}, member)
			continue
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// Remove drops ref.
func (b *RedisPropagationBacklog) Remove(ctx context.Context, ref RecordRef) error {
	member, err := encodeRecordRef(ref)
	if err != nil {
		return err
	}
	if _, err := b.cache.Eval(ctx, backlogRemoveScript, []string{propagationBacklogKey}, member); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "remove propagation backlog entry failed")
	}
	return nil
}

// Len returns the number of scheduled refs.
func (b *RedisPropagationBacklog) Len(ctx context.Context) (int64, error) {
	reply, err := b.cache.Eval(ctx, backlogLenScript, []string{propagationBacklogKey})
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.CacheError, "read propagation backlog size failed")
	}
	n, _ := reply.(int64)
	return n, nil
}

func encodeRecordRef(ref RecordRef) (string, error) {
	if err := validateRecordIdentity(ref.DomainID, ref.RecordID); err != nil {
		return "", err
	}
	member, err := json.Marshal(ref)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.InternalServerError, "encode record ref failed")
	}
	return string(member), nil
}

var _ PropagationBacklog = (*RedisPropagationBacklog)(nil)
