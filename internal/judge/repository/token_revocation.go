package repository

import (
	"context"
	"time"

	"judgehub/internal/common/cache"
	appErr "judgehub/pkg/errors"
)

const revokedTokenKeyPrefix = "judge:token:revoked:"

// TokenRevocations marks judge tokens as revoked until they would have expired anyway.
type TokenRevocations struct {
	cache   cache.BasicOps
	timeout time.Duration
}

// NewTokenRevocations creates a revocation list. timeout bounds each lookup.
func NewTokenRevocations(cacheClient cache.BasicOps, timeout time.Duration) *TokenRevocations {
	if timeout <= 0 {
		timeout = 200 * time.Millisecond
	}
	return &TokenRevocations{cache: cacheClient, timeout: timeout}
}

// Revoke marks tokenHash revoked for ttl.
func (r *TokenRevocations) Revoke(ctx context.Context, tokenHash string, ttl time.Duration) error {
	if tokenHash == "" {
		return appErr.ValidationError("token", "required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if err := r.cache.Set(ctx, revokedTokenKeyPrefix+tokenHash, "1", ttl); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "revoke token failed")
	}
	return nil
}

// IsRevoked reports whether tokenHash was revoked.
func (r *TokenRevocations) IsRevoked(ctx context.Context, tokenHash string) (bool, error) {
	if tokenHash == "" {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	n, err := r.cache.Exists(ctx, revokedTokenKeyPrefix+tokenHash)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
