package client

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"loan_broker_backend/internal/tarification/wire"
	"loan_broker_backend/platform/logger"
)

const cacheKeyPrefix = "pricing:staging:"

type cachedExchange struct {
	Endpoint string `json:"endpoint"`
	Request  []byte `json:"request"`
	Response []byte `json:"response"`
}

// CachedQuoter serves repeated staging requests from Redis. Production calls
// always reach the provider. Cache failures fall through to a direct call.
type CachedQuoter struct {
	next *Client
	rdb  redis.UniversalClient
	ttl  time.Duration
	log  *logger.Logger
}

// NewCachedQuoter wraps a client with a staging response cache.
func NewCachedQuoter(next *Client, rdb redis.UniversalClient, ttl time.Duration, log *logger.Logger) *CachedQuoter {
	return &CachedQuoter{next: next, rdb: rdb, ttl: ttl, log: log}
}

// Quote implements Quoter.
func (q *CachedQuoter) Quote(ctx context.Context, profile wire.Profile, creds Credentials, opts Options) (*Result, error) {
	if opts.UseProduction {
		return q.next.Quote(ctx, profile, creds, opts)
	}

	msg, err := wire.Encode(profile, creds.Credentials, wire.EncodeOptions{
		CommissionCode: opts.CommissionCode,
		TargetTariffID: opts.TargetTariffID,
		BrokerFeeMinor: opts.BrokerFeeMinor,
	})
	if err != nil {
		return nil, err
	}
	endpoint := q.next.Endpoint(creds, false)
	key := cacheKey(endpoint, msg.Body)

	if hit, ok := q.lookup(ctx, key, profile.Loan.DurationMonths); ok {
		return hit, nil
	}

	result, err := q.next.Quote(ctx, profile, creds, opts)
	if err != nil {
		return nil, err
	}
	q.store(ctx, key, result)
	return result, nil
}

func (q *CachedQuoter) lookup(ctx context.Context, key string, months int) (*Result, bool) {
	raw, err := q.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			q.log.WithContext(ctx).Warn("pricing cache read failed", "error", err)
		}
		return nil, false
	}

	var entry cachedExchange
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false
	}
	decoded, err := wire.Decode(entry.Response)
	if err != nil {
		return nil, false
	}
	decoded.ApplyDuration(months)

	return &Result{
		Response:     decoded,
		Endpoint:     entry.Endpoint,
		RequestBody:  entry.Request,
		ResponseBody: entry.Response,
	}, true
}

func (q *CachedQuoter) store(ctx context.Context, key string, result *Result) {
	payload, err := json.Marshal(cachedExchange{
		Endpoint: result.Endpoint,
		Request:  result.RequestBody,
		Response: result.ResponseBody,
	})
	if err != nil {
		return
	}
	if err := q.rdb.Set(ctx, key, payload, q.ttl).Err(); err != nil {
		q.log.WithContext(ctx).Warn("pricing cache write failed", "error", err)
	}
}

func cacheKey(endpoint string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(endpoint))
	h.Write([]byte{0})
	h.Write(body)
	return cacheKeyPrefix + hex.EncodeToString(h.Sum(nil))
}

var _ Quoter = (*CachedQuoter)(nil)
