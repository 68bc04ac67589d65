package redisx

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const idemPending = "pending"

// ErrClaimContended means the key kept flipping between taken and free while Claim looked at it.
var ErrClaimContended = errors.New("idempotency key contended")

type ClaimResult int

const (
	// Claimed: the caller owns the key and must Complete or Release it.
	Claimed ClaimResult = iota
	// InFlight: another request with the same key has not finished yet.
	InFlight
	// Completed: the key already maps to a created order.
	Completed
)

// Idempotency records which Idempotency-Key produced which order.
type Idempotency struct {
	Client *redis.Client
	TTL    time.Duration
}

func (i *Idempotency) ttl() time.Duration {
	if i.TTL > 0 {
		return i.TTL
	}
	return TTLIdempotency
}

// Claim tries to take key. When it is already taken the result says whether the first request
// is still running or which order it created.
func (i *Idempotency) Claim(ctx context.Context, key string) (ClaimResult, int64, error) {
	k := fmt.Sprintf(KeyIdemOrderCreate, key)
	// the key can expire between SETNX and GET; one more round settles it
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := i.Client.SetNX(ctx, k, idemPending, i.ttl()).Result()
		if err != nil {
			return 0, 0, errors.Wrap(err, "claim idempotency key")
		}
		if ok {
			return Claimed, 0, nil
		}

		v, err := i.Client.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return 0, 0, errors.Wrap(err, "read idempotency key")
		}
		if v == idemPending {
			return InFlight, 0, nil
		}
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, 0, errors.Wrapf(err, "idempotency key %q holds %q", key, v)
		}
		return Completed, id, nil
	}
	// no owner was observed; callers treat this like a redis failure, not a 409
	return 0, 0, errors.WithStack(ErrClaimContended)
}

func (i *Idempotency) Complete(ctx context.Context, key string, orderID int64) error {
	k := fmt.Sprintf(KeyIdemOrderCreate, key)
	return errors.Wrap(i.Client.Set(ctx, k, strconv.FormatInt(orderID, 10), i.ttl()).Err(), "complete idempotency key")
}

// Release frees a claimed key so the client can retry a request that failed.
func (i *Idempotency) Release(ctx context.Context, key string) error {
	k := fmt.Sprintf(KeyIdemOrderCreate, key)
	return errors.Wrap(i.Client.Del(ctx, k).Err(), "release idempotency key")
}
