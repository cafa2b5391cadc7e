package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/grant-engine/internal/domain"
	"github.com/kursadbilgin/grant-engine/internal/quota"
	goredis "github.com/redis/go-redis/v9"
)

const defaultReservationTTL = 10 * time.Minute

// reserveScript decrements available only when positive, so concurrent
// reservations against one owner can never overdraw it.
var reserveScript = goredis.NewScript(`
local available = tonumber(redis.call("HGET", KEYS[1], "available") or "0")
if available <= 0 then
  return 0
end
redis.call("HINCRBY", KEYS[1], "available", -1)
redis.call("HSET", KEYS[1], "updated_at", ARGV[2])
redis.call("HSET", KEYS[2], "owner", ARGV[1], "status", "RESERVED", "created_at", ARGV[2])
redis.call("PEXPIRE", KEYS[2], ARGV[3])
return 1
`)

// settleScript returns 1 when settled, 0 when already in the target status,
// -1 when the reservation is gone and -2 when it was settled the other way.
var settleScript = goredis.NewScript(`
local status = redis.call("HGET", KEYS[1], "status")
if not status then
  return -1
end
if status == ARGV[1] then
  return 0
end
if status ~= "RESERVED" then
  return -2
end
redis.call("HSET", KEYS[1], "status", ARGV[1])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
if ARGV[1] == "COMMITTED" then
  redis.call("HINCRBY", KEYS[2], "consumed", 1)
else
  redis.call("HINCRBY", KEYS[2], "available", 1)
end
redis.call("HSET", KEYS[2], "updated_at", ARGV[2])
return 1
`)

var _ quota.Ledger = (*RedisQuotaLedger)(nil)

// RedisQuotaLedger keeps quota accounts in Redis hashes. Reservation records
// expire reservationTTL after their last change; a reservation that lapses
// before it is settled keeps its unit consumed.
type RedisQuotaLedger struct {
	client         *goredis.Client
	reservationTTL time.Duration
	now            func() time.Time
}

func NewRedisQuotaLedger(client *goredis.Client, reservationTTL time.Duration) (*RedisQuotaLedger, error) {
	return newRedisQuotaLedger(client, reservationTTL, time.Now)
}

func newRedisQuotaLedger(client *goredis.Client, reservationTTL time.Duration, nowFn func() time.Time) (*RedisQuotaLedger, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if reservationTTL <= 0 {
		reservationTTL = defaultReservationTTL
	}
	if nowFn == nil {
		nowFn = time.Now
	}

	return &RedisQuotaLedger{client: client, reservationTTL: reservationTTL, now: nowFn}, nil
}

func (l *RedisQuotaLedger) Provision(ctx context.Context, holder domain.QuotaHolder) error {
	if holder == nil || strings.TrimSpace(holder.QuotaOwnerID()) == "" {
		return fmt.Errorf("%w: quota holder with owner id is required", domain.ErrValidation)
	}

	ownerID := strings.TrimSpace(holder.QuotaOwnerID())
	err := l.client.HSet(ctx, accountKey(ownerID),
		"available", holder.QuotaAllowance(),
		"consumed", 0,
		"updated_at", l.nowMillis(),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to provision quota for %q: %w", ownerID, err)
	}
	return nil
}

func (l *RedisQuotaLedger) Reserve(ctx context.Context, ownerID string) (domain.Reservation, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return domain.Reservation{}, fmt.Errorf("%w: owner id is required", domain.ErrValidation)
	}

	now := l.now().UTC()
	token := uuid.NewString()

	result, err := reserveScript.Run(ctx, l.client,
		[]string{accountKey(ownerID), reservationKey(token)},
		ownerID, now.UnixMilli(), l.reservationTTL.Milliseconds(),
	).Int()
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("failed to reserve quota: %w", err)
	}
	if result != 1 {
		return domain.Reservation{}, fmt.Errorf("%w: owner %q", domain.ErrQuotaExhausted, ownerID)
	}

	return domain.Reservation{
		Token:     token,
		OwnerID:   ownerID,
		Status:    domain.ReservationReserved,
		CreatedAt: now,
	}, nil
}

func (l *RedisQuotaLedger) Commit(ctx context.Context, token string) error {
	return l.settle(ctx, token, domain.ReservationCommitted)
}

func (l *RedisQuotaLedger) Release(ctx context.Context, token string) error {
	return l.settle(ctx, token, domain.ReservationReleased)
}

func (l *RedisQuotaLedger) settle(ctx context.Context, token string, target domain.ReservationStatus) error {
	ownerID, err := l.client.HGet(ctx, reservationKey(token), "owner").Result()
	if errors.Is(err, goredis.Nil) {
		return fmt.Errorf("%w: reservation %q", domain.ErrNotFound, token)
	}
	if err != nil {
		return fmt.Errorf("failed to load reservation: %w", err)
	}

	result, err := settleScript.Run(ctx, l.client,
		[]string{reservationKey(token), accountKey(ownerID)},
		target.String(), l.nowMillis(), l.reservationTTL.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to settle reservation: %w", err)
	}

	switch result {
	case 1, 0:
		return nil
	case -1:
		return fmt.Errorf("%w: reservation %q", domain.ErrNotFound, token)
	default:
		return fmt.Errorf("%w: reservation %q already settled", domain.ErrConflict, token)
	}
}

func (l *RedisQuotaLedger) Balance(ctx context.Context, ownerID string) (domain.QuotaAccount, error) {
	ownerID = strings.TrimSpace(ownerID)

	fields, err := l.client.HGetAll(ctx, accountKey(ownerID)).Result()
	if err != nil {
		return domain.QuotaAccount{}, fmt.Errorf("failed to load quota account: %w", err)
	}
	if len(fields) == 0 {
		return domain.QuotaAccount{}, fmt.Errorf("%w: quota account %q", domain.ErrNotFound, ownerID)
	}

	available, _ := strconv.Atoi(fields["available"])
	consumed, _ := strconv.Atoi(fields["consumed"])
	updatedAt, _ := strconv.ParseInt(fields["updated_at"], 10, 64)

	return domain.QuotaAccount{
		OwnerID:            ownerID,
		Available:          available,
		ConsumedThisPeriod: consumed,
		UpdatedAt:          time.UnixMilli(updatedAt).UTC(),
	}, nil
}

func (l *RedisQuotaLedger) nowMillis() int64 {
	return l.now().UTC().UnixMilli()
}

func accountKey(ownerID string) string {
	return namespacedKey("quota", "account", ownerID)
}

func reservationKey(token string) string {
	return namespacedKey("quota", "reservation", token)
}
