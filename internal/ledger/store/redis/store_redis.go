// Package redis provides the Redis-backed ledger store. Balance math runs in
// Lua scripts so the check-then-act sequence is atomic: concurrent
// reservations against one account can never jointly exceed the available
// balance. Keys: prism:credit:{user}:balance, prism:credit:{user}:reserved,
// prism:resv:{id}, and a prism:resv:pending sorted set scored by expiry for
// the janitor sweep.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"prism/internal/ledger"
	id "prism/pkg/domain"
	"prism/pkg/platform/sentinel"
)

const pendingSetKey = "prism:resv:pending"

// Reservation hashes outlive their expiry by this margin so the janitor can
// still read and release them; the TTL is only a safety net against leaks.
const hashRetention = 24 * time.Hour

// Script status codes shared by the Lua scripts below.
const (
	statusOK           = 1
	statusNoop         = 0
	statusNotFound     = -1
	statusInvalidState = -2
	statusDuplicate    = -3
	statusInsufficient = -4
)

// reserveScript checks available balance and places the hold in one atomic
// step. KEYS: balance, reserved, reservation hash, pending set.
// ARGV: amount, reservation id, user id, created_at ms, expires_at ms, hash ttl s.
var reserveScript = redis.NewScript(`
local balance = tonumber(redis.call('GET', KEYS[1]) or '0')
local reserved = tonumber(redis.call('GET', KEYS[2]) or '0')
local amount = tonumber(ARGV[1])
local available = balance - reserved
if redis.call('EXISTS', KEYS[3]) == 1 then
    return {-3, available}
end
if available < amount then
    return {-4, available}
end
redis.call('INCRBY', KEYS[2], amount)
redis.call('HSET', KEYS[3],
    'user_id', ARGV[3],
    'amount', ARGV[1],
    'state', 'pending',
    'created_at', ARGV[4],
    'expires_at', ARGV[5])
redis.call('EXPIRE', KEYS[3], ARGV[6])
redis.call('ZADD', KEYS[4], tonumber(ARGV[5]), ARGV[2])
return {1, available - amount}
`)

// commitScript converts a pending hold into a debit: balance and reserved
// both decrease. KEYS: balance, reserved, reservation hash, pending set.
// ARGV: reservation id.
var commitScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[3], 'state')
if not state then
    return {-1}
end
if state ~= 'pending' then
    return {-2, state}
end
local amount = tonumber(redis.call('HGET', KEYS[3], 'amount'))
redis.call('DECRBY', KEYS[1], amount)
redis.call('DECRBY', KEYS[2], amount)
redis.call('HSET', KEYS[3], 'state', 'committed')
redis.call('ZREM', KEYS[4], ARGV[1])
return {1}
`)

// releaseScript returns a pending hold to the account. Releasing an already
// released reservation reports a no-op rather than an error. KEYS and ARGV
// as commitScript.
var releaseScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[3], 'state')
if not state then
    return {-1}
end
if state == 'released' then
    return {0}
end
if state ~= 'pending' then
    return {-2, state}
end
local amount = tonumber(redis.call('HGET', KEYS[3], 'amount'))
redis.call('DECRBY', KEYS[2], amount)
redis.call('HSET', KEYS[3], 'state', 'released')
redis.call('ZREM', KEYS[4], ARGV[1])
return {1}
`)

type Store struct {
	client *redis.Client
}

var _ ledger.Store = (*Store)(nil)

func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) GetBalance(ctx context.Context, userID id.UserID) (ledger.Balance, error) {
	pipe := s.client.Pipeline()
	balanceCmd := pipe.Get(ctx, balanceKey(userID))
	reservedCmd := pipe.Get(ctx, reservedKey(userID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return ledger.Balance{}, fmt.Errorf("get balance: %w", err)
	}

	// Missing keys read as zero: the account simply has no credit yet.
	total, _ := balanceCmd.Int64()
	reserved, _ := reservedCmd.Int64()
	return newBalance(total, reserved), nil
}

func (s *Store) AddCredit(ctx context.Context, userID id.UserID, amount id.Cents) (ledger.Balance, error) {
	pipe := s.client.Pipeline()
	incrCmd := pipe.IncrBy(ctx, balanceKey(userID), int64(amount))
	reservedCmd := pipe.Get(ctx, reservedKey(userID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return ledger.Balance{}, fmt.Errorf("add credit: %w", err)
	}

	reserved, _ := reservedCmd.Int64()
	return newBalance(incrCmd.Val(), reserved), nil
}

func (s *Store) Reserve(ctx context.Context, r *ledger.Reservation) error {
	ttl := time.Until(r.ExpiresAt) + hashRetention
	keys := []string{balanceKey(r.UserID), reservedKey(r.UserID), reservationKey(r.ID), pendingSetKey}
	args := []interface{}{
		int64(r.Amount),
		r.ID.String(),
		r.UserID.String(),
		r.CreatedAt.UnixMilli(),
		r.ExpiresAt.UnixMilli(),
		int64(ttl.Seconds()),
	}

	vals, err := runScript(ctx, reserveScript, s.client, keys, args...)
	if err != nil {
		return fmt.Errorf("reserve script: %w", err)
	}
	switch status(vals) {
	case statusOK:
		return nil
	case statusDuplicate:
		return fmt.Errorf("reservation %s: %w", r.ID, sentinel.ErrConflict)
	case statusInsufficient:
		available, _ := vals[1].(int64)
		return fmt.Errorf("%w: need %s, available %s", ledger.ErrInsufficientCredit, r.Amount, id.Cents(available))
	default:
		return fmt.Errorf("reserve script: unexpected status %v", vals[0])
	}
}

func (s *Store) GetReservation(ctx context.Context, rid id.ReservationID) (*ledger.Reservation, error) {
	fields, err := s.client.HGetAll(ctx, reservationKey(rid)).Result()
	if err != nil {
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("reservation %s: %w", rid, sentinel.ErrNotFound)
	}
	return parseReservation(rid, fields)
}

func (s *Store) Commit(ctx context.Context, rid id.ReservationID) (*ledger.Reservation, error) {
	// The pre-read only derives the per-user keys; the script re-checks
	// state atomically before mutating anything.
	r, err := s.GetReservation(ctx, rid)
	if err != nil {
		return nil, err
	}

	keys := []string{balanceKey(r.UserID), reservedKey(r.UserID), reservationKey(rid), pendingSetKey}
	vals, err := runScript(ctx, commitScript, s.client, keys, rid.String())
	if err != nil {
		return nil, fmt.Errorf("commit script: %w", err)
	}
	switch status(vals) {
	case statusOK:
		r.State = ledger.StateCommitted
		return r, nil
	case statusNotFound:
		return nil, fmt.Errorf("reservation %s: %w", rid, sentinel.ErrNotFound)
	case statusInvalidState:
		return nil, fmt.Errorf("commit %s reservation: %w", scriptState(vals), sentinel.ErrInvalidState)
	default:
		return nil, fmt.Errorf("commit script: unexpected status %v", vals[0])
	}
}

func (s *Store) Release(ctx context.Context, rid id.ReservationID) (*ledger.Reservation, error) {
	r, _, err := s.release(ctx, rid)
	return r, err
}

func (s *Store) ReleaseExpired(ctx context.Context, cutoff time.Time, limit int) ([]*ledger.Reservation, error) {
	ids, err := s.client.ZRangeByScore(ctx, pendingSetKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(cutoff.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan pending set: %w", err)
	}

	var released []*ledger.Reservation
	for _, raw := range ids {
		rid, err := id.ParseReservationID(raw)
		if err != nil {
			// Unparseable member cannot match any reservation; drop it.
			s.client.ZRem(ctx, pendingSetKey, raw)
			continue
		}

		r, changed, err := s.release(ctx, rid)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			// Hash hit its retention TTL; nothing left to release.
			s.client.ZRem(ctx, pendingSetKey, raw)
		case errors.Is(err, sentinel.ErrInvalidState):
			// Committed between the scan and the release; commit
			// already removed it from the pending set.
		case err != nil:
			return released, err
		case changed:
			released = append(released, r)
		}
	}
	return released, nil
}

// release runs the release script and reports whether this call performed
// the transition (false when the reservation was already released).
func (s *Store) release(ctx context.Context, rid id.ReservationID) (*ledger.Reservation, bool, error) {
	r, err := s.GetReservation(ctx, rid)
	if err != nil {
		return nil, false, err
	}

	keys := []string{balanceKey(r.UserID), reservedKey(r.UserID), reservationKey(rid), pendingSetKey}
	vals, err := runScript(ctx, releaseScript, s.client, keys, rid.String())
	if err != nil {
		return nil, false, fmt.Errorf("release script: %w", err)
	}
	switch status(vals) {
	case statusOK:
		r.State = ledger.StateReleased
		return r, true, nil
	case statusNoop:
		r.State = ledger.StateReleased
		return r, false, nil
	case statusNotFound:
		return nil, false, fmt.Errorf("reservation %s: %w", rid, sentinel.ErrNotFound)
	case statusInvalidState:
		return nil, false, fmt.Errorf("release %s reservation: %w", scriptState(vals), sentinel.ErrInvalidState)
	default:
		return nil, false, fmt.Errorf("release script: unexpected status %v", vals[0])
	}
}

func runScript(ctx context.Context, script *redis.Script, client *redis.Client, keys []string, args ...interface{}) ([]interface{}, error) {
	res, err := script.Run(ctx, client, keys, args...).Result()
	if err != nil {
		return nil, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) == 0 {
		return nil, fmt.Errorf("malformed script reply %T", res)
	}
	return vals, nil
}

func status(vals []interface{}) int64 {
	code, _ := vals[0].(int64)
	return code
}

func scriptState(vals []interface{}) string {
	if len(vals) > 1 {
		if s, ok := vals[1].(string); ok {
			return s
		}
	}
	return "unknown"
}

func parseReservation(rid id.ReservationID, fields map[string]string) (*ledger.Reservation, error) {
	userID, err := id.ParseUserID(fields["user_id"])
	if err != nil {
		return nil, fmt.Errorf("reservation %s user_id: %w", rid, sentinel.ErrCorrupted)
	}
	amount, err := strconv.ParseInt(fields["amount"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("reservation %s amount: %w", rid, sentinel.ErrCorrupted)
	}
	createdMs, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("reservation %s created_at: %w", rid, sentinel.ErrCorrupted)
	}
	expiresMs, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("reservation %s expires_at: %w", rid, sentinel.ErrCorrupted)
	}

	return &ledger.Reservation{
		ID:        rid,
		UserID:    userID,
		Amount:    id.Cents(amount),
		State:     ledger.ReservationState(fields["state"]),
		CreatedAt: time.UnixMilli(createdMs).UTC(),
		ExpiresAt: time.UnixMilli(expiresMs).UTC(),
	}, nil
}

func newBalance(total, reserved int64) ledger.Balance {
	return ledger.Balance{
		Total:     id.Cents(total),
		Reserved:  id.Cents(reserved),
		Available: id.Cents(total - reserved),
	}
}

func balanceKey(userID id.UserID) string {
	return "prism:credit:" + userID.String() + ":balance"
}

func reservedKey(userID id.UserID) string {
	return "prism:credit:" + userID.String() + ":reserved"
}

func reservationKey(rid id.ReservationID) string {
	return "prism:resv:" + rid.String()
}
