package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"TickPilot/internal/domain/models"
	domrepo "TickPilot/internal/domain/repository"
	"TickPilot/pkg/cache"
)

const (
	stateNamespace = "state"
	orderNamespace = "orders"
)

// RedisAccountStore keeps one AccountState document per trading-day key
// under "state:<D-M-YYYY>:<account>".
type RedisAccountStore struct {
	c   cache.Service
	ttl time.Duration
}

// NewRedisAccountStore creates the store. A zero ttl keeps documents forever.
func NewRedisAccountStore(c cache.Service, ttl time.Duration) *RedisAccountStore {
	return &RedisAccountStore{c: c, ttl: ttl}
}

var _ domrepo.AccountStore = (*RedisAccountStore)(nil)

func (s *RedisAccountStore) Find(ctx context.Context, key models.DayKey) (*models.AccountState, error) {
	var st models.AccountState
	if err := s.c.Get(ctx, cache.Key(stateNamespace, key.String()), &st); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get account state %s: %w", key, err)
	}
	return &st, nil
}

func (s *RedisAccountStore) Save(ctx context.Context, st *models.AccountState) error {
	if st.AccountID == "" || st.UniqueDate == "" {
		return fmt.Errorf("save account state: account id and date are required")
	}
	if err := s.c.Set(ctx, cache.Key(stateNamespace, st.Key()), st, s.ttl); err != nil {
		return fmt.Errorf("set account state %s: %w", st.Key(), err)
	}
	return nil
}

// RedisOrderStore keeps pending orders under "orders:<account>:<order>".
type RedisOrderStore struct {
	c cache.Service
}

func NewRedisOrderStore(c cache.Service) *RedisOrderStore {
	return &RedisOrderStore{c: c}
}

var _ domrepo.OrderStore = (*RedisOrderStore)(nil)

func (s *RedisOrderStore) Save(ctx context.Context, o *models.PendingOrder) error {
	if err := s.c.Set(ctx, cache.Key(orderNamespace, o.AccountID, o.OrderID), o, 0); err != nil {
		return fmt.Errorf("set pending order %s: %w", o.OrderID, err)
	}
	return nil
}

func (s *RedisOrderStore) Delete(ctx context.Context, accountID, orderID string) error {
	return s.c.Delete(ctx, cache.Key(orderNamespace, accountID, orderID))
}

// List returns the account's pending orders oldest first. Orders deleted
// between the scan and the read are skipped.
func (s *RedisOrderStore) List(ctx context.Context, accountID string) ([]*models.PendingOrder, error) {
	keys, err := s.c.Keys(ctx, cache.Pattern(cache.Key(orderNamespace, accountID)))
	if err != nil {
		return nil, fmt.Errorf("scan pending orders: %w", err)
	}
	out := make([]*models.PendingOrder, 0, len(keys))
	for _, k := range keys {
		var o models.PendingOrder
		if err := s.c.Get(ctx, k, &o); err != nil {
			if errors.Is(err, cache.ErrCacheMiss) {
				continue
			}
			return nil, fmt.Errorf("get pending order %s: %w", k, err)
		}
		out = append(out, &o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func trimNamespace(key, ns string) string {
	return strings.TrimPrefix(key, ns+":")
}
