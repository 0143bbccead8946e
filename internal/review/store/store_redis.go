package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"aegis/internal/review/models"
	id "aegis/pkg/domain"
	"aegis/pkg/platform/sentinel"
)

const (
	keyTasks          = "aegis:review:tasks"
	keyByVerification = "aegis:review:by_verification"
	keyPending        = "aegis:review:pending"
)

// RedisStore keeps tasks as JSON in a hash and orders pending tasks in a
// sorted set scored by priority, then creation time. Writes are optimistic
// transactions (WATCH/MULTI) on the task hash.
type RedisStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// pendingScore sorts by priority, then by creation time in milliseconds.
func pendingScore(t *models.Task) float64 {
	return float64(t.Priority)*1e13 + float64(t.CreatedAt.UnixMilli())
}

func (s *RedisStore) Get(ctx context.Context, reviewID id.ReviewID) (*models.Task, error) {
	return getTask(ctx, s.client, reviewID.String())
}

func (s *RedisStore) GetByVerification(ctx context.Context, verificationID id.VerificationID) (*models.Task, error) {
	reviewID, err := s.client.HGet(ctx, keyByVerification, verificationID.String()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup review by verification: %w", err)
	}
	return getTask(ctx, s.client, reviewID)
}

type hashGetter interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

func getTask(ctx context.Context, c hashGetter, reviewID string) (*models.Task, error) {
	raw, err := c.HGet(ctx, keyTasks, reviewID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get review task: %w", err)
	}
	var t models.Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode review task: %w", err)
	}
	return &t, nil
}

func (s *RedisStore) Save(ctx context.Context, t *models.Task, expectedVersion int64) error {
	next := *t
	next.Version = expectedVersion + 1
	doc, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("encode review task: %w", err)
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		if expectedVersion == 0 {
			taken, err := tx.HExists(ctx, keyByVerification, t.VerificationID.String()).Result()
			if err != nil {
				return err
			}
			if taken {
				return sentinel.ErrAlreadyUsed
			}
		} else {
			current, err := getTask(ctx, tx, t.ID.String())
			if errors.Is(err, sentinel.ErrNotFound) {
				return sentinel.ErrConflict
			}
			if err != nil {
				return err
			}
			if current.Version != expectedVersion {
				return sentinel.ErrConflict
			}
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, keyTasks, t.ID.String(), doc)
			pipe.HSet(ctx, keyByVerification, t.VerificationID.String(), t.ID.String())
			if t.Status == models.StatusPending {
				pipe.ZAdd(ctx, keyPending, redis.Z{Score: pendingScore(t), Member: t.ID.String()})
			} else {
				pipe.ZRem(ctx, keyPending, t.ID.String())
			}
			return nil
		})
		return err
	}, keyTasks, keyByVerification)

	switch {
	case errors.Is(err, redis.TxFailedErr):
		return sentinel.ErrConflict
	case errors.Is(err, sentinel.ErrConflict), errors.Is(err, sentinel.ErrAlreadyUsed):
		return err
	case err != nil:
		return fmt.Errorf("save review task: %w", err)
	}
	t.Version = next.Version
	return nil
}

func (s *RedisStore) ListPending(ctx context.Context, limit int) ([]*models.Task, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.client.ZRange(ctx, keyPending, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending reviews: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	vals, err := s.client.HMGet(ctx, keyTasks, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("load pending reviews: %w", err)
	}
	return decodeAll(vals)
}

func (s *RedisStore) All(ctx context.Context) ([]*models.Task, error) {
	vals, err := s.client.HVals(ctx, keyTasks).Result()
	if err != nil {
		return nil, fmt.Errorf("load reviews: %w", err)
	}
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return decodeAll(out)
}

func decodeAll(vals []any) ([]*models.Task, error) {
	out := make([]*models.Task, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var t models.Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("decode review task: %w", err)
		}
		out = append(out, &t)
	}
	return out, nil
}
