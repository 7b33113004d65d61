package persistence

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/apiflow/pkg/api"
)

// RedisStore is a ResultStore and EventStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>:result:<id>          => JSON-encoded WorkflowResult
//	<prefix>:idx:all              => SET of all run IDs
//	<prefix>:idx:wf:<workflow>    => SET of run IDs for a given workflow
//	<prefix>:idx:status:<status>  => SET of run IDs for a given status
//	<prefix>:events:<id>          => LIST of JSON-encoded RunEvents
//
// The indexes are best-effort; they are always updated on save, and
// ListResults re-checks the filter against the decoded payload.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ ResultStore = (*RedisStore)(nil)

var _ EventStore = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore.
// prefix is optional but recommended (e.g. "apiflow:").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "apiflow:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisStore) keyResult(id string) string {
	return s.prefix + "result:" + id
}

func (s *RedisStore) keyAll() string {
	return s.prefix + "idx:all"
}

func (s *RedisStore) keyWorkflow(name string) string {
	return s.prefix + "idx:wf:" + name
}

func (s *RedisStore) keyStatus(status api.Status) string {
	return s.prefix + "idx:status:" + string(status)
}

func (s *RedisStore) keyEvents(id string) string {
	return s.prefix + "events:" + id
}

func (s *RedisStore) SaveResult(ctx context.Context, res *api.WorkflowResult) error {
	data, err := EncodeResult(res)
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, s.keyResult(res.ID), data, 0).Err(); err != nil {
		return err
	}

	// Update indexes (best-effort; we don't treat index failures as fatal)
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.keyAll(), res.ID)
	pipe.SAdd(ctx, s.keyWorkflow(res.Name), res.ID)
	pipe.SAdd(ctx, s.keyStatus(res.Status), res.ID)
	_, _ = pipe.Exec(ctx)

	return nil
}

func (s *RedisStore) GetResult(ctx context.Context, id string) (*api.WorkflowResult, error) {
	data, err := s.client.Get(ctx, s.keyResult(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrResultNotFound
		}
		return nil, err
	}
	return DecodeResult(data)
}

func (s *RedisStore) ListResults(ctx context.Context, opts api.ResultListOptions) ([]*api.WorkflowResult, error) {
	var ids []string
	var err error

	switch {
	case opts.WorkflowName != "" && opts.Status != "":
		ids, err = s.client.SInter(ctx,
			s.keyWorkflow(opts.WorkflowName),
			s.keyStatus(opts.Status),
		).Result()
	case opts.WorkflowName != "":
		ids, err = s.client.SMembers(ctx, s.keyWorkflow(opts.WorkflowName)).Result()
	case opts.Status != "":
		ids, err = s.client.SMembers(ctx, s.keyStatus(opts.Status)).Result()
	default:
		ids, err = s.client.SMembers(ctx, s.keyAll()).Result()
	}

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*api.WorkflowResult{}, nil
		}
		return nil, err
	}
	if len(ids) == 0 {
		return []*api.WorkflowResult{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.keyResult(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	results := []*api.WorkflowResult{}
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		res, err := DecodeResult(data)
		if err != nil {
			return nil, err
		}
		// A result re-saved with a new status leaves a stale index entry.
		if matches(res, opts) {
			results = append(results, res)
		}
	}
	sortByStart(results)

	return results, nil
}

func (s *RedisStore) AppendEvent(ctx context.Context, ev api.RunEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.client.RPush(ctx, s.keyEvents(ev.RunID), data).Err()
}

func (s *RedisStore) ListEvents(ctx context.Context, runID string) ([]api.RunEvent, error) {
	raw, err := s.client.LRange(ctx, s.keyEvents(runID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]api.RunEvent, 0, len(raw))
	for _, item := range raw {
		var ev api.RunEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}
