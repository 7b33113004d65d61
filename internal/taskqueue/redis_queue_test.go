package taskqueue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
)

type RedisQueueTestSuite struct {
	suite.Suite
	server *miniredis.Miniredis
	client *redis.Client
	queue  *RedisQueue
}

func TestRedisQueueSuite(t *testing.T) {
	suite.Run(t, new(RedisQueueTestSuite))
}

func (r *RedisQueueTestSuite) SetupTest() {
	r.server = miniredis.RunT(r.T())
	r.client = redis.NewClient(&redis.Options{Addr: r.server.Addr()})
	r.T().Cleanup(func() {
		_ = r.client.Close()
	})
	r.Require().NoError(r.client.Ping(context.Background()).Err())
	r.queue = NewRedisQueue(r.client, "apiflow:test:")
}

func (r *RedisQueueTestSuite) TestContract() {
	testQueue(r.T(), r.queue)
}

func (r *RedisQueueTestSuite) TestUsesPrefixedList() {
	r.Require().NoError(r.queue.Enqueue(context.Background(), Task{WorkflowName: "wf"}))
	items, err := r.server.List("apiflow:test:tasks")
	r.Require().NoError(err)
	r.Len(items, 1)
}

func (r *RedisQueueTestSuite) TestDefaultPrefix() {
	q := NewRedisQueue(r.client, "")
	r.Equal("apiflow:tasks", q.key)
	r.Equal(time.Second, q.block)
}
