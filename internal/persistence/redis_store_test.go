package persistence

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/petrijr/apiflow/pkg/api"
)

const prefix = "apiflow:test:"

type RedisStoreTestSuite struct {
	suite.Suite
	server *miniredis.Miniredis
	client *redis.Client
	store  *RedisStore
	ctx    context.Context
}

func TestRedisTestSuite(t *testing.T) {
	suite.Run(t, new(RedisStoreTestSuite))
}

func (r *RedisStoreTestSuite) SetupTest() {
	r.server = miniredis.RunT(r.T())
	r.client = redis.NewClient(&redis.Options{Addr: r.server.Addr()})
	r.T().Cleanup(func() {
		_ = r.client.Close()
	})
	r.ctx = context.Background()
	r.Require().NoError(r.client.Ping(r.ctx).Err())
	r.store = NewRedisStore(r.client, prefix)
}

func (r *RedisStoreTestSuite) TestResults() {
	testResultStore(r.T(), r.store)
}

func (r *RedisStoreTestSuite) TestEvents() {
	testEventStore(r.T(), r.store)
}

func (r *RedisStoreTestSuite) TestKeysUsePrefix() {
	r.Require().NoError(r.store.SaveResult(r.ctx, sampleResult("run-9", "users", api.StatusSuccess, 0)))
	r.True(r.server.Exists(prefix + "result:run-9"))
	members, err := r.server.SMembers(prefix + "idx:wf:users")
	r.Require().NoError(err)
	r.Equal([]string{"run-9"}, members)
}

func (r *RedisStoreTestSuite) TestStaleStatusIndexIsFiltered() {
	r.Require().NoError(r.store.SaveResult(r.ctx, sampleResult("run-1", "users", api.StatusRunning, 0)))
	r.Require().NoError(r.store.SaveResult(r.ctx, sampleResult("run-1", "users", api.StatusSuccess, 0)))

	running, err := r.store.ListResults(r.ctx, api.ResultListOptions{Status: api.StatusRunning})
	r.Require().NoError(err)
	r.Empty(running)
}

func (r *RedisStoreTestSuite) TestDefaultPrefix() {
	s := NewRedisStore(r.client, "")
	r.Equal("apiflow:result:x", s.keyResult("x"))
}
