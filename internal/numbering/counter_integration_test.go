//go:build integration

package numbering_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"togoretrouve/internal/numbering"
	"togoretrouve/pkg/testutil/containers"
)

type RedisCounterSuite struct {
	suite.Suite
	redis   *containers.RedisContainer
	counter *numbering.RedisCounter
}

func TestRedisCounterSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisCounterSuite))
}

func (s *RedisCounterSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.counter = numbering.NewRedisCounter(s.redis.Client)
}

func (s *RedisCounterSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisCounterSuite) TestConcurrentNextIsUnique() {
	ctx := context.Background()
	const workers = 200

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]bool, workers)
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := s.counter.Next(ctx, "TGR25")
			s.NoError(err)
			mu.Lock()
			seen[n] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	s.Len(seen, workers)
}

func (s *RedisCounterSuite) TestReseed() {
	ctx := context.Background()
	s.Require().NoError(s.counter.Reseed(ctx, "REC25", 500))
	s.Require().NoError(s.counter.Reseed(ctx, "REC25", 10))

	n, err := s.counter.Next(ctx, "REC25")
	s.Require().NoError(err)
	s.Equal(int64(501), n)
}
