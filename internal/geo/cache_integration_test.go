//go:build integration

package geo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"togoretrouve/internal/geo"
	"togoretrouve/internal/platform/logger"
	id "togoretrouve/pkg/domain"
	"togoretrouve/pkg/testutil/containers"
)

type CacheSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *geo.InMemory
	cache *geo.Cached
}

func TestCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(CacheSuite))
}

func (s *CacheSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *CacheSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.redis.FlushAll(ctx))
	s.store = geo.NewInMemory()
	s.Require().NoError(geo.Seed(ctx, s.store))
	s.cache = geo.NewCached(s.store, s.redis.Client, time.Minute, logger.Discard())
}

func (s *CacheSuite) TestReadThrough() {
	ctx := context.Background()

	regions, err := s.cache.ListRegions(ctx)
	s.Require().NoError(err)
	s.Len(regions, 5)

	exists, err := s.redis.Client.Exists(ctx, "geo:regions").Result()
	s.Require().NoError(err)
	s.Equal(int64(1), exists)

	again, err := s.cache.ListRegions(ctx)
	s.Require().NoError(err)
	s.Equal(regions, again)
}

func (s *CacheSuite) TestCreateStructureInvalidatesPrefectureList() {
	ctx := context.Background()
	_, prefs, _ := geo.SeedData()

	before, err := s.cache.ListStructures(ctx, prefs[0].ID)
	s.Require().NoError(err)

	st, err := geo.NewStructure(id.NewStructureID(), prefs[0].ID, "Mairie de Lomé", geo.KindMairie, "", "")
	s.Require().NoError(err)
	s.Require().NoError(s.cache.CreateStructure(ctx, st))

	after, err := s.cache.ListStructures(ctx, prefs[0].ID)
	s.Require().NoError(err)
	s.Len(after, len(before)+1)
}
