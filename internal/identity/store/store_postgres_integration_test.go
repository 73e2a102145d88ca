//go:build integration

package store_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"herdbook/internal/identity/models"
	"herdbook/internal/identity/store"
	id "herdbook/pkg/domain"
	"herdbook/pkg/platform/sentinel"
	"herdbook/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.Require().NoError(store.Migrate(context.Background(), s.postgres.DB))
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "identity_records"))
}

func (s *PostgresStoreSuite) TestInsertRoundTrip() {
	ctx := context.Background()
	input := models.Record{
		Embedding: models.Vector{0.25, -1.5, 3},
		Metadata: models.Metadata{
			models.MetaOwnerName: "Asha",
			models.MetaCity:      "Anand",
		},
		Image: []byte{0xff, 0xd8, 0xff},
	}

	rec, err := s.store.Insert(ctx, input)
	s.Require().NoError(err)
	s.Equal(id.RecordID(1), rec.ID)
	s.False(rec.CreatedAt.IsZero())

	found, err := s.store.FindByID(ctx, rec.ID)
	s.Require().NoError(err)
	s.Equal(input.Embedding, found.Embedding)
	s.Equal(input.Metadata, found.Metadata)
	s.Equal(input.Image, found.Image)
}

func (s *PostgresStoreSuite) TestNilMetadataAndImage() {
	ctx := context.Background()
	rec, err := s.store.Insert(ctx, models.Record{Embedding: models.Vector{1}})
	s.Require().NoError(err)

	found, err := s.store.FindByID(ctx, rec.ID)
	s.Require().NoError(err)
	s.Empty(found.Metadata)
	s.Nil(found.Image)
}

func (s *PostgresStoreSuite) TestNotFound() {
	_, err := s.store.FindByID(context.Background(), id.RecordID(12345))
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestScanOrderAndRestart() {
	ctx := context.Background()
	for i := range 5 {
		_, err := s.store.Insert(ctx, models.Record{Embedding: models.Vector{float32(i), 0}})
		s.Require().NoError(err)
	}

	for range 2 {
		var ids []id.RecordID
		for rec, err := range s.store.Scan(ctx) {
			s.Require().NoError(err)
			ids = append(ids, rec.ID)
		}
		s.Equal([]id.RecordID{1, 2, 3, 4, 5}, ids)
	}
}

func (s *PostgresStoreSuite) TestScanEarlyBreakReleasesConnection() {
	ctx := context.Background()
	for range 3 {
		_, err := s.store.Insert(ctx, models.Record{Embedding: models.Vector{1}})
		s.Require().NoError(err)
	}
	s.postgres.DB.SetMaxOpenConns(1)
	defer s.postgres.DB.SetMaxOpenConns(0)

	for range 10 {
		for range s.store.Scan(ctx) {
			break
		}
	}
	count, err := s.store.Count(ctx)
	s.Require().NoError(err)
	s.Equal(3, count)
}

// TestConcurrentInsertsUniqueIDs verifies the sequence hands out unique ids.
func (s *PostgresStoreSuite) TestConcurrentInsertsUniqueIDs() {
	ctx := context.Background()
	const goroutines = 30
	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.store.Insert(ctx, models.Record{Embedding: models.Vector{1, 2}})
		}()
	}
	wg.Wait()

	seen := make(map[id.RecordID]bool)
	for rec, err := range s.store.Scan(ctx) {
		s.Require().NoError(err)
		s.False(seen[rec.ID])
		seen[rec.ID] = true
	}
	s.Len(seen, goroutines)
}
