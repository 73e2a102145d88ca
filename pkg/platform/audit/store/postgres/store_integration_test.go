//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	id "herdbook/pkg/domain"
	audit "herdbook/pkg/platform/audit"
	"herdbook/pkg/platform/audit/store/postgres"
	"herdbook/pkg/testutil/containers"
)

type AuditStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *postgres.Store
}

func TestAuditStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(AuditStoreSuite))
}

func (s *AuditStoreSuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.Require().NoError(postgres.Migrate(context.Background(), s.pg.DB))
	s.store = postgres.New(s.pg.DB)
}

func (s *AuditStoreSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(context.Background(), "audit_events"))
}

func (s *AuditStoreSuite) TestAppendAndListByRecord() {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	s.Require().NoError(s.store.Append(ctx, audit.Event{
		Timestamp: base,
		Action:    string(audit.EventIdentityRegistered),
		RecordID:  id.RecordID(7),
		Decision:  "registered",
		Compared:  3,
		RequestID: "req-1",
	}))
	s.Require().NoError(s.store.Append(ctx, audit.Event{
		Timestamp: base.Add(time.Minute),
		Action:    string(audit.EventIdentityIdentified),
		RecordID:  id.RecordID(7),
		Decision:  "matched",
		Score:     0.97,
		Compared:  1,
	}))
	s.Require().NoError(s.store.Append(ctx, audit.Event{
		Timestamp: base.Add(2 * time.Minute),
		Action:    string(audit.EventIdentityNotFound),
		Decision:  "no_match",
		Compared:  4,
	}))

	events, err := s.store.ListByRecord(ctx, id.RecordID(7))
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(audit.CategoryCompliance, events[0].Category)
	s.Equal(audit.CategoryOperations, events[1].Category)
	s.Equal("req-1", events[0].RequestID)
	s.InDelta(0.97, events[1].Score, 1e-9)

	recent, err := s.store.ListRecent(ctx, 1)
	s.Require().NoError(err)
	s.Require().Len(recent, 1)
	s.Equal(string(audit.EventIdentityNotFound), recent[0].Action)
	s.True(recent[0].RecordID.IsNil())
}
