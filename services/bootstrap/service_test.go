package bootstrap

import (
	"context"
	"testing"

	"britepool/services/participation"
	"britepool/services/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestMigrateCreatesTables(t *testing.T) {
	db := testutil.NewTestDB(t)

	svc := NewService(ServiceParams{DB: db, Models: participation.Models()})
	require.NoError(t, svc.Migrate(context.Background()))

	require.True(t, db.Migrator().HasTable(&participation.Entry{}))
	require.True(t, db.Migrator().HasTable(&participation.Decision{}))
	require.True(t, db.Migrator().HasIndex(&participation.Entry{}, "idx_participation_entries_member_created"))

	// migrating twice is a no-op
	require.NoError(t, svc.Migrate(context.Background()))
}

func TestMigrateWithoutModels(t *testing.T) {
	db := testutil.NewTestDB(t)
	require.NoError(t, NewService(ServiceParams{DB: db}).Migrate(context.Background()))
}
