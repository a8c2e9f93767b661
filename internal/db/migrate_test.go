package db

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"subsync/internal/types"
)

func TestMigrations_Embedded(t *testing.T) {
	ms, err := Migrations()
	require.NoError(t, err)
	require.NotEmpty(t, ms)
	assert.Equal(t, "0001_subscriptions", ms[0].Version)
	assert.Contains(t, ms[0].SQL, "last_event_sequence")
	assert.Contains(t, ms[0].SQL, "CREATE TABLE IF NOT EXISTS sessions")
}

func existsRow(v bool) *mockRow {
	return &mockRow{scanFn: func(dest ...any) error {
		*dest[0].(*bool) = v
		return nil
	}}
}

func TestMigrate_AppliesPending(t *testing.T) {
	db := new(mockDBTX)
	db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "schema_migrations (\n")
	}), mock.Anything).Return(pgconn.NewCommandTag("CREATE TABLE"), nil)
	db.On("QueryRow", mock.Anything, mock.Anything, []any{"0001_subscriptions"}).Return(existsRow(false))
	db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "CREATE TABLE IF NOT EXISTS users")
	}), mock.Anything).Return(pgconn.NewCommandTag("CREATE TABLE"), nil).Once()
	db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.HasPrefix(sql, "INSERT INTO schema_migrations")
	}), []any{"0001_subscriptions"}).Return(pgconn.NewCommandTag("INSERT 0 1"), nil).Once()

	applied, err := Migrate(context.Background(), db, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_subscriptions"}, applied)
	db.AssertExpectations(t)
}

func TestMigrate_SkipsApplied(t *testing.T) {
	db := new(mockDBTX)
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.NewCommandTag("CREATE TABLE"), nil).Once()
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(existsRow(true))

	applied, err := Migrate(context.Background(), db, nil)
	require.NoError(t, err)
	assert.Empty(t, applied)
	db.AssertNumberOfCalls(t, "Exec", 1)
}

func TestMigrate_FailureStops(t *testing.T) {
	db := new(mockDBTX)
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.CommandTag{}, errors.New("permission denied"))

	_, err := Migrate(context.Background(), db, nil)
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}
