package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"subsync/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// --- SessionRepository Tests ---

func TestSessionRepository_GetByTokenHash_Found(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSessionRepository(db)

	expires := time.Now().Add(time.Hour).UTC()
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{"abc123"}).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*string) = "sess_1"
			*dest[1].(*string) = "user_1"
			*dest[2].(*string) = "abc123"
			*dest[3].(*time.Time) = expires
			*dest[4].(**time.Time) = nil
			*dest[5].(*time.Time) = expires.Add(-24 * time.Hour)
			return nil
		}})

	s, err := repo.GetByTokenHash(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "sess_1", s.ID)
	assert.Equal(t, "user_1", s.UserID)
	assert.True(t, s.Active(time.Now()))
	db.AssertExpectations(t)
}

func TestSessionRepository_GetByTokenHash_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSessionRepository(db)

	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByTokenHash(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeAuthTokenInvalid, types.CodeOf(err))
}

func TestSessionRepository_GetByTokenHash_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSessionRepository(db)

	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(&mockRow{scanErr: errors.New("connection refused")})

	_, err := repo.GetByTokenHash(context.Background(), "x")
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}

func TestSessionRepository_CreateAndRevoke(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSessionRepository(db)

	now := time.Now().UTC()
	db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return len(sql) > 0 && sql[:6] == "INSERT"
	}), []any{"sess_1", "user_1", "hash", now.Add(time.Hour), now}).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)
	db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return len(sql) > 0 && sql[:6] == "UPDATE"
	}), []any{"sess_1"}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.Create(context.Background(), &types.Session{
		ID: "sess_1", UserID: "user_1", TokenHash: "hash", ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, repo.Revoke(context.Background(), "sess_1"))
	db.AssertExpectations(t)
}

func TestSessionRepository_Create_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSessionRepository(db)

	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("duplicate key"))

	err := repo.Create(context.Background(), &types.Session{ID: "sess_1"})
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}
