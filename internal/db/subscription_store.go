package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"subsync/internal/types"
)

const selectSubscriptionColumns = `SELECT id, plan, subscription_status, stripe_subscription_id,
		subscription_start_date, last_event_sequence, updated_at
	FROM users`

// SubscriptionStore persists subscription records on the users table.
//
// Writes are compare-and-set on last_event_sequence: the UPDATE only matches
// when the stored sequence still equals the one the caller read, so two
// writers racing on the same user cannot both succeed.
type SubscriptionStore struct {
	db     DBTX
	logger *slog.Logger
}

// NewSubscriptionStore creates a SubscriptionStore backed by the given
// connection (pool or transaction).
func NewSubscriptionStore(db DBTX, logger *slog.Logger) *SubscriptionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionStore{db: db, logger: logger}
}

// Get returns the record for userID, or nil if the user does not exist.
func (s *SubscriptionStore) Get(ctx context.Context, userID string) (*types.SubscriptionRecord, error) {
	row := s.db.QueryRow(ctx, selectSubscriptionColumns+` WHERE id = $1`, userID)
	return scanSubscription(row)
}

// GetByExternalID returns the record currently bound to a gateway
// subscription, or nil if none is.
func (s *SubscriptionStore) GetByExternalID(ctx context.Context, externalID string) (*types.SubscriptionRecord, error) {
	if externalID == "" {
		return nil, nil
	}
	row := s.db.QueryRow(ctx, selectSubscriptionColumns+` WHERE stripe_subscription_id = $1`, externalID)
	return scanSubscription(row)
}

// CompareAndSet writes rec if the stored sequence equals expectedSequence.
// It returns false without error when another writer got there first or
// the user no longer exists.
func (s *SubscriptionStore) CompareAndSet(ctx context.Context, expectedSequence int64, rec types.SubscriptionRecord) (bool, error) {
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE users
		 SET plan = $2,
		     subscription_status = $3,
		     stripe_subscription_id = $4,
		     subscription_start_date = $5,
		     last_event_sequence = $6,
		     updated_at = $7
		 WHERE id = $1
		   AND last_event_sequence = $8`,
		rec.UserID,
		string(rec.Plan),
		string(rec.Status),
		nilIfEmpty(rec.ExternalSubscriptionID),
		rec.StartDate,
		rec.LastEventSequence,
		updatedAt,
		expectedSequence,
	)
	if err != nil {
		return false, err
	}

	if tag.RowsAffected() == 0 {
		s.logger.DebugContext(ctx, "subscription compare-and-set lost",
			slog.String("user_id", rec.UserID),
			slog.Int64("expected_sequence", expectedSequence),
		)
		return false, nil
	}
	return true, nil
}

// EnsureUser inserts an inactive record for userID if none exists. The
// account service owns user creation; this exists for local runs and the
// operator CLI.
func (s *SubscriptionStore) EnsureUser(ctx context.Context, userID string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to ensure user", err)
	}
	return nil
}

func scanSubscription(row pgx.Row) (*types.SubscriptionRecord, error) {
	var (
		rec       types.SubscriptionRecord
		plan      string
		status    string
		extID     *string
		startDate *time.Time
	)
	err := row.Scan(&rec.UserID, &plan, &status, &extID, &startDate, &rec.LastEventSequence, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec.Plan = types.PlanName(plan)
	rec.Status = types.SubscriptionStatus(status)
	rec.ExternalSubscriptionID = derefString(extID)
	rec.StartDate = startDate
	return &rec, nil
}
