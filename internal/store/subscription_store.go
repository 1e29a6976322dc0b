package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Priya8975/pushhub/internal/domain"
	"github.com/jackc/pgx/v5"
)

const subscriptionColumns = `id::text, account_id, callback_url, secret, lease_seconds, expires_at,
	confirmed, last_successful_delivery_at, created_at, updated_at`

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := row.Scan(
		&sub.ID, &sub.AccountID, &sub.CallbackURL, &sub.Secret, &sub.LeaseSeconds, &sub.ExpiresAt,
		&sub.Confirmed, &sub.LastSuccessfulDeliveryAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetSubscription returns nil when the subscription does not exist.
func (s *PostgresStore) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id::text = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying subscription: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) FindSubscription(ctx context.Context, accountID, callbackURL string) (*domain.Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE account_id = $1 AND callback_url = $2`,
		accountID, callbackURL))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying subscription: %w", err)
	}
	return sub, nil
}

// FindOrCreateSubscription returns the (account, callback) subscription,
// inserting an unconfirmed one if none exists yet.
func (s *PostgresStore) FindOrCreateSubscription(ctx context.Context, accountID, callbackURL string) (*domain.Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (account_id, callback_url)
		VALUES ($1, $2)
		ON CONFLICT (account_id, callback_url) DO UPDATE SET updated_at = NOW()
		RETURNING `+subscriptionColumns,
		accountID, callbackURL))
	if err != nil {
		return nil, fmt.Errorf("upserting subscription: %w", err)
	}
	return sub, nil
}

// ConfirmSubscription persists a confirmed handshake. It fails with
// domain.ErrSubscriptionNotFound if the row was destroyed meanwhile.
func (s *PostgresStore) ConfirmSubscription(ctx context.Context, sub *domain.Subscription) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE subscriptions
		SET secret = $2, lease_seconds = $3, expires_at = $4, confirmed = TRUE, updated_at = NOW()
		WHERE id::text = $1
	`, sub.ID, sub.Secret, sub.LeaseSeconds, sub.ExpiresAt)
	if err != nil {
		return fmt.Errorf("confirming subscription: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("confirming subscription %s: %w", sub.ID, domain.ErrSubscriptionNotFound)
	}
	return nil
}

// DeleteSubscription destroys the record. Deleting a missing row is not an error.
func (s *PostgresStore) DeleteSubscription(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM subscriptions WHERE id::text = $1`, id); err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	return nil
}

func (s *PostgresStore) TouchDelivery(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE subscriptions SET last_successful_delivery_at = $2, updated_at = NOW()
		WHERE id::text = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("touching subscription delivery: %w", err)
	}
	return nil
}

// ActiveSubscriptions returns confirmed, unexpired subscriptions of an account.
func (s *PostgresStore) ActiveSubscriptions(ctx context.Context, accountID string, now time.Time) ([]domain.Subscription, error) {
	return s.listSubscriptions(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE account_id = $1 AND confirmed = TRUE AND expires_at > $2
		ORDER BY created_at
	`, accountID, now)
}

// ListSubscriptions returns every subscription, or only an account's when
// accountID is set.
func (s *PostgresStore) ListSubscriptions(ctx context.Context, accountID string, limit int) ([]domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions`
	args := []interface{}{}
	argIdx := 1

	if accountID != "" {
		query += fmt.Sprintf(" WHERE account_id = $%d", argIdx)
		args = append(args, accountID)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	return s.listSubscriptions(ctx, query, args...)
}

func (s *PostgresStore) listSubscriptions(ctx context.Context, query string, args ...interface{}) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []domain.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscriptions: %w", err)
	}

	return subs, nil
}
