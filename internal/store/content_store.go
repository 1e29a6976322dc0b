package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Priya8975/pushhub/internal/domain"
	"github.com/jackc/pgx/v5"
)

// The accounts, statuses, stream_entries, follows and domain_blocks tables
// belong to the surrounding application; the hub reads them.

const accountColumns = `id, username, COALESCE(domain, ''), display_name, note, locked, avatar_url,
	remote_url, hub_url, secret, subscription_expires_at, updated_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(
		&a.ID, &a.Username, &a.Domain, &a.DisplayName, &a.Note, &a.Locked, &a.AvatarURL,
		&a.RemoteURL, &a.HubURL, &a.Secret, &a.SubscriptionExpiresAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAccount returns nil when the account does not exist.
func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying account: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) GetLocalAccountByUsername(ctx context.Context, username string) (*domain.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE domain IS NULL AND LOWER(username) = LOWER($1)`, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying account by username: %w", err)
	}
	return a, nil
}

// UpdateRemoteSubscription records this instance's subscription to the
// account's remote hub. A nil expiry marks it as not subscribed.
func (s *PostgresStore) UpdateRemoteSubscription(ctx context.Context, accountID, secret string, expiresAt *time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE accounts SET secret = $2, subscription_expires_at = $3, updated_at = NOW()
		WHERE id = $1
	`, accountID, secret, expiresAt)
	if err != nil {
		return fmt.Errorf("updating remote subscription: %w", err)
	}
	return nil
}

// GetStreamEntries loads the entries that still exist, with their statuses.
// Missing ids are silently skipped.
func (s *PostgresStore) GetStreamEntries(ctx context.Context, ids []string) ([]*domain.StreamEntry, error) {
	if len(ids) == 0 {
		return []*domain.StreamEntry{}, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT se.id, se.account_id, se.created_at, se.updated_at,
			st.id, st.uri, st.url, st.content, st.spoiler_text, st.language, st.visibility,
			st.sensitive, st.in_reply_to_uri, st.in_reply_to_url, st.created_at, st.updated_at
		FROM stream_entries se
		LEFT JOIN statuses st ON st.id = se.status_id
		WHERE se.id = ANY($1)
		ORDER BY se.created_at DESC
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("querying stream entries: %w", err)
	}
	defer rows.Close()

	entries := []*domain.StreamEntry{}
	for rows.Next() {
		var (
			e                                          domain.StreamEntry
			statusID, uri, url, content, spoiler, lang *string
			visibility, replyURI, replyURL             *string
			sensitive                                  *bool
			statusCreated, statusUpdated               *time.Time
		)
		err := rows.Scan(
			&e.ID, &e.AccountID, &e.CreatedAt, &e.UpdatedAt,
			&statusID, &uri, &url, &content, &spoiler, &lang, &visibility,
			&sensitive, &replyURI, &replyURL, &statusCreated, &statusUpdated,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning stream entry: %w", err)
		}
		if statusID != nil {
			e.Status = &domain.Status{
				ID:           *statusID,
				URI:          deref(uri),
				URL:          deref(url),
				Content:      deref(content),
				SpoilerText:  deref(spoiler),
				Language:     deref(lang),
				Visibility:   domain.Visibility(deref(visibility)),
				Sensitive:    sensitive != nil && *sensitive,
				InReplyToURI: deref(replyURI),
				InReplyToURL: deref(replyURL),
			}
			if statusCreated != nil {
				e.Status.CreatedAt = *statusCreated
			}
			if statusUpdated != nil {
				e.Status.UpdatedAt = *statusUpdated
			}
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stream entries: %w", err)
	}

	return entries, nil
}

// FollowerDomains returns the hosts of the remote accounts following accountID.
func (s *PostgresStore) FollowerDomains(ctx context.Context, accountID string) (domain.HostSet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT a.domain
		FROM follows f
		JOIN accounts a ON a.id = f.account_id
		WHERE f.target_account_id = $1 AND a.domain IS NOT NULL
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("querying follower domains: %w", err)
	}
	defer rows.Close()

	domains := domain.NewHostSet()
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scanning follower domain: %w", err)
		}
		domains.Add(d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating follower domains: %w", err)
	}

	return domains, nil
}

// IsDomainBlocked reports whether host, or any parent domain of it, is
// suspended by instance policy.
func (s *PostgresStore) IsDomainBlocked(ctx context.Context, host string) (bool, error) {
	var blocked bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM domain_blocks WHERE severity = 'suspend' AND domain = ANY($1))
	`, domainCandidates(host)).Scan(&blocked)
	if err != nil {
		return false, fmt.Errorf("querying domain blocks: %w", err)
	}
	return blocked, nil
}

// domainCandidates expands "a.b.example" into itself and its parents,
// stopping before the top-level label.
func domainCandidates(host string) []string {
	labels := strings.Split(host, ".")
	candidates := []string{host}
	for i := 1; i < len(labels)-1; i++ {
		candidates = append(candidates, strings.Join(labels[i:], "."))
	}
	return candidates
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
