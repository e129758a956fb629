package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrSubscriptionNotFound is returned when no subscription has the id.
	ErrSubscriptionNotFound = errors.New("webhook subscription not found")

	// ErrInvalidSubscription wraps validation failures on create.
	ErrInvalidSubscription = errors.New("invalid webhook subscription")
)

// Registry resolves subscriptions. The import pipeline only reads it.
type Registry interface {
	Enabled(ctx context.Context, event string) ([]Subscription, error)
	Get(ctx context.Context, id uuid.UUID) (Subscription, error)
}

// PGRegistry stores subscriptions in webhook_subscriptions.
type PGRegistry struct {
	pool *pgxpool.Pool
}

func NewPGRegistry(pool *pgxpool.Pool) *PGRegistry {
	return &PGRegistry{pool: pool}
}

const subscriptionColumns = `id, name, url, event, enabled, created_at`

func scanSubscription(row pgx.Row) (Subscription, error) {
	var s Subscription
	err := row.Scan(&s.ID, &s.Name, &s.URL, &s.Event, &s.Enabled, &s.CreatedAt)
	return s, err
}

// Enabled returns every enabled subscription for event.
func (r *PGRegistry) Enabled(ctx context.Context, event string) ([]Subscription, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM webhook_subscriptions
		 WHERE event = $1 AND enabled ORDER BY created_at`, event)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions for %s: %w", event, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Subscription, error) {
		return scanSubscription(row)
	})
}

func (r *PGRegistry) Get(ctx context.Context, id uuid.UUID) (Subscription, error) {
	s, err := scanSubscription(r.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM webhook_subscriptions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Subscription{}, ErrSubscriptionNotFound
	}
	if err != nil {
		return Subscription{}, fmt.Errorf("get subscription %s: %w", id, err)
	}
	return s, nil
}

// List returns all subscriptions, newest first.
func (r *PGRegistry) List(ctx context.Context) ([]Subscription, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM webhook_subscriptions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Subscription, error) {
		return scanSubscription(row)
	})
}

// Create validates and stores s, assigning its id and creation time.
func (r *PGRegistry) Create(ctx context.Context, s Subscription) (Subscription, error) {
	if err := Validate(s); err != nil {
		return Subscription{}, err
	}
	s.ID = uuid.New()

	created, err := scanSubscription(r.pool.QueryRow(ctx,
		`INSERT INTO webhook_subscriptions (id, name, url, event, enabled)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+subscriptionColumns,
		s.ID, strings.TrimSpace(s.Name), strings.TrimSpace(s.URL), s.Event, s.Enabled))
	if err != nil {
		return Subscription{}, fmt.Errorf("create subscription: %w", err)
	}
	return created, nil
}

// SetEnabled toggles a subscription.
func (r *PGRegistry) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE webhook_subscriptions SET enabled = $2 WHERE id = $1`, id, enabled)
	if err != nil {
		return fmt.Errorf("update subscription %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (r *PGRegistry) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete subscription %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// Validate checks the user-supplied fields of a subscription.
func Validate(s Subscription) error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSubscription)
	}
	if !slices.Contains(KnownEvents, s.Event) {
		return fmt.Errorf("%w: event must be one of %s", ErrInvalidSubscription, strings.Join(KnownEvents, ", "))
	}
	u, err := url.Parse(strings.TrimSpace(s.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be an absolute http(s) URL", ErrInvalidSubscription)
	}
	return nil
}
