package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/MrSnakeDoc/directory/internal/connect"
	"github.com/MrSnakeDoc/directory/internal/domain"
	"github.com/MrSnakeDoc/directory/internal/logger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the SQLSTATE of a unique constraint failure.
const uniqueViolation = "23505"

// Options configures the connection pool.
type Options struct {
	URL      string
	MaxConns int32
	Retry    connect.Options
}

// Repository implements domain.Repository on PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

var _ domain.Repository = (*Repository)(nil)

// Open creates the pool, waits for the database to answer and applies the
// schema.
func Open(ctx context.Context, opts Options, log logger.Logger) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}

	db, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create database pool: %w", err)
	}

	retry := opts.Retry
	retry.Name = "postgres"
	retry.Target = net.JoinHostPort(cfg.ConnConfig.Host, strconv.Itoa(int(cfg.ConnConfig.Port))) + "/" + cfg.ConnConfig.Database
	if err := connect.WithRetry(ctx, db.Ping, retry, log); err != nil {
		db.Close()
		return nil, err
	}

	r := New(db)
	if err := r.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// New wraps an existing pool
func New(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Close() {
	r.db.Close()
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

const listColumns = `
	SELECT i.id, i.url, i.version, i.https, i.https_redirect, i.country_id,
		i.attachments, i.csp_header, i.variant,
		COALESCE(100 * SUM(CASE WHEN c.up THEN 1 ELSE 0 END) / NULLIF(COUNT(c.id), 0), 0) AS uptime,
		COALESCE(s.rating, '-') AS rating
	FROM instances i
	LEFT JOIN checks c ON c.instance_id = i.id
	LEFT JOIN scans s ON s.instance_id = i.id AND s.scanner = 'mozilla_observatory'
	GROUP BY i.id, s.rating, s.percent`

const rankedQuery = listColumns + `
	ORDER BY i.version COLLATE "C" DESC, i.https DESC, i.https_redirect DESC, i.csp_header DESC,
		COALESCE(s.percent, 0) DESC, i.attachments DESC, uptime DESC, i.url COLLATE "C" ASC
	LIMIT $1`

const urlQuery = listColumns + `
	ORDER BY i.url COLLATE "C" ASC
	LIMIT $1`

func (r *Repository) ListInstances(ctx context.Context, opts domain.ListOptions) ([]domain.Instance, error) {
	query := rankedQuery
	if opts.Order == domain.OrderURL {
		query = urlQuery
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = domain.ListingLimit
	}

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var instances []domain.Instance
	for rows.Next() {
		var (
			inst    domain.Instance
			variant int16
			uptime  int64
		)
		if err := rows.Scan(
			&inst.ID,
			&inst.URL,
			&inst.Version,
			&inst.HTTPS,
			&inst.HTTPSRedirect,
			&inst.CountryID,
			&inst.Attachments,
			&inst.CSPHeader,
			&variant,
			&uptime,
			&inst.RatingMozillaObservatory,
		); err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		inst.Variant = domain.Variant(variant)
		inst.Uptime = int(uptime)
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	return instances, nil
}

// InsertInstance stores the instance, its first check and its scans in one
// transaction.
func (r *Repository) InsertInstance(ctx context.Context, c *domain.Candidate) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inst := c.Instance
	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO instances (url, version, https, https_redirect, country_id, attachments, csp_header, variant)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		inst.URL, inst.Version, inst.HTTPS, inst.HTTPSRedirect, inst.CountryID,
		inst.Attachments, inst.CSPHeader, int16(inst.Variant),
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, domain.ErrInstanceExists
		}
		return 0, fmt.Errorf("failed to insert instance: %w", err)
	}

	batch := &pgx.Batch{}
	batch.Queue(`INSERT INTO checks (updated, up, instance_id) VALUES ($1, TRUE, $2)`, time.Now(), id)
	for _, s := range c.Scans {
		batch.Queue(`INSERT INTO scans (scanner, rating, percent, instance_id) VALUES ($1, $2, $3, $4)`,
			s.Scanner, s.Rating, s.Percent, id)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return 0, fmt.Errorf("failed to insert first check and scans: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit instance: %w", err)
	}
	return id, nil
}

// InsertChecks stores a sweep's checks in one round trip. Checks of instances
// deleted in the meantime are skipped.
func (r *Repository) InsertChecks(ctx context.Context, checks []domain.Check) error {
	if len(checks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range checks {
		batch.Queue(
			`INSERT INTO checks (updated, up, instance_id)
			 SELECT $1::timestamptz, $2::boolean, $3::bigint WHERE EXISTS (SELECT 1 FROM instances WHERE id = $3)`,
			c.Updated, c.Up, c.InstanceID)
	}
	if err := r.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert checks: %w", err)
	}
	return nil
}

func (r *Repository) UpsertScan(ctx context.Context, scan domain.Scan) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO scans (scanner, rating, percent, instance_id)
		 SELECT $1::text, $2::text, $3::integer, $4::bigint WHERE EXISTS (SELECT 1 FROM instances WHERE id = $4)
		 ON CONFLICT (scanner, instance_id) DO UPDATE SET
			rating = EXCLUDED.rating,
			percent = EXCLUDED.percent`,
		scan.Scanner, scan.Rating, scan.Percent, scan.InstanceID)
	if err != nil {
		return fmt.Errorf("failed to upsert scan: %w", err)
	}
	return nil
}

func (r *Repository) UpdateInstance(ctx context.Context, id int64, u domain.InstanceUpdate) error {
	_, err := r.db.Exec(ctx,
		`UPDATE instances SET
			version = $2, https = $3, https_redirect = $4, csp_header = $5,
			attachments = $6, country_id = $7
		 WHERE id = $1`,
		id, u.Version, u.HTTPS, u.HTTPSRedirect, u.CSPHeader, u.Attachments, u.CountryID)
	if err != nil {
		return fmt.Errorf("failed to update instance %d: %w", id, err)
	}
	return nil
}

// DeleteInstance removes the instance; checks and scans cascade.
func (r *Repository) DeleteInstance(ctx context.Context, id int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM instances WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete instance %d: %w", id, err)
	}
	return nil
}

func (r *Repository) DeleteChecksOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM checks WHERE updated < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old checks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) DeleteInstancesWithFailureCountAtLeast(ctx context.Context, threshold int) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM instances
		 WHERE id IN (
			SELECT instance_id
			FROM checks
			WHERE NOT up
			GROUP BY instance_id
			HAVING COUNT(*) >= $1
		 )`, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to delete failing instances: %w", err)
	}
	return tag.RowsAffected(), nil
}
