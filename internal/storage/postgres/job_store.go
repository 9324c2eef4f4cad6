// Package postgres provides the Postgres-backed job listing store.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yifanzhou/job51-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool behind the job store.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

// JobStore upserts canonical job records keyed by job_id. Writes are
// serialized only at the batch-transaction boundary; concurrent batches rely
// on the database's atomic conflict resolution.
type JobStore struct {
	pool  pgxPool
	table string
}

// NewJobStore connects a pool and verifies it with a ping.
func NewJobStore(ctx context.Context, cfg Config) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "job_listings"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &JobStore{pool: pool, table: table}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewJobStoreWithPool(pool pgxPool, table string) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "job_listings"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &JobStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the listings table and the secondary indexes the
// health-monitoring queries read.
func (s *JobStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.table) {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// UpsertBatch writes all records in one transaction. On conflict by job_id
// the mutable fields are refreshed while job_id and the first-seen
// publish_date stay untouched. Re-running an identical batch is idempotent.
func (s *JobStore) UpsertBatch(ctx context.Context, records []crawler.JobRecord) (crawler.UpsertStats, error) {
	var stats crawler.UpsertStats
	if s == nil || s.pool == nil {
		return stats, fmt.Errorf("job store is not configured")
	}
	if len(records) == 0 {
		return stats, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return stats, fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := upsertQuery(s.table)
	for _, rec := range records {
		if rec.JobID == "" {
			return crawler.UpsertStats{}, fmt.Errorf("record job_id is required")
		}
		tagsJSON, err := json.Marshal(normalizeTags(rec.JobTags))
		if err != nil {
			return crawler.UpsertStats{}, fmt.Errorf("marshal job tags: %w", err)
		}
		var inserted bool
		err = tx.QueryRow(ctx, query,
			rec.JobID,
			rec.JobTitle,
			rec.CompanyName,
			rec.CompanyType,
			rec.CompanySize,
			rec.SalaryMin,
			rec.SalaryMax,
			rec.SalaryText,
			rec.ProvinceCode,
			rec.CityCode,
			rec.District,
			rec.JobDescription,
			rec.WorkExperience,
			rec.Education,
			tagsJSON,
			rec.PublishDate,
			rec.UpdateDate,
			rec.CrawlTime,
			rec.JobURL,
			[]byte(rec.RawData),
		).Scan(&inserted)
		if err != nil {
			return crawler.UpsertStats{}, fmt.Errorf("upsert job %s: %w", rec.JobID, err)
		}
		if inserted {
			stats.Inserted++
		} else {
			stats.Updated++
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return crawler.UpsertStats{}, fmt.Errorf("commit batch: %w", err)
	}
	return stats, nil
}

// upsertQuery deliberately omits publish_date from the update list so the
// first-seen value wins forever. xmax = 0 distinguishes a fresh insert from
// a conflict update.
func upsertQuery(table string) string {
	return fmt.Sprintf(`
INSERT INTO %s (
	job_id,
	job_title,
	company_name,
	company_type,
	company_size,
	salary_min,
	salary_max,
	salary_text,
	province_code,
	city_code,
	district,
	job_description,
	work_experience,
	education,
	job_tags,
	publish_date,
	update_date,
	crawl_time,
	job_url,
	raw_data
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20
)
ON CONFLICT (job_id) DO UPDATE SET
	job_title = EXCLUDED.job_title,
	company_name = EXCLUDED.company_name,
	company_type = EXCLUDED.company_type,
	company_size = EXCLUDED.company_size,
	salary_min = EXCLUDED.salary_min,
	salary_max = EXCLUDED.salary_max,
	salary_text = EXCLUDED.salary_text,
	province_code = EXCLUDED.province_code,
	city_code = EXCLUDED.city_code,
	district = EXCLUDED.district,
	job_description = EXCLUDED.job_description,
	work_experience = EXCLUDED.work_experience,
	education = EXCLUDED.education,
	job_tags = EXCLUDED.job_tags,
	update_date = EXCLUDED.update_date,
	crawl_time = EXCLUDED.crawl_time,
	job_url = EXCLUDED.job_url,
	raw_data = EXCLUDED.raw_data
RETURNING (xmax = 0) AS inserted`, table)
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return []string{}
	}
	return append([]string(nil), tags...)
}
