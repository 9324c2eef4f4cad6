package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/yifanzhou/job51-crawler/internal/crawler"
)

func sampleRecord(jobID string) crawler.JobRecord {
	now := time.Unix(1700000000, 0).UTC()
	salaryMin, salaryMax := 8000, 12000
	return crawler.JobRecord{
		JobID:          jobID,
		JobTitle:       "Go后端工程师",
		CompanyName:    "某某科技有限公司",
		CompanyType:    "民营",
		CompanySize:    "150-500人",
		SalaryMin:      &salaryMin,
		SalaryMax:      &salaryMax,
		SalaryText:     "8千-1.2万/月",
		ProvinceCode:   "030000",
		CityCode:       "030200",
		District:       "浦东新区",
		JobDescription: "负责后端服务开发",
		WorkExperience: "3-4年",
		Education:      "本科",
		JobTags:        []string{"五险一金", "年终奖金"},
		PublishDate:    "2026-03-10 12:00:00",
		UpdateDate:     "2026-03-13 08:30:00",
		CrawlTime:      now,
		JobURL:         "https://jobs.51job.com/shanghai/1.html",
		RawData:        json.RawMessage(`{"jobId":"1"}`),
	}
}

func expectUpsert(mock pgxmock.PgxPoolIface, rec crawler.JobRecord, inserted bool) {
	tagsJSON, _ := json.Marshal(rec.JobTags)
	mock.ExpectQuery("INSERT INTO job_listings").
		WithArgs(
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
		).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(inserted))
}

func TestUpsertBatchCountsInsertsAndUpdates(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock, "job_listings")
	require.NoError(t, err)

	recs := []crawler.JobRecord{sampleRecord("1"), sampleRecord("2"), sampleRecord("3")}

	mock.ExpectBegin()
	expectUpsert(mock, recs[0], true)
	expectUpsert(mock, recs[1], true)
	expectUpsert(mock, recs[2], false)
	mock.ExpectCommit()

	stats, err := store.UpsertBatch(context.Background(), recs)
	require.NoError(t, err)
	require.Equal(t, crawler.UpsertStats{Inserted: 2, Updated: 1}, stats)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertBatchEmptyIsNoop(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock, "job_listings")
	require.NoError(t, err)

	stats, err := store.UpsertBatch(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, stats.Inserted)
	require.Zero(t, stats.Updated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertBatchRejectsMissingJobID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock, "job_listings")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err = store.UpsertBatch(context.Background(), []crawler.JobRecord{{JobTitle: "no id"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "job_id is required")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertBatchQueryFailureRollsBack(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock, "job_listings")
	require.NoError(t, err)

	rec := sampleRecord("1")
	tagsJSON, _ := json.Marshal(rec.JobTags)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO job_listings").
		WithArgs(
			rec.JobID, rec.JobTitle, rec.CompanyName, rec.CompanyType, rec.CompanySize,
			rec.SalaryMin, rec.SalaryMax, rec.SalaryText, rec.ProvinceCode, rec.CityCode,
			rec.District, rec.JobDescription, rec.WorkExperience, rec.Education, tagsJSON,
			rec.PublishDate, rec.UpdateDate, rec.CrawlTime, rec.JobURL, []byte(rec.RawData),
		).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	_, err = store.UpsertBatch(context.Background(), []crawler.JobRecord{rec})
	require.Error(t, err)
	require.Contains(t, err.Error(), "upsert job 1")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertQueryPreservesFirstSeenPublishDate(t *testing.T) {
	t.Parallel()

	q := upsertQuery("job_listings")
	require.Contains(t, q, "ON CONFLICT (job_id) DO UPDATE SET")
	require.Contains(t, q, "publish_date,")
	require.NotContains(t, q, "publish_date = EXCLUDED.publish_date")
	require.Contains(t, q, "RETURNING (xmax = 0) AS inserted")
}

func TestEnsureSchemaRunsAllStatements(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock, "job_listings")
	require.NoError(t, err)

	stmts := schemaStatements("job_listings")
	require.NotEmpty(t, stmts)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS job_listings").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	for range stmts[1:] {
		mock.ExpectExec("CREATE INDEX IF NOT EXISTS").
			WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewJobStoreWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewJobStoreWithPool(nil, "job_listings")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewJobStoreWithPool(mock, `job"listings;drop`)
	require.Error(t, err)

	store, err := NewJobStoreWithPool(mock, "")
	require.NoError(t, err)
	require.True(t, strings.Contains(upsertQuery(store.table), "job_listings"))
}
