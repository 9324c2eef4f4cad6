package postgres

import "fmt"

// schemaStatements returns the DDL for the listings table plus the secondary
// indexes read by the external health-monitoring queries.
func schemaStatements(table string) []string {
	return []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	job_id          TEXT PRIMARY KEY,
	job_title       TEXT NOT NULL,
	company_name    TEXT NOT NULL,
	company_type    TEXT,
	company_size    TEXT,
	salary_min      BIGINT,
	salary_max      BIGINT,
	salary_text     TEXT,
	province_code   TEXT,
	city_code       TEXT NOT NULL,
	district        TEXT,
	job_description TEXT,
	work_experience TEXT,
	education       TEXT,
	job_tags        JSONB,
	publish_date    TEXT,
	update_date     TEXT,
	crawl_time      TIMESTAMPTZ NOT NULL,
	job_url         TEXT,
	raw_data        JSONB
)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_company ON %[1]s (company_name)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_city ON %[1]s (city_code)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_salary ON %[1]s (salary_min, salary_max)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_publish ON %[1]s (publish_date)`, table),
	}
}
