// Package crawler defines core types shared across subsystems.
package crawler

import (
	"encoding/json"
	"time"
)

// CrawlTask is one (keyword, city code) unit of crawl work. Tasks are
// immutable once built by the orchestrator.
type CrawlTask struct {
	Keyword  string
	CityCode string
	MaxPages int
	PageSize int
}

// RawPage is the decoded payload of one search API response. The record
// objects stay raw so the mapper owns all field extraction and the verbatim
// source JSON can be persisted for auditing.
type RawPage struct {
	// TotalCount is the server-reported result count. It is a hint only;
	// pagination terminates on an empty page, never on this value.
	TotalCount int
	Records    []json.RawMessage
}

// JobRecord is the canonical entity persisted per job posting.
type JobRecord struct {
	JobID          string
	JobTitle       string
	CompanyName    string
	CompanyType    string
	CompanySize    string
	SalaryMin      *int
	SalaryMax      *int
	SalaryText     string
	ProvinceCode   string
	CityCode       string
	District       string
	JobDescription string
	WorkExperience string
	Education      string
	JobTags        []string
	PublishDate    string
	UpdateDate     string
	CrawlTime      time.Time
	JobURL         string
	RawData        json.RawMessage
}

// TaskResult carries everything one page walk produced. Records always holds
// whatever mapped before an abort; Err is the abort reason, nil on clean
// termination.
type TaskResult struct {
	Task           CrawlTask
	Records        []JobRecord
	PagesFetched   int
	RecordsMapped  int
	RecordsDropped int
	Err            error
}

// UpsertStats reports the outcome of one batch write.
type UpsertStats struct {
	Inserted int
	Updated  int
}
