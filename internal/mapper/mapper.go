// Package mapper normalizes raw search API records into canonical entities.
package mapper

import (
	"encoding/json"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/yifanzhou/job51-crawler/internal/crawler"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

const detailURLTemplate = "https://jobs.51job.com/%s.html"

// ValidationError reports a record that cannot become a canonical entity.
// Such records are dropped and logged, never stored.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid record: field %s %s", e.Field, e.Reason)
}

// rawJob mirrors the subset of the search payload the mapper consumes.
// Field names follow the upstream API.
type rawJob struct {
	JobID       string   `json:"jobId"`
	JobName     string   `json:"jobName"`
	CompanyName string   `json:"companyName"`
	CompanyType string   `json:"companyTypeString"`
	CompanySize string   `json:"companySizeString"`
	Salary      string   `json:"provideSalaryString"`
	JobAreaCode string   `json:"jobAreaCode"`
	JobAreaText string   `json:"jobAreaString"`
	WorkYear    string   `json:"workYearString"`
	Degree      string   `json:"degreeString"`
	JobTags     []string `json:"jobTags"`
	IssueDate   string   `json:"issueDateString"`
	UpdateDate  string   `json:"updateDateTime"`
	JobHref     string   `json:"jobHref"`
	Describe    string   `json:"jobDescribe"`
}

// RecordMapper turns raw records into JobRecords, stamping crawl time at
// mapping time via the injected clock.
type RecordMapper struct {
	clock crawler.Clock
}

// New builds a RecordMapper.
func New(clock crawler.Clock) *RecordMapper {
	return &RecordMapper{clock: clock}
}

// Map extracts, validates and normalizes one raw record. Required fields are
// jobId, jobName and companyName; anything else degrades gracefully.
func (m *RecordMapper) Map(raw json.RawMessage, task crawler.CrawlTask) (crawler.JobRecord, error) {
	var rj rawJob
	if err := jsonAPI.Unmarshal(raw, &rj); err != nil {
		return crawler.JobRecord{}, &ValidationError{Field: "record", Reason: "is not a JSON object: " + err.Error()}
	}
	jobID := strings.TrimSpace(rj.JobID)
	if jobID == "" {
		return crawler.JobRecord{}, &ValidationError{Field: "jobId", Reason: "is empty"}
	}
	title := strings.TrimSpace(rj.JobName)
	if title == "" {
		return crawler.JobRecord{}, &ValidationError{Field: "jobName", Reason: "is empty"}
	}
	company := strings.TrimSpace(rj.CompanyName)
	if company == "" {
		return crawler.JobRecord{}, &ValidationError{Field: "companyName", Reason: "is empty"}
	}

	cityCode := strings.TrimSpace(rj.JobAreaCode)
	if cityCode == "" {
		cityCode = task.CityCode
	}
	salaryMin, salaryMax := ParseSalary(rj.Salary)

	jobURL := strings.TrimSpace(rj.JobHref)
	if jobURL == "" {
		jobURL = fmt.Sprintf(detailURLTemplate, jobID)
	}

	return crawler.JobRecord{
		JobID:          jobID,
		JobTitle:       title,
		CompanyName:    company,
		CompanyType:    strings.TrimSpace(rj.CompanyType),
		CompanySize:    strings.TrimSpace(rj.CompanySize),
		SalaryMin:      salaryMin,
		SalaryMax:      salaryMax,
		SalaryText:     strings.TrimSpace(rj.Salary),
		ProvinceCode:   provinceOf(cityCode),
		CityCode:       cityCode,
		District:       districtOf(rj.JobAreaText),
		JobDescription: strings.TrimSpace(rj.Describe),
		WorkExperience: strings.TrimSpace(rj.WorkYear),
		Education:      strings.TrimSpace(rj.Degree),
		JobTags:        cleanTags(rj.JobTags),
		PublishDate:    strings.TrimSpace(rj.IssueDate),
		UpdateDate:     strings.TrimSpace(rj.UpdateDate),
		CrawlTime:      m.clock.Now(),
		JobURL:         jobURL,
		RawData:        append(json.RawMessage(nil), raw...),
	}, nil
}

// provinceOf derives the province code from an area code: the leading two
// digits identify the province, e.g. "020000" -> "020000", "030200" ->
// "030000".
func provinceOf(cityCode string) string {
	if len(cityCode) < 2 {
		return ""
	}
	return cityCode[:2] + strings.Repeat("0", len(cityCode)-2)
}

// districtOf pulls the district out of an area label like "上海-浦东新区".
func districtOf(areaText string) string {
	_, district, found := strings.Cut(areaText, "-")
	if !found {
		return ""
	}
	return strings.TrimSpace(district)
}

func cleanTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
