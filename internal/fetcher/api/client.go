// Package api implements the search API fetch client.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/yifanzhou/job51-crawler/internal/crawler"
	"github.com/yifanzhou/job51-crawler/internal/session"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// A 2xx response can still be the anti-automation interstitial: a short
// script assigning the challenge token to arg1.
var challengeRe = regexp.MustCompile(`var arg1='([0-9A-Fa-f]{40})'`)

const maxBodyBytes = 8 << 20

// Config controls the fetch client.
type Config struct {
	SearchURL string
	Timeout   time.Duration
}

// Client issues one paginated search request per call and classifies every
// outcome into the fetch error taxonomy.
type Client struct {
	cfg     Config
	session *session.Manager
	client  *http.Client
	logger  *zap.Logger
}

// New builds a Client. A nil http.Client gets one bound to cfg.Timeout.
func New(cfg Config, sess *session.Manager, client *http.Client, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, session: sess, client: client, logger: logger}
}

type envelope struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	ResultBody struct {
		Job struct {
			TotalCount json.Number       `json:"totalCount"`
			Items      []json.RawMessage `json:"items"`
		} `json:"job"`
	} `json:"resultbody"`
}

// FetchPage requests one result page for the task. Errors are always
// *crawler.FetchError; auth rejections invalidate or patch the session
// before returning so the caller's immediate retry runs with fresh headers.
func (c *Client) FetchPage(ctx context.Context, task crawler.CrawlTask, page int) (crawler.RawPage, error) {
	hs, err := c.session.Headers(ctx)
	if err != nil {
		return crawler.RawPage{}, crawler.NewFetchError(crawler.KindTransient, task, page, err)
	}

	req, err := c.buildRequest(ctx, task, page, hs)
	if err != nil {
		return crawler.RawPage{}, crawler.NewFetchError(crawler.KindTransient, task, page, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return crawler.RawPage{}, crawler.NewFetchError(crawler.KindTransient, task, page, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		c.session.Invalidate()
		return crawler.RawPage{}, crawler.NewFetchError(crawler.KindAuthRejected, task, page,
			fmt.Errorf("server responded %d", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests:
		return crawler.RawPage{}, crawler.NewFetchError(crawler.KindRateLimited, task, page,
			fmt.Errorf("server responded %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return crawler.RawPage{}, crawler.NewFetchError(crawler.KindTransient, task, page,
			fmt.Errorf("server responded %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return crawler.RawPage{}, crawler.NewFetchError(crawler.KindTransient, task, page, err)
	}

	if m := challengeRe.FindSubmatch(body); m != nil {
		if err := c.session.ApplyChallenge(string(m[1])); err != nil {
			c.session.Invalidate()
			c.logger.Warn("challenge solve failed, session dropped", zap.Error(err))
		}
		return crawler.RawPage{}, crawler.NewFetchError(crawler.KindAuthRejected, task, page,
			fmt.Errorf("verification challenge served"))
	}

	var env envelope
	if err := jsonAPI.Unmarshal(body, &env); err != nil {
		return crawler.RawPage{}, crawler.NewFetchError(crawler.KindMalformed, task, page,
			fmt.Errorf("decode response: %w", err))
	}
	if env.Status != "1" {
		// The API signals a rejected session through its own status field.
		c.session.Invalidate()
		return crawler.RawPage{}, crawler.NewFetchError(crawler.KindAuthRejected, task, page,
			fmt.Errorf("api status %q: %s", env.Status, env.Message))
	}

	total, _ := env.ResultBody.Job.TotalCount.Int64()
	return crawler.RawPage{
		TotalCount: int(total),
		Records:    env.ResultBody.Job.Items,
	}, nil
}

func (c *Client) buildRequest(ctx context.Context, task crawler.CrawlTask, page int, hs session.HeaderSet) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.SearchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	q := url.Values{}
	q.Set("keyword", task.Keyword)
	q.Set("jobArea", task.CityCode)
	q.Set("pageNum", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(task.PageSize))
	q.Set("searchType", "2")
	q.Set("sortType", "0")
	req.URL.RawQuery = q.Encode()

	req.Header.Set("User-Agent", hs.UserAgent)
	req.Header.Set("Accept", hs.Accept)
	if hs.Referer != "" {
		req.Header.Set("Referer", hs.Referer)
	}
	for _, cookie := range hs.Cookies {
		req.AddCookie(cookie)
	}
	return req, nil
}
