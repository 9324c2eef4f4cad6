package crawler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// PageWalker drives pagination for one task: politeness delay, retry-wrapped
// fetch, per-record mapping, strict page ordering. Pages run 1..MaxPages plus
// one exhaustion probe; the probe page's records are never mapped.
type PageWalker struct {
	fetcher Fetcher
	mapper  Mapper
	policy  *ExponentialRetryPolicy
	delayer Delayer
	logger  *zap.Logger
}

// NewPageWalker wires a walker. A nil logger is replaced with a nop logger.
func NewPageWalker(
	fetcher Fetcher,
	mapper Mapper,
	policy *ExponentialRetryPolicy,
	delayer Delayer,
	logger *zap.Logger,
) *PageWalker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageWalker{
		fetcher: fetcher,
		mapper:  mapper,
		policy:  policy,
		delayer: delayer,
		logger:  logger,
	}
}

// Walk runs the task to completion or abort. The returned result always
// carries the records mapped so far; Err is set only on abort.
func (w *PageWalker) Walk(ctx context.Context, task CrawlTask) TaskResult {
	res := TaskResult{Task: task}
	for page := 1; page <= task.MaxPages+1; page++ {
		raw, err := w.fetchPage(ctx, task, page)
		if err != nil {
			if KindOf(err) == KindMalformed {
				// Unparseable page: skip it and keep walking.
				res.PagesFetched++
				w.logger.Warn("skipping malformed page",
					zap.String("keyword", task.Keyword),
					zap.String("city", task.CityCode),
					zap.Int("page", page),
					zap.Error(err))
				continue
			}
			res.Err = err
			w.logger.Error("task aborted, forwarding partial batch",
				zap.String("keyword", task.Keyword),
				zap.String("city", task.CityCode),
				zap.Int("page", page),
				zap.Int("records_so_far", len(res.Records)),
				zap.Error(err))
			break
		}
		res.PagesFetched++
		if len(raw.Records) == 0 {
			break
		}
		if page == task.MaxPages+1 {
			// Page budget exhausted; this fetch was only the probe.
			break
		}
		w.mapPage(raw, task, page, &res)
	}
	return res
}

func (w *PageWalker) mapPage(raw RawPage, task CrawlTask, page int, res *TaskResult) {
	for _, rec := range raw.Records {
		jr, err := w.mapper.Map(rec, task)
		if err != nil {
			res.RecordsDropped++
			w.logger.Warn("dropping invalid record",
				zap.String("keyword", task.Keyword),
				zap.String("city", task.CityCode),
				zap.Int("page", page),
				zap.ByteString("raw", rec),
				zap.Error(err))
			continue
		}
		res.Records = append(res.Records, jr)
		res.RecordsMapped++
	}
}

// fetchPage applies the politeness delay before every attempt and wraps the
// fetch in the retry policy. The first auth rejection is retried immediately
// with the refreshed session and does not consume the budget.
func (w *PageWalker) fetchPage(ctx context.Context, task CrawlTask, page int) (RawPage, error) {
	attempt := 0
	authRetried := false
	for {
		if err := w.delayer.Wait(ctx); err != nil {
			return RawPage{}, err
		}
		raw, err := w.fetcher.FetchPage(ctx, task, page)
		if err == nil {
			return RawPage{TotalCount: raw.TotalCount, Records: raw.Records}, nil
		}
		if KindOf(err) == KindAuthRejected && !authRetried {
			authRetried = true
			w.logger.Info("session rejected, retrying with fresh session",
				zap.String("keyword", task.Keyword),
				zap.Int("page", page))
			continue
		}
		if !w.policy.ShouldRetry(err, attempt) {
			return RawPage{}, err
		}
		backoff := w.policy.Backoff(err, attempt)
		w.logger.Debug("retrying fetch",
			zap.String("keyword", task.Keyword),
			zap.Int("page", page),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff))
		if err := sleep(ctx, backoff); err != nil {
			return RawPage{}, err
		}
		attempt++
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
