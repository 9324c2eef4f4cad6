// Package dispatcher enumerates the crawl task set and fans it out over a
// bounded worker pool.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yifanzhou/job51-crawler/internal/crawler"
	"github.com/yifanzhou/job51-crawler/internal/progress"
)

// Walker runs one task to completion or abort.
type Walker interface {
	Walk(ctx context.Context, task crawler.CrawlTask) crawler.TaskResult
}

// Config controls pool size and the storage retry envelope.
type Config struct {
	Concurrency    int
	StorageRetries int
	StorageBackoff time.Duration
	// FlushTimeout bounds the detached flush that runs even during
	// shutdown so produced batches are never silently dropped.
	FlushTimeout time.Duration
}

// Summary is the final per-run report.
type Summary struct {
	RunID          uuid.UUID
	TasksTotal     int
	TasksSucceeded int
	TasksFailed    int
	PagesFetched   int
	RecordsMapped  int
	RecordsDropped int
	RecordsStored  int
	Inserted       int
	Updated        int
}

// Dispatcher owns the crawl run: task enumeration, worker fan-out, batch
// persistence with bounded retries, and completion events. One task's
// failure never halts the others.
type Dispatcher struct {
	walker Walker
	store  crawler.JobStore
	hub    progress.Emitter
	clock  crawler.Clock
	cfg    Config
	logger *zap.Logger
}

// New creates a Dispatcher.
func New(
	walker Walker,
	store crawler.JobStore,
	hub progress.Emitter,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.StorageBackoff <= 0 {
		cfg.StorageBackoff = 2 * time.Second
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		walker: walker,
		store:  store,
		hub:    hub,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
}

// BuildTasks expands the keyword × city cross-product into the task set.
func BuildTasks(keywords, cityCodes []string, maxPages, pageSize int) []crawler.CrawlTask {
	tasks := make([]crawler.CrawlTask, 0, len(keywords)*len(cityCodes))
	for _, kw := range keywords {
		for _, city := range cityCodes {
			tasks = append(tasks, crawler.CrawlTask{
				Keyword:  kw,
				CityCode: city,
				MaxPages: maxPages,
				PageSize: pageSize,
			})
		}
	}
	return tasks
}

// Run executes all tasks and blocks until every worker finishes. On
// cancellation, in-flight fetches abort but completed batches still flush.
func (d *Dispatcher) Run(ctx context.Context, tasks []crawler.CrawlTask) Summary {
	summary := Summary{RunID: uuid.New(), TasksTotal: len(tasks)}
	if len(tasks) == 0 {
		return summary
	}

	taskCh := make(chan crawler.CrawlTask)
	go func() {
		defer close(taskCh)
		for _, task := range tasks {
			select {
			case taskCh <- task:
			case <-ctx.Done():
				return
			}
		}
	}()

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskCh {
				outcome := d.processTask(ctx, summary.RunID, task)
				mu.Lock()
				accumulate(&summary, outcome)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return summary
}

type taskOutcome struct {
	result crawler.TaskResult
	stats  crawler.UpsertStats
	failed bool
}

func (d *Dispatcher) processTask(ctx context.Context, runID uuid.UUID, task crawler.CrawlTask) taskOutcome {
	taskID := uuid.New()
	started := d.clock.Now()
	d.hub.Emit(progress.Event{
		RunID:   runID,
		TaskID:  taskID,
		TS:      started,
		Stage:   progress.StageTaskStart,
		Keyword: task.Keyword,
		City:    task.CityCode,
	})

	result := d.walker.Walk(ctx, task)
	stats, storeErr := d.flushBatch(result)

	outcome := taskOutcome{
		result: result,
		stats:  stats,
		failed: result.Err != nil || storeErr != nil,
	}

	evt := progress.Event{
		RunID:          runID,
		TaskID:         taskID,
		TS:             d.clock.Now(),
		Stage:          progress.StageTaskDone,
		Keyword:        task.Keyword,
		City:           task.CityCode,
		PagesFetched:   result.PagesFetched,
		RecordsMapped:  result.RecordsMapped,
		RecordsDropped: result.RecordsDropped,
		RecordsStored:  stats.Inserted + stats.Updated,
		Inserted:       stats.Inserted,
		Updated:        stats.Updated,
		Dur:            d.clock.Now().Sub(started),
	}
	if outcome.failed {
		evt.Stage = progress.StageTaskError
		switch {
		case result.Err != nil && storeErr != nil:
			evt.Note = result.Err.Error() + "; " + storeErr.Error()
		case result.Err != nil:
			evt.Note = result.Err.Error()
		default:
			evt.Note = storeErr.Error()
		}
	}
	d.hub.Emit(evt)
	return outcome
}

// flushBatch persists the task's batch with bounded retries. It runs on a
// detached context so a canceled run still lands its produced records;
// partial batches from aborted tasks flush like any other.
func (d *Dispatcher) flushBatch(result crawler.TaskResult) (crawler.UpsertStats, error) {
	if len(result.Records) == 0 {
		return crawler.UpsertStats{}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.FlushTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= d.cfg.StorageRetries; attempt++ {
		stats, err := d.store.UpsertBatch(ctx, result.Records)
		if err == nil {
			return stats, nil
		}
		lastErr = err
		d.logger.Warn("batch upsert failed",
			zap.String("keyword", result.Task.Keyword),
			zap.String("city", result.Task.CityCode),
			zap.Int("records", len(result.Records)),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		if attempt == d.cfg.StorageRetries {
			break
		}
		timer := time.NewTimer(d.cfg.StorageBackoff * time.Duration(attempt+1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return crawler.UpsertStats{}, lastErr
		case <-timer.C:
		}
		timer.Stop()
	}
	return crawler.UpsertStats{}, lastErr
}

func accumulate(s *Summary, o taskOutcome) {
	if o.failed {
		s.TasksFailed++
	} else {
		s.TasksSucceeded++
	}
	s.PagesFetched += o.result.PagesFetched
	s.RecordsMapped += o.result.RecordsMapped
	s.RecordsDropped += o.result.RecordsDropped
	s.RecordsStored += o.stats.Inserted + o.stats.Updated
	s.Inserted += o.stats.Inserted
	s.Updated += o.stats.Updated
}
