package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type noDelay struct{}

func (noDelay) Wait(ctx context.Context) error { return ctx.Err() }

// scriptedFetcher replays one canned response (or error) per FetchPage call,
// in order, regardless of the requested page.
type scriptedFetcher struct {
	script []func() (RawPage, error)
	calls  int
	pages  []int
}

func (f *scriptedFetcher) FetchPage(_ context.Context, _ CrawlTask, page int) (RawPage, error) {
	f.pages = append(f.pages, page)
	if f.calls >= len(f.script) {
		return RawPage{}, fmt.Errorf("unexpected call %d", f.calls)
	}
	step := f.script[f.calls]
	f.calls++
	return step()
}

func pageOf(n int) func() (RawPage, error) {
	records := make([]json.RawMessage, n)
	for i := range records {
		records[i] = json.RawMessage(fmt.Sprintf(`{"id":%d}`, i))
	}
	return func() (RawPage, error) {
		return RawPage{TotalCount: 9999, Records: records}, nil
	}
}

func errOf(kind FetchKind) func() (RawPage, error) {
	return func() (RawPage, error) {
		return RawPage{}, NewFetchError(kind, CrawlTask{}, 0, errors.New("boom"))
	}
}

// echoMapper maps every record verbatim; records containing "bad" fail.
type echoMapper struct{}

func (echoMapper) Map(raw json.RawMessage, _ CrawlTask) (JobRecord, error) {
	if string(raw) == `{"bad":true}` {
		return JobRecord{}, errors.New("invalid record")
	}
	return JobRecord{JobID: string(raw), RawData: raw}, nil
}

func newTestWalker(f Fetcher) *PageWalker {
	policy := NewExponentialRetryPolicy(3, time.Millisecond, 5*time.Millisecond)
	return NewPageWalker(f, echoMapper{}, policy, noDelay{}, nil)
}

func TestWalkTerminatesOnEmptyPage(t *testing.T) {
	t.Parallel()

	// Two content pages then an empty one: exactly three fetches, the
	// advertised total count never drives extra requests.
	f := &scriptedFetcher{script: []func() (RawPage, error){
		pageOf(20), pageOf(5), pageOf(0),
	}}
	task := CrawlTask{Keyword: "go", CityCode: "020000", MaxPages: 2, PageSize: 20}

	res := newTestWalker(f).Walk(context.Background(), task)
	require.NoError(t, res.Err)
	require.Equal(t, 3, f.calls)
	require.Equal(t, []int{1, 2, 3}, f.pages)
	require.Equal(t, 3, res.PagesFetched)
	require.Len(t, res.Records, 25)
	require.Equal(t, 25, res.RecordsMapped)
	require.Zero(t, res.RecordsDropped)
}

func TestWalkProbePageNeverMapped(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{script: []func() (RawPage, error){
		pageOf(10), pageOf(10), pageOf(10),
	}}
	task := CrawlTask{Keyword: "go", CityCode: "020000", MaxPages: 2, PageSize: 10}

	res := newTestWalker(f).Walk(context.Background(), task)
	require.NoError(t, res.Err)
	require.Equal(t, 3, f.calls)
	require.Equal(t, 3, res.PagesFetched)
	// The third fetch only probed for exhaustion.
	require.Len(t, res.Records, 20)
}

func TestWalkSkipsMalformedPage(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{script: []func() (RawPage, error){
		pageOf(5), errOf(KindMalformed), pageOf(3), pageOf(0),
	}}
	task := CrawlTask{Keyword: "go", CityCode: "020000", MaxPages: 3, PageSize: 5}

	res := newTestWalker(f).Walk(context.Background(), task)
	require.NoError(t, res.Err)
	require.Equal(t, []int{1, 2, 3, 4}, f.pages)
	require.Equal(t, 4, res.PagesFetched)
	require.Len(t, res.Records, 8)
}

func TestWalkAbortKeepsPartialBatch(t *testing.T) {
	t.Parallel()

	// Transient failures past the retry budget abort the walk; everything
	// mapped so far survives in the result.
	f := &scriptedFetcher{script: []func() (RawPage, error){
		pageOf(7),
		errOf(KindTransient), errOf(KindTransient), errOf(KindTransient),
	}}
	task := CrawlTask{Keyword: "go", CityCode: "020000", MaxPages: 5, PageSize: 7}

	res := newTestWalker(f).Walk(context.Background(), task)
	require.Error(t, res.Err)
	require.Equal(t, KindTransient, KindOf(res.Err))
	require.Equal(t, 1, res.PagesFetched)
	require.Len(t, res.Records, 7)
}

func TestWalkDropsInvalidRecords(t *testing.T) {
	t.Parallel()

	records := []json.RawMessage{
		json.RawMessage(`{"id":1}`),
		json.RawMessage(`{"bad":true}`),
		json.RawMessage(`{"id":2}`),
	}
	f := &scriptedFetcher{script: []func() (RawPage, error){
		func() (RawPage, error) { return RawPage{Records: records}, nil },
		pageOf(0),
	}}
	task := CrawlTask{Keyword: "go", CityCode: "020000", MaxPages: 5, PageSize: 3}

	res := newTestWalker(f).Walk(context.Background(), task)
	require.NoError(t, res.Err)
	require.Len(t, res.Records, 2)
	require.Equal(t, 2, res.RecordsMapped)
	require.Equal(t, 1, res.RecordsDropped)
}

func TestWalkFirstAuthRejectionIsFree(t *testing.T) {
	t.Parallel()

	// Budget of one attempt: an ordinary failure would abort immediately,
	// but the first session rejection gets a free immediate retry.
	f := &scriptedFetcher{script: []func() (RawPage, error){
		errOf(KindAuthRejected), pageOf(2), pageOf(0),
	}}
	task := CrawlTask{Keyword: "go", CityCode: "020000", MaxPages: 3, PageSize: 2}

	policy := NewExponentialRetryPolicy(1, time.Millisecond, 5*time.Millisecond)
	w := NewPageWalker(f, echoMapper{}, policy, noDelay{}, nil)

	res := w.Walk(context.Background(), task)
	require.NoError(t, res.Err)
	require.Equal(t, []int{1, 1, 2}, f.pages)
	require.Len(t, res.Records, 2)
}

func TestWalkSecondAuthRejectionConsumesBudget(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{script: []func() (RawPage, error){
		errOf(KindAuthRejected), errOf(KindAuthRejected),
	}}
	task := CrawlTask{Keyword: "go", CityCode: "020000", MaxPages: 3, PageSize: 2}

	policy := NewExponentialRetryPolicy(1, time.Millisecond, 5*time.Millisecond)
	w := NewPageWalker(f, echoMapper{}, policy, noDelay{}, nil)

	res := w.Walk(context.Background(), task)
	require.Error(t, res.Err)
	require.Equal(t, KindAuthRejected, KindOf(res.Err))
	require.Equal(t, 2, f.calls)
}

func TestWalkStopsOnCancellation(t *testing.T) {
	t.Parallel()

	f := &scriptedFetcher{script: []func() (RawPage, error){pageOf(4)}}
	task := CrawlTask{Keyword: "go", CityCode: "020000", MaxPages: 5, PageSize: 4}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := newTestWalker(f).Walk(ctx, task)
	require.ErrorIs(t, res.Err, context.Canceled)
	require.Zero(t, f.calls)
	require.Empty(t, res.Records)
}
