// Package progress defines the completion events emitted by the crawl
// workers for external monitoring.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported stages.
const (
	StageTaskStart Stage = "TASK_START"
	StageTaskDone  Stage = "TASK_DONE"
	StageTaskError Stage = "TASK_ERROR"
)

// Event captures one milestone of a crawl run. Completion events carry the
// full per-task tally so a consumer needs no other state.
type Event struct {
	// RunID identifies the crawl run; TaskID the (keyword, city) task.
	RunID  uuid.UUID
	TaskID uuid.UUID
	// TS is the UTC timestamp recorded by the emitter.
	TS      time.Time
	Stage   Stage
	Keyword string
	City    string
	// Totals below are set on TASK_DONE / TASK_ERROR.
	PagesFetched   int
	RecordsMapped  int
	RecordsDropped int
	RecordsStored  int
	Inserted       int
	Updated        int
	// Dur is the task wall time for completion events.
	Dur time.Duration
	// Note carries low-volume context such as abort reasons.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TaskID == uuid.Nil {
		return errors.New("task id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageTaskStart, StageTaskDone, StageTaskError:
		if e.Keyword == "" {
			return errors.New("task events require a keyword")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
