package scheduler

import (
	"encoding/json"
	"time"

	"github.com/Sternrassler/rewind-dispatch/pkg/checkpoint"
)

// Summary is the structured result of one invocation.
type Summary struct {
	Success       bool              `json:"success"`
	Message       string            `json:"message"`
	Workday       string            `json:"workday"`
	Status        checkpoint.Status `json:"status,omitempty"`
	Skipped       bool              `json:"skipped,omitempty"`
	Progress      Progress          `json:"progress"`
	ThisExecution Execution         `json:"thisExecution"`
	Errors        []string          `json:"errors"`
	NextExecution string            `json:"nextExecution,omitempty"`
}

// Progress is the workday-wide progress.
type Progress struct {
	Total      int     `json:"total"`
	Processed  int     `json:"processed"`
	Percent    float64 `json:"percent"`
	IsComplete bool    `json:"isComplete"`
}

// Execution counts what this invocation did.
type Execution struct {
	Batches      int           `json:"batches"`
	Sent         int           `json:"sent"`
	Failed       int           `json:"failed"`
	Skipped      int           `json:"skipped"`
	DistinctKeys int           `json:"distinctKeys"`
	Lookups      int           `json:"lookups"`
	CacheEntries int           `json:"cacheEntries"`
	Elapsed      time.Duration `json:"-"`
}

// MarshalJSON renders Elapsed as a duration string.
func (e Execution) MarshalJSON() ([]byte, error) {
	type plain Execution
	return json.Marshal(struct {
		plain
		Elapsed string `json:"elapsed"`
	}{plain(e), e.Elapsed.Round(time.Millisecond).String()})
}

func progressOf(cp *checkpoint.Checkpoint) Progress {
	return Progress{
		Total:      cp.TotalRecipients,
		Processed:  cp.Processed,
		Percent:    cp.Percent(),
		IsComplete: cp.Status == checkpoint.StatusCompleted,
	}
}

func (s *Scheduler) summary(cp *checkpoint.Checkpoint, exec Execution, errs []string, msg, next string) Summary {
	if errs == nil {
		errs = []string{}
	}
	return Summary{
		Success:       true,
		Message:       msg,
		Workday:       cp.Workday,
		Status:        cp.Status,
		Progress:      progressOf(cp),
		ThisExecution: exec,
		Errors:        errs,
		NextExecution: next,
	}
}

func terminalSummary(cp *checkpoint.Checkpoint) Summary {
	sum := Summary{
		Success:  cp.Status == checkpoint.StatusCompleted,
		Workday:  cp.Workday,
		Status:   cp.Status,
		Progress: progressOf(cp),
		Errors:   []string{},
	}
	if cp.Status == checkpoint.StatusCompleted {
		sum.Message = "already completed for " + cp.Workday
	} else {
		sum.Message = "run failed earlier for " + cp.Workday + "; delete the checkpoint to retry"
		if cp.LastError != "" {
			sum.Errors = []string{cp.LastError}
		}
	}
	return sum
}

func failureSummary(workday string, err error) Summary {
	return Summary{
		Success: false,
		Workday: workday,
		Status:  checkpoint.StatusFailed,
		Message: "dispatch failed",
		Errors:  []string{err.Error()},
	}
}
