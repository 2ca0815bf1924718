package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/blqio/blq/internal/liveout"
	"github.com/blqio/blq/internal/record"
	"github.com/blqio/blq/internal/store"
)

// Facade is the read-side view over the ledger and the live channel.
// It owns no state; both backends are shared with the writers.
type Facade struct {
	store *store.Store
	live  *liveout.Channel
}

func New(st *store.Store, live *liveout.Channel) *Facade {
	return &Facade{store: st, live: live}
}

// RunView is one completed run with its captured outputs.
type RunView struct {
	Invocation record.Invocation `json:"invocation"`
	Outputs    []record.Output   `json:"outputs"`
	EventCount int               `json:"event_count"`
}

// RunView loads an invocation together with its outputs and event count.
// Returns ErrNotFound when the run does not exist.
func (f *Facade) RunView(ctx context.Context, id string) (*RunView, error) {
	inv, err := f.store.ReadInvocation(ctx, id)
	if err != nil {
		return nil, err
	}
	outputs, err := f.store.ReadOutputs(ctx, id)
	if err != nil {
		return nil, err
	}
	count, err := f.store.CountEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	return &RunView{Invocation: inv, Outputs: outputs, EventCount: count}, nil
}

// EventsForRun returns a run's diagnostic events in insertion order.
func (f *Facade) EventsForRun(ctx context.Context, id string) ([]record.Event, error) {
	return f.store.ReadEvents(ctx, id)
}

// ListRuns returns the most recent invocations, newest first.
func (f *Facade) ListRuns(ctx context.Context, limit int) ([]record.Invocation, error) {
	return f.store.ListInvocations(ctx, limit)
}

// Running returns attempts with no outcome yet, newest first.
func (f *Facade) Running(ctx context.Context) ([]record.RunningAttempt, error) {
	return f.store.ListRunningAttempts(ctx)
}

// StatusView merges an attempt's ledger status with the state of its
// live directory.
type StatusView struct {
	AttemptID string           `json:"attempt_id"`
	Recorded  bool             `json:"recorded"`
	Status    record.RunStatus `json:"status,omitempty"`
	LiveDir   bool             `json:"live_dir"`

	// StaleLiveDir marks a live directory the ledger no longer
	// expects: the attempt already has an outcome, or the ledger never
	// saw the attempt at all.
	StaleLiveDir bool `json:"stale_live_dir"`
}

// Status reports the merged view for one attempt. An attempt unknown to
// both the ledger and the live channel is ErrNotFound.
func (f *Facade) Status(ctx context.Context, attemptID string) (*StatusView, error) {
	view := &StatusView{AttemptID: attemptID}
	view.LiveDir = f.live.Exists(attemptID)

	status, err := f.store.AttemptStatus(ctx, attemptID)
	switch {
	case err == nil:
		view.Recorded = true
		view.Status = status
		view.StaleLiveDir = view.LiveDir && status != record.StatusPending
	case errors.Is(err, store.ErrNotFound):
		if !view.LiveDir {
			return nil, err
		}
		view.StaleLiveDir = true
	default:
		return nil, err
	}
	return view, nil
}

// StaleLiveDirs lists live directories whose ledger state no longer
// expects them. These are left behind by crashes between finalize and
// cleanup, or by executions recorded against a different database.
func (f *Facade) StaleLiveDirs(ctx context.Context) ([]liveout.Entry, error) {
	entries, err := f.live.List()
	if err != nil {
		return nil, err
	}
	stale := []liveout.Entry{}
	for _, e := range entries {
		status, err := f.store.AttemptStatus(ctx, e.AttemptID)
		if errors.Is(err, store.ErrNotFound) {
			stale = append(stale, e)
			continue
		}
		if err != nil {
			return nil, err
		}
		if status != record.StatusPending {
			stale = append(stale, e)
		}
	}
	return stale, nil
}

// Query runs an ad hoc read-only statement against the database and
// returns column names plus stringified rows. Inspection only; nothing
// in the write path goes through here.
func (f *Facade) Query(ctx context.Context, stmt string, args ...any) ([]string, [][]string, error) {
	rows, err := f.store.Query(ctx, stmt, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("query columns: %w", err)
	}
	out := [][]string{}
	for rows.Next() {
		raw := make([]any, len(cols))
		for i := range raw {
			raw[i] = new(any)
		}
		if err := rows.Scan(raw...); err != nil {
			return nil, nil, fmt.Errorf("query scan: %w", err)
		}
		row := make([]string, len(cols))
		for i, v := range raw {
			row[i] = formatValue(*(v.(*any)))
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("query rows: %w", err)
	}
	return cols, out, nil
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
