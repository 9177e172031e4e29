package queue

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jackzampolin/scriptorium/internal/store"
)

// StateKey is the store key holding the serialized State.
const StateKey = "queueState"

//go:embed state.schema.json
var stateSchemaJSON []byte

var (
	stateSchemaOnce sync.Once
	stateSchema     *jsonschema.Schema
	stateSchemaErr  error
)

func compiledStateSchema() (*jsonschema.Schema, error) {
	stateSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("state.schema.json", bytes.NewReader(stateSchemaJSON)); err != nil {
			stateSchemaErr = fmt.Errorf("failed to load state schema: %w", err)
			return
		}
		stateSchema, stateSchemaErr = compiler.Compile("state.schema.json")
	})
	return stateSchema, stateSchemaErr
}

// DecodeState validates a persisted record and decodes it.
func DecodeState(data []byte) (*State, error) {
	schema, err := compiledStateSchema()
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode queue state: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("queue state does not match schema: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to decode queue state: %w", err)
	}
	return &st, nil
}

// normalizeLoaded makes a state read from the store safe to resume: nothing
// is downloading or resolving, and the loop is idle.
func normalizeLoaded(st *State) {
	st.IsProcessing = false
	st.IsPaused = false
	st.CurrentItemID = ""
	st.GlobalSettings = st.GlobalSettings.normalized()

	items := st.Items[:0]
	seen := make(map[string]bool, len(st.Items))
	for _, j := range st.Items {
		if j == nil || seen[j.ID] {
			continue
		}
		seen[j.ID] = true
		if j.Status == StatusDownloading || j.Status == StatusLoading {
			j.Status = StatusPending
		}
		j.Progress = nil
		if j.Status != StatusFailed {
			j.Error = ""
		}
		items = append(items, j)
	}
	if items == nil {
		items = []*Job{}
	}
	st.Items = items
}

// load reads the persisted state. A missing record yields the default state.
// A corrupt record is logged and replaced by the default state.
func (q *Queue) load(ctx context.Context) error {
	data, err := q.store.Get(ctx, StateKey)
	if errors.Is(err, store.ErrNotFound) {
		q.logger.Info("no persisted queue state, starting empty")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read queue state: %w", err)
	}

	st, err := DecodeState(data)
	if err != nil {
		q.logger.Error("discarding unreadable queue state", "error", err)
		return nil
	}

	normalizeLoaded(st)
	q.state = *st
	q.logger.Info("loaded queue state", "items", len(st.Items))
	return nil
}

// persistLocked writes the full state. Failures are logged; the in-memory
// state stays authoritative. Caller must hold q.mu.
func (q *Queue) persistLocked() {
	data, err := json.Marshal(&q.state)
	if err != nil {
		q.logger.Error("failed to encode queue state", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := q.store.Set(ctx, StateKey, data); err != nil {
		q.logger.Error("failed to persist queue state", "error", err)
	}
}
