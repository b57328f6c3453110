// Copyright 2024-2026 Aiku AI

// Package cdc replays ordered change-data-capture batches into the sync
// engines.
//
// A batch is sorted by commit position before any event is handled, then
// handled one event at a time. A failing event is counted and logged; it
// never stops the rest of the batch.
package cdc

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// Action is the kind of row change.
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Event is one row change with its commit position.
type Event struct {
	Action Action          `json:"action"`
	Table  string          `json:"table"`
	Record json.RawMessage `json:"record"`
	// OldRecord carries the previous row image on updates and deletes.
	OldRecord       json.RawMessage `json:"old_record,omitempty"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
	CommitLSN       int64           `json:"commit_lsn"`
	CommitIdx       int             `json:"commit_idx"`
}

// Row returns the row image the event is about: the new record, or the old
// one when the change removed the row.
func (e Event) Row() gjson.Result {
	if len(e.Record) > 0 && gjson.ValidBytes(e.Record) {
		if row := gjson.ParseBytes(e.Record); row.IsObject() {
			return row
		}
	}
	if len(e.OldRecord) > 0 && gjson.ValidBytes(e.OldRecord) {
		return gjson.ParseBytes(e.OldRecord)
	}
	return gjson.Result{}
}

// RecordID returns the "id" column of the row, or "" when absent.
func (e Event) RecordID() string {
	return e.Row().Get("id").String()
}

// Position formats the commit position for keys and logs.
func (e Event) Position() string {
	return strconv.FormatInt(e.CommitLSN, 10) + "." + strconv.Itoa(e.CommitIdx)
}

// ParseBatch decodes a JSON array of events.
func ParseBatch(data []byte) ([]Event, error) {
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("failed to decode change batch: %w", err)
	}
	return events, nil
}

// Compare orders two events by commit timestamp, commit LSN and commit
// index, then by record id.
func Compare(a, b Event) int {
	if c := a.CommitTimestamp.Compare(b.CommitTimestamp); c != 0 {
		return c
	}
	if c := cmp.Compare(a.CommitLSN, b.CommitLSN); c != 0 {
		return c
	}
	if c := cmp.Compare(a.CommitIdx, b.CommitIdx); c != 0 {
		return c
	}
	return compareIDs(a.RecordID(), b.RecordID())
}

// compareIDs compares numerically when both ids are integers.
func compareIDs(a, b string) int {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		return cmp.Compare(ai, bi)
	}
	return cmp.Compare(a, b)
}

// SortBatch returns the events in processing order. The input is not
// modified.
func SortBatch(events []Event) []Event {
	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, Compare)
	return sorted
}
