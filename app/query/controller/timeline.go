package controller

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// parseTimestamp reads the {timestamp} path variable.
func parseTimestamp(r *http.Request) (uint64, bool) {
	ts, err := strconv.ParseUint(mux.Vars(r)["timestamp"], 10, 64)
	return ts, err == nil && ts > 0
}

// parseLimit reads an optional limit query parameter, clamped to maxListLimit.
func parseLimit(r *http.Request, def int) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, true
}

// parseQueryInt reads an optional non-negative integer query parameter.
// Absent means zero, which callers treat as "use the default".
func parseQueryInt(r *http.Request, name string) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// HandleTimeline returns snapshots for the requested window, newest first.
func (c *Controller) HandleTimeline(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()

	hours := 0
	if v := qs.Get("hours_back"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid hours_back")
			return
		}
		hours = n
	}

	minCompleteness := 0.0
	if v := qs.Get("min_completeness"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			writeError(w, http.StatusBadRequest, "invalid min_completeness, must be in [0, 1]")
			return
		}
		minCompleteness = f
	}

	rows, err := c.App.Svc.Timeline(r.Context(), hours, minCompleteness)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"count": len(rows), "snapshots": rows})
}

// HandleSnapshots returns the most recent snapshots.
func (c *Controller) HandleSnapshots(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r, defaultListLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	rows, err := c.App.Svc.Recent(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"count": len(rows), "snapshots": rows})
}

// HandleSnapshot returns a single snapshot by settlement timestamp.
func (c *Controller) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	ts, ok := parseTimestamp(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid timestamp")
		return
	}

	row, err := c.App.Svc.SnapshotAt(r.Context(), ts)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, row)
}

// HandleSummary returns aggregate statistics over the whole timeline.
func (c *Controller) HandleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := c.App.Svc.Summary(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// HandleIncomplete returns snapshots ordered worst completeness first.
func (c *Controller) HandleIncomplete(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r, defaultListLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	rows, err := c.App.Svc.Incomplete(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"count": len(rows), "snapshots": rows})
}
