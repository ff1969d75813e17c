package controller

import (
	"net/http"
	"strconv"

	models "github.com/tellor-io/supplyx/pkg/db/models/timeline"
)

// HandleBalances returns the per-account balance rows captured for a snapshot.
func (c *Controller) HandleBalances(w http.ResponseWriter, r *http.Request) {
	ts, ok := parseTimestamp(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid timestamp")
		return
	}

	qs := r.URL.Query()

	accountType := qs.Get("type")
	switch accountType {
	case "", models.AccountTypeBase, models.AccountTypeModule, models.AccountTypeOther:
	default:
		writeError(w, http.StatusBadRequest, "invalid type, must be base, module or other")
		return
	}

	limit, ok := parseLimit(r, 100)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	offset := 0
	if v := qs.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		offset = n
	}

	set, err := c.App.Svc.BalancesAt(r.Context(), ts, accountType, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, set)
}
