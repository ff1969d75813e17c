package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4/json"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// HandleAdminLogin handles admin login
func (c *Controller) HandleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	u, ok := c.Users[in.Username]
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword(u.Hash, []byte(in.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	c.IssueSession(w, in.Username)
	writeJSON(w, http.StatusOK, map[string]string{"ok": "1"})
}

// HandleAdminLogout handles admin logout
func (c *Controller) HandleAdminLogout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
	w.WriteHeader(http.StatusNoContent)
}

// HandleCollect runs a collection pass and reports what it did. hours_back
// and max_points fall back to the configured defaults when absent; a run
// already in flight answers 409.
func (c *Controller) HandleCollect(w http.ResponseWriter, r *http.Request) {
	hoursBack, ok := parseQueryInt(r, "hours_back")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid hours_back")
		return
	}
	maxPoints, ok := parseQueryInt(r, "max_points")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid max_points")
		return
	}

	c.App.Logger.Info("Collection triggered",
		zap.String("user", c.currentUser(r)),
		zap.Int("hours_back", hoursBack),
		zap.Int("max_points", maxPoints))

	res, err := c.App.Collector.Collect(r.Context(), time.Duration(hoursBack)*time.Hour, maxPoints)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"points_collected": res.Collected,
		"points_skipped":   res.SkippedExisting,
	})
}

// HandleBackfill triggers a backfill pass in the background.
func (c *Controller) HandleBackfill(w http.ResponseWriter, r *http.Request) {
	if _, running := c.App.Collector.Running()["backfill"]; running {
		writeError(w, http.StatusConflict, "backfill already running")
		return
	}

	cfg := c.App.Collector.Config()
	user := c.currentUser(r)
	c.App.Logger.Info("Backfill triggered", zap.String("user", user))

	go func() {
		res, err := c.App.Collector.Backfill(context.Background(), cfg.BackfillLimit)
		if err != nil {
			c.App.Logger.Error("Triggered backfill failed", zap.Error(err))
			return
		}
		c.App.Logger.Info("Triggered backfill finished",
			zap.Int("examined", res.Examined),
			zap.Int("improved", res.Improved))
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// HandleRemove deletes a snapshot and its balance rows.
func (c *Controller) HandleRemove(w http.ResponseWriter, r *http.Request) {
	ts, ok := parseTimestamp(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid timestamp")
		return
	}

	c.App.Logger.Info("Removing snapshot",
		zap.Uint64("settlement_ts", ts),
		zap.String("user", c.currentUser(r)))

	if err := c.App.Collector.Remove(r.Context(), ts); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "removed", "settlement_ts": ts})
}

// HandleRerun re-collects a snapshot, merging fresh data over the stored row.
func (c *Controller) HandleRerun(w http.ResponseWriter, r *http.Request) {
	ts, ok := parseTimestamp(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid timestamp")
		return
	}

	c.App.Logger.Info("Rerunning snapshot",
		zap.Uint64("settlement_ts", ts),
		zap.String("user", c.currentUser(r)))

	snapshot, err := c.App.Collector.Rerun(r.Context(), ts)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}

// HandleRemoveAndRerun drops a snapshot and collects it again from scratch.
func (c *Controller) HandleRemoveAndRerun(w http.ResponseWriter, r *http.Request) {
	ts, ok := parseTimestamp(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid timestamp")
		return
	}

	c.App.Logger.Info("Removing and rerunning snapshot",
		zap.Uint64("settlement_ts", ts),
		zap.String("user", c.currentUser(r)))

	snapshot, err := c.App.Collector.RemoveAndRerun(r.Context(), ts)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}
