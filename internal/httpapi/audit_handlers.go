package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"hrgate.org/internal/audit"
	"hrgate.org/internal/auth"
	"hrgate.org/internal/authz"
)

const feedKeepAlive = 25 * time.Second

// parseAuditFilter reads the record selectors shared by the list and the live feed.
func parseAuditFilter(q url.Values) (audit.Filter, error) {
	f := audit.Filter{
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		ActorID:    q.Get("actor_id"),
	}
	if raw := q.Get("verb"); raw != "" {
		v, err := audit.ParseVerb(raw)
		if err != nil {
			return f, errors.New("verb must be CREATE, UPDATE or DELETE")
		}
		f.Verb = v
	}
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"since", &f.Since}, {"until", &f.Until}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, errors.New(p.name + " must be an RFC3339 timestamp")
		}
		*p.dst = t.UTC()
	}
	return f, nil
}

func (a *API) handleListAudit(w http.ResponseWriter, r *http.Request, ac auth.AuthContext) {
	if !require(w, r, ac, authz.Admin()) {
		return
	}
	if a.records == nil {
		writeError(w, r, http.StatusServiceUnavailable, "audit log is not queryable")
		return
	}
	q := r.URL.Query()
	f, err := parseAuditFilter(q)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if f.Limit, err = parsePositiveInt(q.Get("limit"), audit.DefaultListLimit, 1, audit.MaxListLimit); err != nil {
		writeError(w, r, http.StatusBadRequest, "limit out of range")
		return
	}
	if f.Offset, err = parsePositiveInt(q.Get("offset"), 0, 0, 1<<30); err != nil {
		writeError(w, r, http.StatusBadRequest, "offset out of range")
		return
	}
	records, err := a.records.List(r.Context(), f)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"limit":   f.Limit,
		"offset":  f.Offset,
	})
}

// handleAuditFeed streams new audit records as Server-Sent Events. Admin only.
func (a *API) handleAuditFeed(w http.ResponseWriter, r *http.Request, ac auth.AuthContext) {
	if !require(w, r, ac, authz.Admin()) {
		return
	}
	if a.feed == nil {
		writeError(w, r, http.StatusServiceUnavailable, "audit feed disabled")
		return
	}
	f, err := parseAuditFilter(r.URL.Query())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch := a.feed.Subscribe(r.Context(), f)

	_, _ = w.Write([]byte(": stream started\n\n"))
	if err := rc.Flush(); err != nil {
		return
	}

	keepAlive := time.NewTicker(feedKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case rec, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("id: " + rec.ID + "\nevent: audit\ndata: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
		case <-keepAlive.C:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
