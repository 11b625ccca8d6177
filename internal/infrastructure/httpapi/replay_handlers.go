package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"reqlens/internal/domain"
	"reqlens/internal/replay"
	"reqlens/internal/usecase"
)

func (d *Deps) handleReplayOne(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed", nil)
		return
	}
	var overrides *usecase.RequestPatch
	if r.Body != nil {
		raw, _ := io.ReadAll(r.Body)
		if len(raw) > 0 {
			var body struct {
				Overrides *usecase.RequestPatch `json:"overrides"`
			}
			if err := json.Unmarshal(raw, &body); err != nil {
				writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
				return
			}
			overrides = body.Overrides
		}
	}
	tx, err := d.Engine.Replay(r.Context(), id, overrides)
	if err != nil {
		writeDomainError(w, err, map[string]any{"id": id})
		return
	}
	// dispatch failures are not errors here; they land on tx.Status
	writeJSON(w, http.StatusOK, tx)
}

type bulkItem struct {
	ID            string `json:"id"`
	TransactionID string `json:"transactionId,omitempty"`
	Status        string `json:"status,omitempty"`
	Error         string `json:"error,omitempty"`
}

// handleReplayBulk runs the whole batch and answers with the aggregate.
// Items appear in completion order.
func (d *Deps) handleReplayBulk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed", nil)
		return
	}
	var body struct {
		IDs     []string           `json:"ids"`
		Options replay.BulkOptions `json:"options"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}
	if len(body.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "MISSING_IDS", "ids must be non-empty", nil)
		return
	}
	opts := body.Options
	if opts.ConcurrencyLimit == 0 {
		opts.ConcurrencyLimit = d.Cfg.ReplayConcurrency
	}
	if opts.DelayMs == 0 {
		opts.DelayMs = d.Cfg.ReplayDelayMs
	}
	if opts.TimeoutMs == 0 {
		opts.TimeoutMs = d.Cfg.ReplayTimeoutMs
	}
	bulk, err := d.Engine.ReplayBulk(r.Context(), body.IDs, opts)
	if err != nil {
		writeDomainError(w, err, nil)
		return
	}
	items := make([]bulkItem, 0, len(body.IDs))
	for res := range bulk.Results() {
		item := bulkItem{ID: res.ID}
		if res.Err != nil {
			item.Error = res.Err.Error()
		} else {
			item.TransactionID = res.Tx.ID
			item.Status = string(res.Tx.Status)
			if res.Tx.Status == domain.StatusFailed {
				item.Error = res.Tx.Error
			}
		}
		items = append(items, item)
	}
	summary := bulk.Wait()
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary, "items": items})
}
