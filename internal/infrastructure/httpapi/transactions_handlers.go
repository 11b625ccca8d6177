package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"reqlens/internal/domain"
	"reqlens/internal/usecase"
)

func (d *Deps) handleTransactions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		from := r.URL.Query().Get("from")
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = 50
		}
		items, next, err := d.Svc.List(r.Context(), from, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "LIST_FAILED", err.Error(), nil)
			return
		}
		total, _ := d.Svc.Len(r.Context())
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "next": next, "total": total})
	case http.MethodPost:
		var body struct {
			Method  string          `json:"method"`
			URL     string          `json:"url"`
			Headers []domain.Header `json:"headers"`
			Body    []byte          `json:"body"`
			Tags    []string        `json:"tags"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
			return
		}
		if body.Method == "" || body.URL == "" {
			writeError(w, http.StatusBadRequest, "MISSING_FIELDS", "method and url are required", nil)
			return
		}
		req := domain.Request{
			Method:  strings.ToUpper(body.Method),
			URL:     body.URL,
			Headers: body.Headers,
			Body:    body.Body,
		}
		req.ParseURL()
		tx := domain.Transaction{
			Request: req,
			Status:  domain.StatusPending,
			Tags:    body.Tags,
			Source:  domain.SourceCaptured,
		}
		stored, err := d.Svc.Capture(r.Context(), tx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "CREATE_FAILED", err.Error(), nil)
			return
		}
		writeJSON(w, http.StatusCreated, stored)
	default:
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed", nil)
	}
}

// handleTransactionByID routes /api/transactions/{id}[/replay|/tags[/{tag}]].
func (d *Deps) handleTransactionByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/transactions/")
	parts := strings.Split(path, "/")
	id := parts[0]
	if id == "" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
		return
	}
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			tx, ok, err := d.Svc.Get(r.Context(), id)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "GET_FAILED", err.Error(), map[string]any{"id": id})
				return
			}
			if !ok {
				writeError(w, http.StatusNotFound, "NOT_FOUND", "transaction not found", map[string]any{"id": id})
				return
			}
			writeJSON(w, http.StatusOK, tx)
		case http.MethodPatch:
			var patch usecase.RequestPatch
			if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
				writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
				return
			}
			tx, derived, err := d.Svc.Edit(r.Context(), id, patch)
			if err != nil {
				writeDomainError(w, err, map[string]any{"id": id})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"transaction": tx, "derived": derived})
		case http.MethodDelete:
			if err := d.Svc.Delete(r.Context(), id); err != nil {
				writeDomainError(w, err, map[string]any{"id": id})
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			writeError(w, http.StatusMethodNotAllowed, "", "method not allowed", nil)
		}
		return
	}
	switch parts[1] {
	case "replay":
		d.handleReplayOne(w, r, id)
	case "tags":
		d.handleTags(w, r, id, parts[2:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
	}
}

func (d *Deps) handleTags(w http.ResponseWriter, r *http.Request, id string, rest []string) {
	switch {
	case r.Method == http.MethodPost && len(rest) == 0:
		var body struct {
			Tag string `json:"tag"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Tag == "" {
			writeError(w, http.StatusBadRequest, "BAD_JSON", "body must carry a non-empty tag", nil)
			return
		}
		tx, err := d.Svc.Tag(r.Context(), id, body.Tag)
		if err != nil {
			writeDomainError(w, err, map[string]any{"id": id})
			return
		}
		writeJSON(w, http.StatusOK, tx)
	case r.Method == http.MethodDelete && len(rest) == 1 && rest[0] != "":
		tx, err := d.Svc.Untag(r.Context(), id, rest[0])
		if err != nil {
			writeDomainError(w, err, map[string]any{"id": id})
			return
		}
		writeJSON(w, http.StatusOK, tx)
	default:
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed", nil)
	}
}

// handleSearch resolves ?q= (substring) or ?expr= (predicate) matches to
// full transactions. Both modes page with from/limit cursors.
func (d *Deps) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed", nil)
		return
	}
	q := r.URL.Query().Get("q")
	expr := r.URL.Query().Get("expr")
	if q == "" && expr == "" {
		writeError(w, http.StatusBadRequest, "MISSING_QUERY", "q or expr is required", nil)
		return
	}
	from := r.URL.Query().Get("from")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	var (
		ids  []string
		next string
		err  error
	)
	if expr != "" {
		ids, next, err = d.Index.QueryExpr(expr, from, limit)
	} else {
		ids, next, err = d.Index.Query(q, from, limit)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_EXPR", err.Error(), map[string]any{"expr": expr})
		return
	}
	items := make([]domain.Transaction, 0, len(ids))
	for _, id := range ids {
		if tx, ok, err := d.Svc.Get(r.Context(), id); err == nil && ok {
			items = append(items, tx)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "next": next})
}
