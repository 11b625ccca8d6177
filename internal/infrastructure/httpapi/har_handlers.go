package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"reqlens/internal/adapters/codec/har"
	"reqlens/internal/domain"
	"reqlens/pkg/shared/redact"
)

// handleExportHAR streams the whole store as a HAR 1.2 document.
func (d *Deps) handleExportHAR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed", nil)
		return
	}
	txs := make([]domain.Transaction, 0, 256)
	from := ""
	for {
		page, next, err := d.Svc.List(r.Context(), from, 500)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "EXPORT_FAILED", err.Error(), nil)
			return
		}
		txs = append(txs, page...)
		if next == "" {
			break
		}
		from = next
	}
	if d.Cfg.RedactExports {
		for i := range txs {
			txs[i].Request.Headers = redact.Headers(txs[i].Request.Headers)
			if txs[i].Response != nil {
				txs[i].Response.Headers = redact.Headers(txs[i].Response.Headers)
			}
		}
	}
	filename := fmt.Sprintf("reqlens-%s.har", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+filename+"\"")
	if err := har.Export(w, txs); err != nil {
		d.Logger.Error().Err(err).Msg("har export write failed")
	}
}

// handleImportHAR ingests a HAR document. Malformed entries are skipped
// and reported; the valid ones land in the store.
func (d *Deps) handleImportHAR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed", nil)
		return
	}
	txs, parseErrs, err := har.Import(r.Body)
	if err != nil {
		d.Metrics.ImportErrorsTotal.Inc()
		writeError(w, http.StatusBadRequest, "BAD_HAR", err.Error(), nil)
		return
	}
	imported := make([]string, 0, len(txs))
	for _, tx := range txs {
		stored, err := d.Svc.Capture(r.Context(), tx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "IMPORT_FAILED", err.Error(), nil)
			return
		}
		imported = append(imported, stored.ID)
	}
	errViews := make([]map[string]any, 0, len(parseErrs))
	for _, pe := range parseErrs {
		d.Metrics.ImportErrorsTotal.Inc()
		errViews = append(errViews, map[string]any{"index": pe.Index, "message": pe.Err.Error()})
	}
	if len(parseErrs) > 0 {
		d.Logger.Warn().Int("skipped", len(parseErrs)).Int("imported", len(imported)).Msg("har import skipped malformed entries")
	}
	writeJSON(w, http.StatusOK, map[string]any{"imported": len(imported), "ids": imported, "errors": errViews})
}
