package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/siriusgroup/wa-notify/internal/cache"
	"github.com/siriusgroup/wa-notify/internal/model"
	"github.com/siriusgroup/wa-notify/internal/monitor"
	"github.com/siriusgroup/wa-notify/internal/repo"
	"github.com/siriusgroup/wa-notify/internal/service"
	"github.com/siriusgroup/wa-notify/internal/template"
)

type Handler struct {
	dispatcher *service.Dispatcher
	logs       repo.LogStore
	summaries  cache.SummaryCache // optional
	mon        *monitor.Monitor
}

func NewHandler(d *service.Dispatcher, logs repo.LogStore, summaries cache.SummaryCache, mon *monitor.Monitor) *Handler {
	return &Handler{
		dispatcher: d,
		logs:       logs,
		summaries:  summaries,
		mon:        mon,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type templateInfo struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Template    string   `json:"template"`
	Description string   `json:"description"`
	Variables   []string `json:"variables"`
}

func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	var out []templateInfo
	for _, t := range h.dispatcher.Templates().List() {
		out = append(out, templateInfo{
			Key:         t.Key,
			Name:        t.Name,
			Template:    t.Body,
			Description: t.Description,
			Variables:   t.Variables(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

type previewRequest struct {
	TemplateKey   string            `json:"template_key"`
	TemplateVars  map[string]string `json:"template_vars"`
	RecipientData model.Recipient   `json:"recipient_data"`
}

func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	text, err := h.dispatcher.Preview(req.TemplateKey, req.TemplateVars, req.RecipientData)
	if err != nil {
		if errors.Is(err, template.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"template_key":    req.TemplateKey,
		"message_text":    text,
		"recipient_name":  req.RecipientData.Name,
		"recipient_phone": req.RecipientData.Phone,
	})
}

func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var req service.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	res, err := h.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		if isPrecondition(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.storeSummary(r, res)
	writeJSON(w, http.StatusOK, res)
}

type retryFailedRequest struct {
	BatchID string       `json:"batch_id"`
	Rate    service.Rate `json:"rate"`
}

func (h *Handler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	var req retryFailedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if req.BatchID == "" {
		writeError(w, http.StatusBadRequest, "batch_id required")
		return
	}

	entries, err := h.logs.FailedByBatch(r.Context(), req.BatchID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(entries) == 0 {
		writeError(w, http.StatusNotFound, "no failed messages in batch "+req.BatchID)
		return
	}

	res, err := h.dispatcher.RetryFailed(r.Context(), entries, req.Rate)
	if err != nil {
		if isPrecondition(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.storeSummary(r, res)
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) BatchResults(w http.ResponseWriter, r *http.Request) {
	batchID := r.PathValue("batchID")

	if h.summaries != nil {
		if res, ok, err := h.summaries.GetSummary(r.Context(), batchID); err == nil && ok {
			writeJSON(w, http.StatusOK, res)
			return
		} else if err != nil {
			slog.Warn("summary cache lookup failed", "batch_id", batchID, "err", err)
		}
	}

	entries, err := h.logs.ListByBatch(r.Context(), batchID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(entries) == 0 {
		writeError(w, http.StatusNotFound, "unknown batch "+batchID)
		return
	}

	summary := map[model.OutcomeStatus]int{}
	for _, e := range entries {
		summary[e.Status]++
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"batch_id":      batchID,
		"total":         len(entries),
		"sent":          summary[model.StatusSent],
		"failed":        summary[model.StatusFailed],
		"skipped":       summary[model.StatusSkipped],
		"invalid_phone": summary[model.StatusInvalidPhone],
		"results":       entriesJSON(entries),
	})
}

func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.logs.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) RelayHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"healthy": h.dispatcher.Health(r.Context()),
	}
	if h.mon != nil {
		if last, ok := h.mon.LastProbe(); ok {
			body["last_probe"] = last
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) MonitorStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.monitorBody())
}

func (h *Handler) MonitorStart(w http.ResponseWriter, r *http.Request) {
	if h.mon == nil {
		writeError(w, http.StatusNotFound, "monitor disabled")
		return
	}
	h.mon.Start()
	writeJSON(w, http.StatusOK, h.monitorBody())
}

func (h *Handler) MonitorStop(w http.ResponseWriter, r *http.Request) {
	if h.mon == nil {
		writeError(w, http.StatusNotFound, "monitor disabled")
		return
	}
	h.mon.Stop()
	writeJSON(w, http.StatusOK, h.monitorBody())
}

func (h *Handler) monitorBody() map[string]any {
	if h.mon == nil {
		return map[string]any{"enabled": false, "running": false}
	}
	body := map[string]any{"enabled": true, "running": h.mon.IsRunning()}
	if last, ok := h.mon.LastProbe(); ok {
		body["last_probe"] = last
	}
	return body
}

func (h *Handler) storeSummary(r *http.Request, res *model.DispatchResult) {
	if h.summaries == nil {
		return
	}
	if err := h.summaries.StoreSummary(r.Context(), res); err != nil {
		slog.Warn("failed to cache batch summary", "batch_id", res.BatchID, "err", err)
	}
}

type entryJSON struct {
	ID          int64               `json:"id"`
	PhoneRaw    string              `json:"phone_raw"`
	PhoneE164   string              `json:"phone_e164,omitempty"`
	TemplateKey string              `json:"template_key"`
	MessageText string              `json:"message_text"`
	Status      model.OutcomeStatus `json:"status"`
	WaMessageID string              `json:"wa_message_id,omitempty"`
	ErrorText   string              `json:"error_text,omitempty"`
	SentAt      string              `json:"sent_at"`
}

func entriesJSON(entries []model.LogEntry) []entryJSON {
	out := make([]entryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryJSON{
			ID:          e.ID,
			PhoneRaw:    e.PhoneRaw,
			PhoneE164:   e.PhoneE164,
			TemplateKey: e.TemplateKey,
			MessageText: e.MessageText,
			Status:      e.Status,
			WaMessageID: e.WaMessageID,
			ErrorText:   e.ErrorText,
			SentAt:      e.SentAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}

func isPrecondition(err error) bool {
	return errors.Is(err, service.ErrNoRecipients) ||
		errors.Is(err, service.ErrTooManyRecipients) ||
		errors.Is(err, service.ErrMissingVariable) ||
		errors.Is(err, template.ErrNotFound)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
