// Package service implements the notification dispatch pipeline: template
// validation, phone classification, rate-controlled batch sending and
// result aggregation.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/siriusgroup/wa-notify/internal/model"
	"github.com/siriusgroup/wa-notify/internal/phone"
	"github.com/siriusgroup/wa-notify/internal/template"
)

// Precondition errors reject the whole call before anything is sent.
var (
	ErrNoRecipients      = errors.New("at least one recipient required")
	ErrTooManyRecipients = errors.New("too many recipients")
	ErrMissingVariable   = errors.New("missing template variable")
)

// RelayClient is the boundary to the external messaging relay.
type RelayClient interface {
	Send(ctx context.Context, phone, message string, recipient model.Recipient) (string, error)
	Health(ctx context.Context) (bool, error)
}

// Options is the dispatch configuration, built once at startup and injected.
type Options struct {
	DefaultCountry string
	PickupAddress  string
	PickupHours    string
	DryRunDefault  bool
	TestMode       bool
	TestPhone      string
	MaxRecipients  int
}

// Request describes one dispatch call.
type Request struct {
	TemplateKey     string            `json:"template_key"`
	MessageOverride string            `json:"message_override,omitempty"`
	Recipients      []model.Recipient `json:"recipients"`
	TemplateVars    map[string]string `json:"template_vars"`
	DryRun          bool              `json:"dry_run"`
	BatchID         string            `json:"batch_id,omitempty"`
	Rate            Rate              `json:"rate"`
}

// Dispatcher runs dispatch calls sequentially per call: one recipient at a
// time, outcomes in input order. It holds no mutable state across calls.
type Dispatcher struct {
	templates *template.Registry
	client    RelayClient
	opts      Options

	// shared across concurrent dispatch calls when set, so the relay sees
	// one global cap instead of one cap per call
	limiter *rate.Limiter

	onOutcome func(ctx context.Context, batchID, templateKey string, o model.Outcome) error
	sleep     func(ctx context.Context, d time.Duration)
}

func NewDispatcher(templates *template.Registry, client RelayClient, opts Options) *Dispatcher {
	if opts.MaxRecipients <= 0 {
		opts.MaxRecipients = 50
	}
	return &Dispatcher{
		templates: templates,
		client:    client,
		opts:      opts,
		sleep:     ctxSleep,
	}
}

// WithOutcomeHook registers a callback invoked after every outcome, in
// order. Hook errors are logged and do not affect the batch.
func (d *Dispatcher) WithOutcomeHook(fn func(ctx context.Context, batchID, templateKey string, o model.Outcome) error) *Dispatcher {
	d.onOutcome = fn
	return d
}

// WithLimiter attaches a process-wide send limiter shared by all dispatch
// calls using this dispatcher.
func (d *Dispatcher) WithLimiter(l *rate.Limiter) *Dispatcher {
	d.limiter = l
	return d
}

// WithSleep overrides the delay function. Tests use it to observe delays
// without waiting.
func (d *Dispatcher) WithSleep(fn func(ctx context.Context, d time.Duration)) *Dispatcher {
	d.sleep = fn
	return d
}

// Dispatch processes every recipient and returns one outcome per recipient,
// in input order. Precondition failures return an error and no outcomes;
// everything after validation is captured per recipient, never propagated.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*model.DispatchResult, error) {
	if len(req.Recipients) == 0 {
		return nil, ErrNoRecipients
	}
	if len(req.Recipients) > d.opts.MaxRecipients {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyRecipients, len(req.Recipients), d.opts.MaxRecipients)
	}

	tpl, err := d.templates.Resolve(req.TemplateKey)
	if err != nil {
		return nil, err
	}
	if err := d.checkVariables(tpl, req.TemplateVars); err != nil {
		return nil, err
	}

	dryRun := req.DryRun || d.opts.DryRunDefault
	batchID := req.BatchID
	if batchID == "" {
		batchID = uuid.NewString()
	}
	r := req.Rate.withDefaults()

	outcomes := make([]model.Outcome, 0, len(req.Recipients))

	for start := 0; start < len(req.Recipients); start += r.BatchSize {
		end := min(start+r.BatchSize, len(req.Recipients))

		for _, rec := range req.Recipients[start:end] {
			text := d.renderFor(tpl, req.TemplateVars, rec, req.MessageOverride)
			o := d.processOne(ctx, rec, text, dryRun)
			d.emit(ctx, batchID, req.TemplateKey, o)
			outcomes = append(outcomes, o)

			d.sleep(ctx, r.jitter())
		}

		if end < len(req.Recipients) {
			d.sleep(ctx, r.batchDelay())
		}
	}

	return aggregate(batchID, dryRun, outcomes), nil
}

// checkVariables verifies the caller supplied every variable the template
// needs, minus the ones the dispatcher injects itself.
func (d *Dispatcher) checkVariables(tpl *template.Template, vars map[string]string) error {
	for _, name := range tpl.Variables() {
		switch name {
		case "name", "orderId", "pickup_address", "pickup_hours":
			continue
		}
		if _, ok := vars[name]; !ok {
			return fmt.Errorf("%w: %q required by template %q", ErrMissingVariable, name, tpl.Key)
		}
	}
	return nil
}

// renderFor builds the effective variable set and renders the template.
// The override, when set, is the final text verbatim. name and orderId
// always come from the recipient; pickup defaults come from configuration
// unless the caller supplies them.
func (d *Dispatcher) renderFor(tpl *template.Template, vars map[string]string, rec model.Recipient, override string) string {
	if override != "" {
		return override
	}

	effective := make(map[string]string, len(vars)+4)
	effective["pickup_address"] = d.opts.PickupAddress
	effective["pickup_hours"] = d.opts.PickupHours
	for k, v := range vars {
		effective[k] = v
	}
	effective["name"] = rec.Name
	effective["orderId"] = rec.OrderID

	return tpl.Render(effective)
}

// processOne classifies and sends a single recipient. It never returns an
// error: every failure mode is an outcome status.
func (d *Dispatcher) processOne(ctx context.Context, rec model.Recipient, text string, dryRun bool) (o model.Outcome) {
	o = model.Outcome{
		Recipient: rec,
		Timestamp: time.Now().UTC(),
	}

	// Rendering and transport are isolated per recipient; a panic here
	// must not abort the rest of the batch.
	defer func() {
		if r := recover(); r != nil {
			slog.Error("recovered while processing recipient", "phone", rec.Phone, "panic", r)
			o.Status = model.StatusFailed
			o.Error = fmt.Sprintf("internal error: %v", r)
		}
	}()

	normalized, ok := phone.Normalize(rec.Phone, d.opts.DefaultCountry)
	if !ok {
		o.Status = model.StatusInvalidPhone
		o.Error = "invalid phone number format"
		return o
	}
	o.PhoneE164 = normalized

	if text == "" {
		o.Status = model.StatusSkipped
		o.Error = "empty message"
		return o
	}
	o.MessageText = text

	if dryRun {
		o.Status = model.StatusSent
		o.WaMessageID = "dry_run_" + uuid.NewString()
		return o
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			o.Status = model.StatusFailed
			o.Error = err.Error()
			return o
		}
	}

	sendTo := normalized
	if d.opts.TestMode {
		sendTo = d.opts.TestPhone
	}

	msgID, err := d.client.Send(ctx, sendTo, text, rec)
	if err != nil {
		o.Status = model.StatusFailed
		o.Error = err.Error()
		return o
	}

	o.Status = model.StatusSent
	o.WaMessageID = msgID
	return o
}

func (d *Dispatcher) emit(ctx context.Context, batchID, templateKey string, o model.Outcome) {
	if d.onOutcome == nil {
		return
	}
	if err := d.onOutcome(ctx, batchID, templateKey, o); err != nil {
		slog.Warn("outcome hook failed", "batch_id", batchID, "phone", o.Recipient.Phone, "err", err)
	}
}

// Preview renders a template for a recipient without sending anything.
func (d *Dispatcher) Preview(templateKey string, vars map[string]string, rec model.Recipient) (string, error) {
	tpl, err := d.templates.Resolve(templateKey)
	if err != nil {
		return "", err
	}
	return d.renderFor(tpl, vars, rec, ""), nil
}

// RetryFailed re-dispatches the failed entries of a previous batch under a
// fresh batch id, resending each entry's original message text. Entries
// whose status is not fail are reported skipped. Retry is always explicit
// and caller-driven; nothing in Dispatch retries on its own.
func (d *Dispatcher) RetryFailed(ctx context.Context, entries []model.LogEntry, r Rate) (*model.DispatchResult, error) {
	if len(entries) == 0 {
		return nil, ErrNoRecipients
	}
	if len(entries) > d.opts.MaxRecipients {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyRecipients, len(entries), d.opts.MaxRecipients)
	}

	batchID := uuid.NewString()
	r = r.withDefaults()

	outcomes := make([]model.Outcome, 0, len(entries))
	for _, e := range entries {
		rec := model.Recipient{Phone: e.PhoneRaw}

		var o model.Outcome
		if e.Status != model.StatusFailed {
			o = model.Outcome{
				Recipient: rec,
				Status:    model.StatusSkipped,
				Error:     "not in failed state",
				Timestamp: time.Now().UTC(),
			}
		} else {
			o = d.processOne(ctx, rec, e.MessageText, false)
		}

		d.emit(ctx, batchID, e.TemplateKey, o)
		outcomes = append(outcomes, o)
		d.sleep(ctx, r.jitter())
	}

	return aggregate(batchID, false, outcomes), nil
}

// Health reports whether the relay is reachable and ready.
func (d *Dispatcher) Health(ctx context.Context) bool {
	ok, err := d.client.Health(ctx)
	if err != nil {
		slog.Error("relay health check failed", "err", err)
		return false
	}
	return ok
}

// Templates exposes the registry for the read-only API surface.
func (d *Dispatcher) Templates() *template.Registry {
	return d.templates
}

// aggregate tallies outcomes into the final result. Pure: no side effects.
func aggregate(batchID string, dryRun bool, outcomes []model.Outcome) *model.DispatchResult {
	res := &model.DispatchResult{
		DryRun:   dryRun,
		BatchID:  batchID,
		Outcomes: outcomes,
	}
	for _, o := range outcomes {
		switch o.Status {
		case model.StatusSent:
			res.TotalSent++
		case model.StatusFailed:
			res.TotalFailed++
		case model.StatusSkipped:
			res.TotalSkipped++
		case model.StatusInvalidPhone:
			res.TotalInvalid++
		}
	}
	res.OK = res.TotalFailed == 0
	return res
}

func ctxSleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
