package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/siriusgroup/wa-notify/internal/model"
	"github.com/siriusgroup/wa-notify/internal/service"
	"github.com/siriusgroup/wa-notify/internal/template"
)

type fakeRelay struct {
	mu      sync.Mutex
	sends   []sentCall
	healthy bool

	// failPhones makes Send error for these normalized phones
	failPhones map[string]error
}

type sentCall struct {
	Phone   string
	Message string
}

func (f *fakeRelay) Send(ctx context.Context, phone, message string, rec model.Recipient) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failPhones[phone]; ok {
		return "", err
	}
	f.sends = append(f.sends, sentCall{Phone: phone, Message: message})
	return fmt.Sprintf("wa-%d", len(f.sends)), nil
}

func (f *fakeRelay) Health(ctx context.Context) (bool, error) {
	return f.healthy, nil
}

func (f *fakeRelay) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func testOptions() service.Options {
	return service.Options{
		DefaultCountry: "BY",
		PickupAddress:  "Наш склад, ул. Примерная, 123",
		PickupHours:    "Пн-Пт: 10:00-19:00",
		MaxRecipients:  50,
	}
}

func newDispatcher(t *testing.T, relay service.RelayClient, opts service.Options) (*service.Dispatcher, *[]time.Duration) {
	t.Helper()

	var sleeps []time.Duration
	d := service.NewDispatcher(template.MustDefaults(), relay, opts).
		WithSleep(func(ctx context.Context, dur time.Duration) {
			sleeps = append(sleeps, dur)
		})
	return d, &sleeps
}

func recipients(n int) []model.Recipient {
	out := make([]model.Recipient, n)
	for i := range out {
		out[i] = model.Recipient{
			Phone: fmt.Sprintf("+37529%07d", 1000000+i),
			Name:  fmt.Sprintf("Client %d", i),
		}
	}
	return out
}

func TestDispatch_DryRun_SendsNothingButReportsSent(t *testing.T) {
	t.Parallel()

	relay := &fakeRelay{}
	d, _ := newDispatcher(t, relay, testOptions())

	res, err := d.Dispatch(context.Background(), service.Request{
		TemplateKey: "arrived_v1",
		Recipients:  []model.Recipient{{Phone: "+375291234567", Name: "Ivan"}},
		DryRun:      true,
		BatchID:     "b-1",
	})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	if relay.sendCount() != 0 {
		t.Fatalf("dry run must not call the relay, got %d sends", relay.sendCount())
	}
	if !res.OK || !res.DryRun {
		t.Fatalf("expected ok dry-run result, got %+v", res)
	}
	if res.TotalSent != 1 || res.TotalFailed != 0 {
		t.Fatalf("expected totalSent=1 totalFailed=0, got %+v", res)
	}

	o := res.Outcomes[0]
	if o.Status != model.StatusSent {
		t.Fatalf("expected status sent, got %q", o.Status)
	}
	if !strings.HasPrefix(o.WaMessageID, "dry_run_") {
		t.Fatalf("expected synthesized dry-run id, got %q", o.WaMessageID)
	}
	if !strings.Contains(o.MessageText, "Ivan") {
		t.Fatalf("expected rendered name, got %q", o.MessageText)
	}
	if !strings.Contains(o.MessageText, "Наш склад, ул. Примерная, 123") {
		t.Fatalf("expected configured pickup address, got %q", o.MessageText)
	}
}

func TestDispatch_OutcomePerRecipientInOrder(t *testing.T) {
	t.Parallel()

	relay := &fakeRelay{}
	d, _ := newDispatcher(t, relay, testOptions())

	recs := recipients(7)
	recs[3].Phone = "notaphone"

	res, err := d.Dispatch(context.Background(), service.Request{
		TemplateKey: "ready_v1",
		Recipients:  recs,
	})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	if len(res.Outcomes) != len(recs) {
		t.Fatalf("expected %d outcomes, got %d", len(recs), len(res.Outcomes))
	}
	for i, o := range res.Outcomes {
		if o.Recipient.Phone != recs[i].Phone {
			t.Fatalf("outcome %d out of order: got %q want %q", i, o.Recipient.Phone, recs[i].Phone)
		}
	}

	got := res.TotalSent + res.TotalFailed + res.TotalSkipped + res.TotalInvalid
	if got != len(res.Outcomes) {
		t.Fatalf("status tally %d != outcomes %d", got, len(res.Outcomes))
	}

	if res.Outcomes[3].Status != model.StatusInvalidPhone {
		t.Fatalf("expected invalid_phone at index 3, got %q", res.Outcomes[3].Status)
	}
	if relay.sendCount() != 6 {
		t.Fatalf("expected 6 relay sends (invalid phone skipped), got %d", relay.sendCount())
	}
}

func TestDispatch_RelayFailureIsPerRecipient(t *testing.T) {
	t.Parallel()

	relay := &fakeRelay{failPhones: map[string]error{
		"+375291000001": errors.New("HTTP 502: relay down"),
	}}
	d, _ := newDispatcher(t, relay, testOptions())

	res, err := d.Dispatch(context.Background(), service.Request{
		TemplateKey: "ready_v1",
		Recipients:  recipients(3),
	})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	if res.OK {
		t.Fatalf("expected ok=false with one failure")
	}
	if res.TotalFailed != 1 || res.TotalSent != 2 {
		t.Fatalf("expected 1 fail / 2 sent, got %+v", res)
	}
	if res.Outcomes[1].Status != model.StatusFailed {
		t.Fatalf("expected second recipient failed, got %q", res.Outcomes[1].Status)
	}
	if !strings.Contains(res.Outcomes[1].Error, "HTTP 502") {
		t.Fatalf("expected relay error text, got %q", res.Outcomes[1].Error)
	}
}

func TestDispatch_Preconditions(t *testing.T) {
	t.Parallel()

	d, _ := newDispatcher(t, &fakeRelay{}, testOptions())

	t.Run("empty recipients", func(t *testing.T) {
		_, err := d.Dispatch(context.Background(), service.Request{TemplateKey: "ready_v1"})
		if !errors.Is(err, service.ErrNoRecipients) {
			t.Fatalf("expected ErrNoRecipients, got %v", err)
		}
	})

	t.Run("too many recipients", func(t *testing.T) {
		_, err := d.Dispatch(context.Background(), service.Request{
			TemplateKey: "ready_v1",
			Recipients:  recipients(51),
		})
		if !errors.Is(err, service.ErrTooManyRecipients) {
			t.Fatalf("expected ErrTooManyRecipients, got %v", err)
		}
	})

	t.Run("unknown template", func(t *testing.T) {
		_, err := d.Dispatch(context.Background(), service.Request{
			TemplateKey: "nope_v9",
			Recipients:  recipients(1),
		})
		if !errors.Is(err, template.ErrNotFound) {
			t.Fatalf("expected template.ErrNotFound, got %v", err)
		}
	})

	t.Run("missing template variable", func(t *testing.T) {
		// shipped_v1 needs tracking_number and delivery_date from the caller
		_, err := d.Dispatch(context.Background(), service.Request{
			TemplateKey:  "shipped_v1",
			Recipients:   recipients(1),
			TemplateVars: map[string]string{"tracking_number": "RR123"},
		})
		if !errors.Is(err, service.ErrMissingVariable) {
			t.Fatalf("expected ErrMissingVariable, got %v", err)
		}
		if err != nil && !strings.Contains(err.Error(), "delivery_date") {
			t.Fatalf("expected error to name the variable, got %v", err)
		}
	})

	t.Run("builtin variables need no caller value", func(t *testing.T) {
		res, err := d.Dispatch(context.Background(), service.Request{
			TemplateKey: "arrived_v1",
			Recipients:  recipients(1),
			DryRun:      true,
		})
		if err != nil {
			t.Fatalf("Dispatch() error: %v", err)
		}
		if res.TotalSent != 1 {
			t.Fatalf("expected 1 sent, got %+v", res)
		}
	})
}

func TestDispatch_OverrideWins(t *testing.T) {
	t.Parallel()

	relay := &fakeRelay{}
	d, _ := newDispatcher(t, relay, testOptions())

	res, err := d.Dispatch(context.Background(), service.Request{
		TemplateKey:     "arrived_v1",
		MessageOverride: "Склад закрыт до понедельника",
		Recipients:      recipients(2),
	})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	for i, o := range res.Outcomes {
		if o.MessageText != "Склад закрыт до понедельника" {
			t.Fatalf("outcome %d: expected override text, got %q", i, o.MessageText)
		}
	}
	relay.mu.Lock()
	defer relay.mu.Unlock()
	for _, s := range relay.sends {
		if s.Message != "Склад закрыт до понедельника" {
			t.Fatalf("relay got %q, want override", s.Message)
		}
	}
}

func TestDispatch_ConditionalOrderSegment(t *testing.T) {
	t.Parallel()

	d, _ := newDispatcher(t, &fakeRelay{}, testOptions())

	res, err := d.Dispatch(context.Background(), service.Request{
		TemplateKey: "ready_v1",
		Recipients: []model.Recipient{
			{Phone: "+375291234567", Name: "Ivan", OrderID: "A1"},
			{Phone: "+375297654321", Name: "Olga"},
		},
		DryRun: true,
	})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	withOrder := res.Outcomes[0].MessageText
	if !strings.Contains(withOrder, "№A1") {
		t.Fatalf("expected order segment with id, got %q", withOrder)
	}

	withoutOrder := res.Outcomes[1].MessageText
	if strings.Contains(withoutOrder, "№") {
		t.Fatalf("expected order segment omitted, got %q", withoutOrder)
	}
}

func TestDispatch_BatchDelaysBetweenChunks(t *testing.T) {
	t.Parallel()

	d, sleeps := newDispatcher(t, &fakeRelay{}, testOptions())

	_, err := d.Dispatch(context.Background(), service.Request{
		TemplateKey: "ready_v1",
		Recipients:  recipients(5),
		DryRun:      true,
		Rate: service.Rate{
			MinDelayMs:   100,
			MaxDelayMs:   100,
			BatchSize:    2,
			BatchDelayMs: 900,
		},
	})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	// 5 recipients in chunks of 2: a 100ms jitter after each recipient and
	// a 900ms pause after each chunk except the last.
	var jitters, pauses int
	for _, s := range *sleeps {
		switch s {
		case 100 * time.Millisecond:
			jitters++
		case 900 * time.Millisecond:
			pauses++
		default:
			t.Fatalf("unexpected sleep %v", s)
		}
	}
	if jitters != 5 {
		t.Fatalf("expected 5 per-message delays, got %d", jitters)
	}
	if pauses != 2 {
		t.Fatalf("expected 2 batch pauses, got %d", pauses)
	}
}

func TestDispatch_OutcomeHookSeesEveryOutcome(t *testing.T) {
	t.Parallel()

	d, _ := newDispatcher(t, &fakeRelay{}, testOptions())

	var (
		mu      sync.Mutex
		batches []string
		hooked  []model.OutcomeStatus
	)
	d.WithOutcomeHook(func(ctx context.Context, batchID, templateKey string, o model.Outcome) error {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, batchID)
		hooked = append(hooked, o.Status)
		return errors.New("log store down") // must not affect the batch
	})

	recs := recipients(3)
	recs[0].Phone = "bad"

	res, err := d.Dispatch(context.Background(), service.Request{
		TemplateKey: "ready_v1",
		Recipients:  recs,
		BatchID:     "hook-batch",
	})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	if len(hooked) != 3 {
		t.Fatalf("expected hook for all 3 outcomes, got %d", len(hooked))
	}
	if hooked[0] != model.StatusInvalidPhone {
		t.Fatalf("expected first hooked outcome invalid_phone, got %q", hooked[0])
	}
	for _, b := range batches {
		if b != "hook-batch" {
			t.Fatalf("expected batch id hook-batch, got %q", b)
		}
	}
	if res.TotalSent != 2 || res.TotalInvalid != 1 {
		t.Fatalf("hook error leaked into result: %+v", res)
	}
}

func TestDispatch_GeneratesBatchID(t *testing.T) {
	t.Parallel()

	d, _ := newDispatcher(t, &fakeRelay{}, testOptions())

	res, err := d.Dispatch(context.Background(), service.Request{
		TemplateKey: "ready_v1",
		Recipients:  recipients(1),
		DryRun:      true,
	})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if res.BatchID == "" {
		t.Fatalf("expected generated batch id")
	}
}

func TestDispatch_TestModeRedirectsSends(t *testing.T) {
	t.Parallel()

	relay := &fakeRelay{}
	opts := testOptions()
	opts.TestMode = true
	opts.TestPhone = "+375290000000"
	d, _ := newDispatcher(t, relay, opts)

	res, err := d.Dispatch(context.Background(), service.Request{
		TemplateKey: "ready_v1",
		Recipients:  []model.Recipient{{Phone: "+375291234567", Name: "Ivan"}},
	})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if res.TotalSent != 1 {
		t.Fatalf("expected 1 sent, got %+v", res)
	}

	relay.mu.Lock()
	defer relay.mu.Unlock()
	if relay.sends[0].Phone != "+375290000000" {
		t.Fatalf("expected send redirected to test phone, got %q", relay.sends[0].Phone)
	}
	if res.Outcomes[0].Recipient.Phone != "+375291234567" {
		t.Fatalf("outcome must keep the real recipient, got %q", res.Outcomes[0].Recipient.Phone)
	}
}

func TestDispatch_DryRunDefaultFromOptions(t *testing.T) {
	t.Parallel()

	relay := &fakeRelay{}
	opts := testOptions()
	opts.DryRunDefault = true
	d, _ := newDispatcher(t, relay, opts)

	res, err := d.Dispatch(context.Background(), service.Request{
		TemplateKey: "ready_v1",
		Recipients:  recipients(1),
	})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if !res.DryRun {
		t.Fatalf("expected dry-run forced by configuration")
	}
	if relay.sendCount() != 0 {
		t.Fatalf("expected no relay calls, got %d", relay.sendCount())
	}
}

func TestPreview_RendersWithoutSending(t *testing.T) {
	t.Parallel()

	relay := &fakeRelay{}
	d, _ := newDispatcher(t, relay, testOptions())

	text, err := d.Preview("arrived_v1", nil, model.Recipient{Phone: "+375291234567", Name: "Ivan", OrderID: "77"})
	if err != nil {
		t.Fatalf("Preview() error: %v", err)
	}
	if !strings.Contains(text, "Ivan") || !strings.Contains(text, "№77") {
		t.Fatalf("unexpected preview: %q", text)
	}
	if relay.sendCount() != 0 {
		t.Fatalf("preview must not send")
	}

	if _, err := d.Preview("nope", nil, model.Recipient{}); !errors.Is(err, template.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRetryFailed_ResendsOnlyFailedEntries(t *testing.T) {
	t.Parallel()

	relay := &fakeRelay{}
	d, _ := newDispatcher(t, relay, testOptions())

	entries := []model.LogEntry{
		{BatchID: "old", PhoneRaw: "+375291000001", TemplateKey: "ready_v1", MessageText: "msg one", Status: model.StatusFailed},
		{BatchID: "old", PhoneRaw: "+375291000002", TemplateKey: "ready_v1", MessageText: "msg two", Status: model.StatusSent},
		{BatchID: "old", PhoneRaw: "+375291000003", TemplateKey: "ready_v1", MessageText: "msg three", Status: model.StatusFailed},
	}

	res, err := d.RetryFailed(context.Background(), entries, service.Rate{})
	if err != nil {
		t.Fatalf("RetryFailed() error: %v", err)
	}

	if res.BatchID == "old" || res.BatchID == "" {
		t.Fatalf("expected fresh batch id, got %q", res.BatchID)
	}
	if res.TotalSent != 2 || res.TotalSkipped != 1 {
		t.Fatalf("expected 2 sent / 1 skipped, got %+v", res)
	}

	relay.mu.Lock()
	defer relay.mu.Unlock()
	if len(relay.sends) != 2 {
		t.Fatalf("expected 2 relay sends, got %d", len(relay.sends))
	}
	if relay.sends[0].Message != "msg one" || relay.sends[1].Message != "msg three" {
		t.Fatalf("expected original message text resent, got %+v", relay.sends)
	}
}
