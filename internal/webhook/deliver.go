package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	cebinding "github.com/cloudevents/sdk-go/v2/binding"
	ceevent "github.com/cloudevents/sdk-go/v2/event"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/JonMunkholm/catalogimport/internal/webhook"

// ErrInvalidTarget marks a delivery that cannot be sent at all, such as a
// malformed URL. It is not a transport failure and is never retried.
var ErrInvalidTarget = errors.New("invalid webhook target")

// DefaultTimeout bounds one POST.
const DefaultTimeout = 10 * time.Second

// Result records the target's answer to one attempt.
type Result struct {
	StatusCode int
	Duration   time.Duration
}

// Deliverer POSTs payloads to subscriber URLs. The body is the event JSON
// unchanged; CloudEvents binary-mode ce-* headers identify the delivery.
type Deliverer struct {
	client *http.Client
	source string
}

// NewDeliverer returns a Deliverer with the given per-request timeout.
func NewDeliverer(timeout time.Duration, source string) *Deliverer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Deliverer{
		client: &http.Client{Timeout: timeout},
		source: source,
	}
}

// Deliver performs one attempt. Any HTTP response is a completed attempt and
// is returned with a nil error; only transport failures (connection errors,
// timeouts) return an error.
func (d *Deliverer) Deliver(ctx context.Context, deliveryID string, del Delivery) (Result, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "webhook.deliver",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("webhook.event", del.Event),
			attribute.String("webhook.subscription_id", del.SubscriptionID.String()),
		))
	defer span.End()

	req, err := d.newRequest(ctx, deliveryID, del)
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport error")
		return Result{Duration: time.Since(start)}, fmt.Errorf("post %s: %w", del.URL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	return Result{StatusCode: resp.StatusCode, Duration: time.Since(start)}, nil
}

func (d *Deliverer) newRequest(ctx context.Context, deliveryID string, del Delivery) (*http.Request, error) {
	ev := ceevent.New()
	ev.SetID(deliveryID)
	ev.SetSource(d.source)
	ev.SetType(del.Event)
	ev.SetSubject(del.JobID)
	ev.SetTime(time.Now().UTC())
	if err := ev.SetData(ceevent.ApplicationJSON, []byte(del.Payload)); err != nil {
		return nil, fmt.Errorf("%w: build event: %v", ErrInvalidTarget, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, del.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if err := cehttp.WriteRequest(ctx, cebinding.ToMessage(&ev), req); err != nil {
		return nil, fmt.Errorf("%w: encode event: %v", ErrInvalidTarget, err)
	}
	req.Header.Set("User-Agent", "catalogimport-webhook/1")
	return req, nil
}
