package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	// queueSize is the buffer size for the event queue
	queueSize = 1000

	// maxResponseBodySize limits how much of the response body we read (1KB)
	maxResponseBodySize = 1024

	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 2
)

// Dispatcher delivers health events to the configured endpoints from a
// background worker so the controller tick never blocks on the network.
type Dispatcher struct {
	endpoints []Endpoint
	client    *http.Client
	queue     chan Event
	done      chan struct{}
	closed    int32 // atomic flag to prevent double-close
}

// NewDispatcher creates a dispatcher for the given endpoints.
func NewDispatcher(endpoints []Endpoint) *Dispatcher {
	return &Dispatcher{
		endpoints: endpoints,
		client: &http.Client{
			Timeout: defaultTimeout,
		},
		queue: make(chan Event, queueSize),
		done:  make(chan struct{}),
	}
}

// Start begins processing events from the queue
func (d *Dispatcher) Start() {
	go d.worker()
}

// Close shuts down the dispatcher after draining pending deliveries.
// Safe to call multiple times.
func (d *Dispatcher) Close() error {
	if !atomic.CompareAndSwapInt32(&d.closed, 0, 1) {
		return nil // Already closed
	}
	close(d.queue)
	<-d.done
	return nil
}

// Dispatch queues an event for delivery.
// This is non-blocking and will not slow down the caller.
func (d *Dispatcher) Dispatch(event Event) {
	select {
	case d.queue <- event:
		log.Printf("[notify] event queued: type=%s rollout=%s env=%s queue_size=%d",
			event.Type, event.SafeRolloutID, event.Environment, len(d.queue))
	default:
		log.Printf("[notify] CRITICAL: queue full (size=%d), dropping event: type=%s rollout=%s env=%s",
			queueSize, event.Type, event.SafeRolloutID, event.Environment)
	}
}

func (d *Dispatcher) worker() {
	defer close(d.done)

	for event := range d.queue {
		payload, err := json.Marshal(event)
		if err != nil {
			log.Printf("[notify] failed to encode event: type=%s rollout=%s error=%v",
				event.Type, event.SafeRolloutID, err)
			continue
		}
		for _, ep := range d.endpoints {
			d.deliver(ep, event, payload)
		}
	}
}

// deliver sends one event to one endpoint with bounded retries and
// exponential backoff.
func (d *Dispatcher) deliver(ep Endpoint, event Event, payload []byte) {
	maxRetries := ep.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	timeout := ep.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	deliveryID := uuid.NewString()

	for attempt := 0; attempt <= maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
		if err != nil {
			cancel()
			log.Printf("[notify] bad endpoint url=%s error=%v", ep.URL, err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-SafeRollout-Event", event.Type)
		req.Header.Set("X-SafeRollout-Delivery", deliveryID)
		if ep.Secret != "" {
			req.Header.Set("X-SafeRollout-Signature", ComputeHMAC(payload, ep.Secret))
		}

		start := time.Now()
		resp, err := d.client.Do(req)
		duration := time.Since(start)

		statusCode := 0
		errorMsg := ""
		if err != nil {
			errorMsg = err.Error()
		} else {
			statusCode = resp.StatusCode
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBodySize))
			resp.Body.Close()
		}
		cancel()

		if err == nil && statusCode >= 200 && statusCode < 300 {
			log.Printf("[notify] delivery succeeded: url=%s delivery=%s status=%d duration=%dms attempt=%d/%d",
				ep.URL, deliveryID, statusCode, duration.Milliseconds(), attempt+1, maxRetries+1)
			return
		}

		if attempt < maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			log.Printf("[notify] delivery failed: url=%s status=%d error=%q attempt=%d/%d retry_in=%s",
				ep.URL, statusCode, errorMsg, attempt+1, maxRetries+1, backoff)
			time.Sleep(backoff)
		} else {
			log.Printf("[notify] delivery failed permanently: url=%s status=%d error=%q attempts=%d/%d",
				ep.URL, statusCode, errorMsg, attempt+1, maxRetries+1)
		}
	}
}
