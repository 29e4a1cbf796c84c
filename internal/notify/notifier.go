// internal/notify/notifier.go
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/batchrun/internal/config"
	"github.com/fyrsmithlabs/batchrun/internal/logging"
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 5 * time.Second

// Options configures a Notifier.
type Options struct {
	URL       string
	Secret    config.Secret
	ProjectID string
	RunID     string
	Timeout   time.Duration // zero means DefaultTimeout
	Client    *http.Client  // nil means a fresh client
	Logger    *logging.Logger
}

// Notifier builds signed progress events and dispatches them without ever
// blocking or failing the caller.
type Notifier struct {
	url       string
	secret    []byte
	projectID string
	runID     string
	timeout   time.Duration
	client    *http.Client
	log       *logging.Logger

	// wg supervises in-flight deliveries so Wait can drain them at exit.
	wg sync.WaitGroup

	// now is swappable for deterministic timestamps in tests.
	now func() time.Time
}

// New creates a Notifier. The signing secret must be set; that precondition
// belongs to config validation, not per-call handling.
func New(opts Options) *Notifier {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	log := opts.Logger
	if log == nil {
		log = logging.FromContext(context.Background())
	}
	return &Notifier{
		url:       opts.URL,
		secret:    []byte(opts.Secret.Value()),
		projectID: opts.ProjectID,
		runID:     opts.RunID,
		timeout:   timeout,
		client:    client,
		log:       log.Named("notify"),
		now:       time.Now,
	}
}

// Notify builds the event for u, signs it, and hands it to the best-effort
// dispatcher. It returns immediately and never reports delivery outcome.
func (n *Notifier) Notify(ctx context.Context, u Update) {
	event := newEvent(n.projectID, n.runID, u, n.now())

	payload, err := event.Payload()
	if err != nil {
		n.log.Warn(ctx, "event serialization failed, dropping notification", zap.Error(err))
		return
	}

	body, err := json.Marshal(envelope{Event: event, Signature: Sign(n.secret, payload)})
	if err != nil {
		n.log.Warn(ctx, "envelope serialization failed, dropping notification", zap.Error(err))
		return
	}

	n.dispatch(ctx, string(event.Status), body)
}

// Wait blocks until every in-flight delivery has finished or timed out.
// Callers drain before process exit so late deliveries still get their
// timeout window.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// dispatch performs one delivery attempt on a supervised goroutine. The
// attempt outlives the caller's context on purpose; only the timeout cancels
// the in-flight request.
func (n *Notifier) dispatch(ctx context.Context, status string, body []byte) {
	ctx = context.WithoutCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ctx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			n.log.Warn(ctx, "webhook request build failed", zap.String("status", status), zap.Error(err))
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			n.log.Warn(ctx, "webhook delivery failed", zap.String("status", status), zap.Error(err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			n.log.Warn(ctx, "webhook rejected event",
				zap.String("status", status),
				zap.Int("http_status", resp.StatusCode),
			)
			return
		}

		n.log.Debug(ctx, "webhook delivered", zap.String("status", status))
	}()
}
