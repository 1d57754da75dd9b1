package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/starford/notesync/internal/apperr"
	"github.com/starford/notesync/internal/checksum"
	"github.com/starford/notesync/internal/crypt"
	"github.com/starford/notesync/internal/models"
)

// Client is the HTTP implementation of Remote. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	authToken  string
	retryer    Retryer
	box        *crypt.Box
	logger     *slog.Logger
}

var _ Remote = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithToken sends token as a Bearer credential.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.authToken = token }
}

// WithRetryer replaces the retry policy.
func WithRetryer(r Retryer) ClientOption {
	return func(c *Client) { c.retryer = r }
}

// WithCrypt seals bodies on push and opens them on fetch.
func WithCrypt(box *crypt.Box) ClientOption {
	return func(c *Client) { c.box = box }
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the service at baseURL. timeout bounds each
// attempt, not the whole retry window.
func NewClient(baseURL string, timeout time.Duration, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		retryer:    NewExponentialBackoffRetryer(200*time.Millisecond, 5*time.Second, 4),
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FetchIndex implements Remote.
func (c *Client) FetchIndex(ctx context.Context) (*models.IndexSnapshot, error) {
	resp, err := c.do(ctx, "fetch index", http.MethodGet, "/api/index", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var snap models.IndexSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("remote: fetch index: decode: %w", err)
	}
	return &snap, nil
}

// FetchNoteContent implements Remote. The body is checked against the hash the
// service reports for it.
func (c *Client) FetchNoteContent(ctx context.Context, id string) ([]byte, error) {
	resp, err := c.do(ctx, "fetch note "+id, http.MethodGet, "/api/notes/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("remote: fetch note %s: read: %w: %w", id, apperr.ErrUnavailable, err)
	}
	if c.box != nil {
		if body, err = c.box.Open(body); err != nil {
			return nil, fmt.Errorf("remote: fetch note %s: %w", id, err)
		}
	}
	if want := resp.Header.Get(models.HeaderContentHash); want != "" && want != checksum.Sum(body) {
		return nil, fmt.Errorf("remote: fetch note %s: content hash mismatch", id)
	}
	return body, nil
}

// PushChanges implements Remote.
func (c *Client) PushChanges(ctx context.Context, baseRevision int64, notes []models.PushNote) (int64, error) {
	req := models.PushRequest{BaseRevision: baseRevision, Notes: make([]models.PushNote, len(notes))}
	for i, n := range notes {
		if c.box != nil && !n.Deleted {
			sealed, err := c.box.Seal(n.Content)
			if err != nil {
				return 0, fmt.Errorf("remote: push: %w", err)
			}
			n.Content = sealed
		}
		req.Notes[i] = n
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("remote: push: encode: %w", err)
	}

	var attempts int
	resp, err := c.send(ctx, "push", http.MethodPost, "/api/push", payload, &attempts)
	if err != nil {
		// An earlier attempt may have been applied with its response lost;
		// the retry then sees its own push as a conflict.
		if attempts > 1 && errors.Is(err, apperr.ErrConflict) {
			if rev, ok := c.landed(ctx, baseRevision, notes); ok {
				c.logger.Warn("remote: push already applied", slog.Int64("revision", rev))
				return rev, nil
			}
		}
		return 0, err
	}
	defer resp.Body.Close()

	var ack models.PushResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return 0, fmt.Errorf("remote: push: decode: %w", err)
	}
	return ack.Revision, nil
}

// landed reports whether the remote is exactly one revision past base and
// holds every pushed note as pushed.
func (c *Client) landed(ctx context.Context, base int64, notes []models.PushNote) (int64, bool) {
	snap, err := c.FetchIndex(ctx)
	if err != nil || snap.Revision != base+1 {
		return 0, false
	}
	stored := make(map[string]models.RemoteNote, len(snap.Notes))
	for _, n := range snap.Notes {
		stored[n.ID] = n
	}
	for _, n := range notes {
		got, ok := stored[n.ID]
		if !ok || got.Deleted != n.Deleted || (!n.Deleted && got.Hash != n.Hash) {
			return 0, false
		}
	}
	return snap.Revision, true
}

// do sends one request, retrying transient failures per the retry policy.
// The returned response has a 2xx status and an open body.
func (c *Client) do(ctx context.Context, op, method, path string, payload []byte) (*http.Response, error) {
	return c.send(ctx, op, method, path, payload, nil)
}

// send is do that also records the number of attempts made.
func (c *Client) send(ctx context.Context, op, method, path string, payload []byte, attempts *int) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		if attempts != nil {
			*attempts = attempt + 1
		}
		resp, err := c.attempt(ctx, method, path, payload)
		if err == nil {
			return resp, nil
		}
		var te *transientError
		if !errors.As(err, &te) {
			return nil, fmt.Errorf("remote: %s: %w", op, err)
		}

		delay, ok := c.retryer.NextDelay(attempt, te.cause)
		if !ok {
			return nil, fmt.Errorf("remote: %s: %w after %d attempts: %w", op, apperr.ErrUnavailable, attempt+1, te.cause)
		}
		c.logger.Warn("remote: retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error", te.cause.Error()))

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("remote: %s: %w", op, ctxErr(ctx.Err()))
		case <-t.C:
		}
	}
}

type transientError struct{ cause error }

func (e *transientError) Error() string { return e.cause.Error() }

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctxErr(ctx.Err())
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, &transientError{cause: fmt.Errorf("%w: %w", apperr.ErrTimeout, err)}
		}
		return nil, &transientError{cause: err}
	}
	if resp.StatusCode < 300 {
		return resp, nil
	}
	return nil, statusError(resp)
}

// statusError consumes a non-2xx response and maps it onto the error taxonomy.
func statusError(resp *http.Response) error {
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var body models.ErrorResponse
	_ = json.Unmarshal(raw, &body)
	msg := body.Error
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}

	switch code := resp.StatusCode; {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", apperr.ErrUnauthorized, code)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", apperr.ErrNotFound, msg)
	case code == http.StatusConflict:
		return fmt.Errorf("%w: remote is at revision %d", apperr.ErrConflict, body.Revision)
	case code == http.StatusTooManyRequests || code >= 500:
		return &transientError{cause: fmt.Errorf("status %d: %s", code, msg)}
	default:
		return fmt.Errorf("status %d: %s", code, msg)
	}
}

func ctxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", apperr.ErrTimeout, err)
	}
	return err
}
