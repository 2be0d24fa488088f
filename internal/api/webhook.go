package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	gosync "sync"
	"time"

	"github.com/driftsync/gitmirrord/internal/reload"
	"github.com/driftsync/gitmirrord/internal/sync"
)

const (
	// SignatureHeader carries the HMAC-SHA256 signature of the request body,
	// in the GitHub "sha256=<hex>" form
	SignatureHeader = "X-Hub-Signature-256"

	// maxWebhookBody bounds how much of a notification body is read
	maxWebhookBody = 1 << 20
)

// webhookPayload is the subset of a push notification body the daemon
// understands. GitHub push events carry "after" and "ref"; the generic form
// carries "revision".
type webhookPayload struct {
	Revision string `json:"revision"`
	After    string `json:"after"`
	Ref      string `json:"ref"`
}

// WebhookHandler accepts push notifications and converts them into sync
// triggers. Verification, revision hints and debouncing are all optional and
// driven by configuration.
type WebhookHandler struct {
	engine   sync.Engine
	secret   []byte
	branch   string
	debounce time.Duration

	mu      gosync.Mutex
	pending bool
}

// WebhookOption configures the webhook handler
type WebhookOption func(*WebhookHandler)

// WithSecret enables HMAC-SHA256 signature verification with the given secret
func WithSecret(secret []byte) WebhookOption {
	return func(wh *WebhookHandler) {
		if len(secret) > 0 {
			wh.secret = secret
		}
	}
}

// WithBranch sets the branch that GitHub-style push events must reference.
// Events for other refs are acknowledged and ignored.
func WithBranch(branch string) WebhookOption {
	return func(wh *WebhookHandler) {
		wh.branch = branch
	}
}

// WithDebounce collapses notification bursts: the first notification in a
// window schedules a single trigger, later ones within the window are absorbed
func WithDebounce(d time.Duration) WebhookOption {
	return func(wh *WebhookHandler) {
		wh.debounce = d
	}
}

// NewWebhookHandler creates a webhook handler that triggers the given engine
func NewWebhookHandler(engine sync.Engine, opts ...WebhookOption) *WebhookHandler {
	wh := &WebhookHandler{
		engine: engine,
	}

	for _, opt := range opts {
		opt(wh)
	}

	return wh
}

// ServeHTTP handles POST /webhook
func (wh *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, ErrorResponse{Error: "failed to read request body"})
		return
	}

	if status, errMsg := wh.verifySignature(r, body); errMsg != "" {
		writeJSONResponse(w, status, ErrorResponse{Error: errMsg})
		return
	}

	var payload webhookPayload
	if len(body) > 0 {
		// A non-JSON body is not an error, it simply carries no hints
		_ = json.Unmarshal(body, &payload)
	}

	// Push events for other branches are acknowledged but do not trigger
	if payload.Ref != "" && wh.branch != "" && !refMatchesBranch(payload.Ref, wh.branch) {
		slog.Debug("Ignoring webhook for unrelated ref", "ref", payload.Ref, "branch", wh.branch)
		writeJSONResponse(w, http.StatusOK, WebhookResponse{Status: "ignored", Triggered: false})
		return
	}

	hint := revisionHint(r, &payload)
	current := wh.engine.Status().Revision
	if hint != "" && hint == current {
		slog.Debug("Webhook revision already mirrored, skipping trigger", "revision", hint)
		writeJSONResponse(w, http.StatusOK, WebhookResponse{
			Status:    "ok",
			Revision:  hint,
			Triggered: false,
		})
		return
	}

	wh.trigger()
	writeJSONResponse(w, http.StatusAccepted, WebhookResponse{
		Status:    "accepted",
		Revision:  hint,
		Triggered: true,
	})
}

// verifySignature checks the HMAC signature when a secret is configured.
// Returns a non-empty error message and status code on rejection.
func (wh *WebhookHandler) verifySignature(r *http.Request, body []byte) (int, string) {
	if len(wh.secret) == 0 {
		return 0, ""
	}

	sig := r.Header.Get(SignatureHeader)
	if sig == "" {
		return http.StatusUnauthorized, "missing signature"
	}

	sig = strings.TrimPrefix(sig, "sha256=")
	expected, err := hex.DecodeString(sig)
	if err != nil {
		return http.StatusForbidden, "malformed signature"
	}

	mac := hmac.New(sha256.New, wh.secret)
	mac.Write(body)
	if !hmac.Equal(expected, mac.Sum(nil)) {
		return http.StatusForbidden, "invalid signature"
	}

	return 0, ""
}

// trigger fires the engine, debounced when a window is configured
func (wh *WebhookHandler) trigger() {
	if wh.debounce <= 0 {
		wh.engine.Trigger(sync.TriggerWebhook)
		return
	}

	wh.mu.Lock()
	defer wh.mu.Unlock()

	if wh.pending {
		return
	}
	wh.pending = true

	time.AfterFunc(wh.debounce, func() {
		wh.mu.Lock()
		wh.pending = false
		wh.mu.Unlock()

		wh.engine.Trigger(sync.TriggerWebhook)
	})
}

// revisionHint extracts the pushed revision from the header or the body
func revisionHint(r *http.Request, payload *webhookPayload) string {
	if hint := r.Header.Get(reload.RevisionHeader); hint != "" {
		return hint
	}
	if payload.Revision != "" {
		return payload.Revision
	}
	return payload.After
}

// refMatchesBranch reports whether a push event ref names the given branch
func refMatchesBranch(ref, branch string) bool {
	return ref == branch || ref == "refs/heads/"+branch
}
