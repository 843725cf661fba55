package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/trackline-io/trackline/internal/lifecycle"
)

// maxPayloadBytes caps webhook request bodies.
const maxPayloadBytes = 1 << 20

// Handler terminates the HTTP side of webhook deliveries: signature check,
// header extraction, payload parsing. Everything the processor classifies as
// a no-op is still acknowledged with 200, because the sender's retry policy
// keys off the status code and retries cannot fix a no-op.
type Handler struct {
	processor *Processor
	secret    string // empty disables signature verification
	logger    *slog.Logger
}

// NewHandler creates the webhook endpoint handler. An empty secret disables
// signature verification.
func NewHandler(processor *Processor, secret string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{processor: processor, secret: secret, logger: logger}
}

// payload is the subset of Bitbucket's event body we read. Pull request
// events carry the branch under pullrequest.source, push events under
// push.changes[].new.
type payload struct {
	PullRequest struct {
		Source struct {
			Branch struct {
				Name string `json:"name"`
			} `json:"branch"`
		} `json:"source"`
	} `json:"pullrequest"`
	Push struct {
		Changes []struct {
			New struct {
				Name string `json:"name"`
			} `json:"new"`
		} `json:"changes"`
	} `json:"push"`
}

func (p payload) branchName() string {
	if n := p.PullRequest.Source.Branch.Name; n != "" {
		return n
	}
	for _, c := range p.Push.Changes {
		if c.New.Name != "" {
			return c.New.Name
		}
	}
	return ""
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	if h.secret != "" && !h.verifySignature(r, body) {
		h.logger.Warn("webhook signature rejected", "remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	d := Delivery{
		ID:         r.Header.Get("X-Request-UUID"),
		EventKind:  lifecycle.EventKind(r.Header.Get("X-Event-Key")),
		BranchName: p.branchName(),
	}

	outcome, err := h.processor.Process(r.Context(), d)
	if err != nil {
		h.logger.Error("webhook processing failed", "error", err, "event", string(d.EventKind))
		http.Error(w, "processing failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"result": string(outcome)})
}

// verifySignature checks the HMAC-SHA256 body signature Bitbucket sends when
// the webhook has a secret configured.
func (h *Handler) verifySignature(r *http.Request, body []byte) bool {
	sig := r.Header.Get("X-Hub-Signature")
	if sig == "" {
		sig = r.Header.Get("X-Hub-Signature-256")
	}
	sig = strings.TrimPrefix(sig, "sha256=")
	if sig == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(strings.ToLower(sig)))
}
