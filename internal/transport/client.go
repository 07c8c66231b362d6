package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openleague/league-manager/internal/audit"
	"github.com/openleague/league-manager/internal/protocol"
)

// ClientConfig wires a Client.
type ClientConfig struct {
	Timeout     time.Duration // total per-attempt timeout
	MaxAttempts int
	Backoff     time.Duration // base backoff, doubled per attempt
	Audit       audit.Sink
	Logger      *zap.Logger
}

// Client issues blocking JSON-RPC calls with capped exponential backoff.
// Only transport-level failures (refused connections, timeouts) are retried;
// peers make retried messages safe through duplicate detection, so the
// retry policy is idempotent-only by construction. Protocol errors are
// returned to the caller untouched and never retried.
type Client struct {
	http        *http.Client
	maxAttempts int
	backoff     time.Duration
	audit       audit.Sink
	logger      *zap.SugaredLogger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	sink := cfg.Audit
	if sink == nil {
		sink = audit.Nop{}
	}
	return &Client{
		http:        &http.Client{Timeout: cfg.Timeout},
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		audit:       sink,
		logger:      cfg.Logger.Sugar(),
	}
}

// Call sends one envelope+payload to the peer's /mcp and returns the decoded
// result. A JSON-RPC error from the peer comes back as *protocol.Error.
func (c *Client) Call(ctx context.Context, baseURL string, env *protocol.Envelope, payload interface{}) (*protocol.Result, error) {
	req, err := protocol.NewRequest(uuid.NewString(), env, payload)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	url := baseURL + "/mcp"
	start := time.Now()
	defer func() { clientCallDuration.Observe(time.Since(start).Seconds()) }()

	c.audit.Append(audit.NewRecord(audit.DirRequest, env.Sender, url, env.ConversationID, body))

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			clientRetries.Inc()
			delay := c.backoff << (attempt - 1)
			c.logger.Warnw("Retrying call",
				"message_type", env.MessageType,
				"attempt", attempt+1,
				"delay", delay,
				"error", lastErr,
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		respBody, status, err := c.post(ctx, url, body)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if status != http.StatusOK {
			// HTTP 400 means the peer could not even parse the frame; that
			// is a programming error on our side, not a transient.
			return nil, protocol.Errorf(protocol.CodeInternalError,
				"peer returned HTTP %d", status)
		}

		c.audit.Append(audit.NewRecord(audit.DirResponse, url, env.Sender, env.ConversationID, respBody))

		var resp protocol.Response
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return protocol.DecodeResult(&resp)
	}

	return nil, protocol.Errorf(protocol.CodeTransportTimeout,
		"call %s to %s failed after %d attempts", env.MessageType, baseURL, c.maxAttempts).
		WithEnvelope(env)
}

func (c *Client) post(ctx context.Context, url string, body []byte) ([]byte, int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, MaxBodySize))
	if err != nil {
		return nil, 0, err
	}
	return respBody, httpResp.StatusCode, nil
}
