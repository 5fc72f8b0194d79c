package caller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/useVega/vega-protocol/internal/xerrors"
)

// DefaultTimeout is the per-request timeout used when none is configured.
const DefaultTimeout = 60 * time.Second

// AsPaymentChallenge reports whether err represents a 402 payment-required
// response, returning the decoded challenge when it does.
func AsPaymentChallenge(err error) (*PaymentChallenge, bool) {
	pc, ok := err.(*PaymentChallenge)
	return pc, ok
}

func (p *PaymentChallenge) Error() string {
	return fmt.Sprintf("payment required (402): %s", p.Message)
}

// Caller speaks JSON-RPC 2.0 "message/send" to remote agents over HTTP POST
// to their declared base URL, and memoizes descriptor documents per
// endpoint for the process lifetime.
//
// The descriptor cache and the injectable *http.Client generalize a
// single-REST-base-URL SDK client shape to the multi-endpoint,
// multi-agent case the registry demands.
type Caller struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.SugaredLogger

	cacheMu sync.RWMutex
	cache   map[string]AgentCard

	nextID int64
}

// New constructs a Caller. httpClient may be nil to use http.DefaultClient's
// transport with the configured timeout.
func New(httpClient *http.Client, timeout time.Duration, logger *zap.SugaredLogger) *Caller {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Caller{
		httpClient: httpClient,
		timeout:    timeout,
		logger:     logger,
		cache:      make(map[string]AgentCard),
	}
}

// ClearCache drops every memoized descriptor document, for test isolation.
func (c *Caller) ClearCache() {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.cache = make(map[string]AgentCard)
}

// Descriptor fetches and memoizes the agent-card document at endpointBase.
func (c *Caller) Descriptor(ctx context.Context, endpointBase string) (AgentCard, error) {
	c.cacheMu.RLock()
	card, ok := c.cache[endpointBase]
	c.cacheMu.RUnlock()
	if ok {
		return card, nil
	}

	cardURL := strings.TrimRight(endpointBase, "/") + "/.well-known/agent-card.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cardURL, nil)
	if err != nil {
		return AgentCard{}, xerrors.Wrap(xerrors.CodeExecution, err, "build descriptor request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return AgentCard{}, xerrors.Wrap(xerrors.CodeExecution, err, "fetch agent descriptor")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return AgentCard{}, xerrors.Wrap(xerrors.CodeExecution, err, "read agent descriptor body")
	}
	if resp.StatusCode != http.StatusOK {
		return AgentCard{}, xerrors.New(xerrors.CodeExecution, fmt.Sprintf("agent descriptor fetch failed: %d", resp.StatusCode))
	}

	var decoded AgentCard
	if err := json.Unmarshal(body, &decoded); err != nil {
		return AgentCard{}, xerrors.Wrap(xerrors.CodeExecution, err, "decode agent descriptor")
	}
	if decoded.URL == "" {
		decoded.URL = endpointBase
	}

	c.cacheMu.Lock()
	// First writer wins: another goroutine may have raced us here.
	if existing, ok := c.cache[endpointBase]; ok {
		c.cacheMu.Unlock()
		return existing, nil
	}
	c.cache[endpointBase] = decoded
	c.cacheMu.Unlock()

	return decoded, nil
}

// Available probes the descriptor document, reporting whether it could be
// fetched successfully.
func (c *Caller) Available(ctx context.Context, endpointBase string) bool {
	_, err := c.Descriptor(ctx, endpointBase)
	return err == nil
}

// Call invokes the agent at endpointBase with inputs, optionally scoped to
// an existing contextId, and returns the decoded Message/Task result. If
// the agent responds with a 402 payment-required error, Call returns a
// *PaymentChallenge (which satisfies error) rather than a generic error, so
// callers can type-switch on it.
func (c *Caller) Call(ctx context.Context, endpointBase string, inputs map[string]any, contextID string) (*Result, error) {
	return c.call(ctx, endpointBase, inputs, contextID, nil)
}

// CallWithMetadata is Call plus an additional metadata map merged into the
// outbound message, used by the payment coordinator to attach payment
// proof on a retried call.
func (c *Caller) CallWithMetadata(ctx context.Context, endpointBase string, inputs map[string]any, contextID string, metadata map[string]any) (*Result, error) {
	return c.call(ctx, endpointBase, inputs, contextID, metadata)
}

func (c *Caller) call(ctx context.Context, endpointBase string, inputs map[string]any, contextID string, metadata map[string]any) (*Result, error) {
	card, err := c.Descriptor(ctx, endpointBase)
	if err != nil {
		return nil, err
	}
	targetURL := card.URL
	if targetURL == "" {
		targetURL = endpointBase
	}
	if _, err := url.Parse(targetURL); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecution, err, "invalid agent url")
	}

	dataBytes, err := json.Marshal(inputs)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecution, err, "marshal agent inputs")
	}

	reqBody := rpcRequest{
		JSONRPC: "2.0",
		Method:  "message/send",
		ID:      atomic.AddInt64(&c.nextID, 1),
		Params: rpcParams{
			Message: rpcMessage{
				Kind:      "message",
				MessageID: uuid.NewString(),
				Role:      "user",
				Parts:     []Part{{Kind: "data", Data: json.RawMessage(dataBytes)}},
				ContextID: contextID,
				Metadata:  metadata,
			},
			Configuration: rpcConfiguration{Blocking: true},
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecution, err, "marshal rpc request")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, targetURL, bytes.NewReader(payload))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecution, err, "build rpc request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if callCtx.Err() != nil {
			return nil, xerrors.Wrap(xerrors.CodeExecution, err, "timeout", xerrors.WithRetryable(true))
		}
		return nil, xerrors.Wrap(xerrors.CodeExecution, err, "agent call transport failure", xerrors.WithRetryable(true))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecution, err, "read rpc response body")
	}

	var decoded rpcResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecution, err, "decode rpc response")
	}

	if decoded.Error != nil {
		if challenge := paymentChallengeFrom(decoded.Error); challenge != nil {
			return nil, challenge
		}
		retryable := decoded.Error.Code >= 500
		return nil, xerrors.New(xerrors.CodeExecution, fmt.Sprintf("agent rpc error %d: %s", decoded.Error.Code, decoded.Error.Message), xerrors.WithRetryable(retryable))
	}

	var result Result
	if err := json.Unmarshal(decoded.Result, &result); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecution, err, "decode rpc result")
	}
	return &result, nil
}

func paymentChallengeFrom(rpcErr *rpcError) *PaymentChallenge {
	if rpcErr.Code != 402 {
		return nil
	}
	var data rpcErrorData
	if len(rpcErr.Data) > 0 {
		_ = json.Unmarshal(rpcErr.Data, &data)
	}
	return &PaymentChallenge{
		Code:    rpcErr.Code,
		Message: rpcErr.Message,
		Accepts: data.Accepts,
	}
}

// ExtractOutput extracts a plain-data output from result: for a
// Message with exactly one text part, its text; with multiple text parts,
// the array of their text; if the only informative content is data parts,
// a shallow merge of their data (later parts win). For a Task, {taskId,
// status, output} where output is derived the same way from the first
// artifact's parts; a Task with no artifacts yields {taskId, status}.
func ExtractOutput(result *Result) (any, error) {
	switch result.Kind {
	case KindMessage:
		return extractFromParts(result.Parts)
	case KindTask:
		out := map[string]any{
			"taskId": result.ID,
			"status": result.Status.State,
		}
		if len(result.Artifacts) > 0 {
			output, err := extractFromParts(result.Artifacts[0].Parts)
			if err != nil {
				return nil, err
			}
			out["output"] = output
		}
		return out, nil
	default:
		return nil, xerrors.New(xerrors.CodeExecution, "agent returned unknown result kind: "+string(result.Kind))
	}
}

func extractFromParts(parts []Part) (any, error) {
	var texts []string
	dataMerged := make(map[string]any)
	haveData := false

	for _, p := range parts {
		switch p.Kind {
		case "text":
			texts = append(texts, p.Text)
		case "data":
			var m map[string]any
			if len(p.Data) > 0 {
				if err := json.Unmarshal(p.Data, &m); err != nil {
					return nil, xerrors.Wrap(xerrors.CodeExecution, err, "decode data part")
				}
			}
			for k, v := range m {
				dataMerged[k] = v
			}
			haveData = true
		case "error":
			return nil, xerrors.New(xerrors.CodeExecution, "agent part error: "+p.Error)
		}
	}

	if len(texts) == 1 {
		return texts[0], nil
	}
	if len(texts) > 1 {
		out := make([]any, len(texts))
		for i, t := range texts {
			out[i] = t
		}
		return out, nil
	}
	if haveData {
		return dataMerged, nil
	}
	return nil, nil
}
