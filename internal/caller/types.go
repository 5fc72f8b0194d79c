// Package caller speaks the JSON-RPC "message/send" envelope to remote
// agents and fetches their well-known descriptor documents.
//
// The HTTP client shape (an injectable *http.Client wrapped around a parsed
// base URL, with typed request/response structs and a distinct API-error
// type) follows a conventional Go SDK client pattern. The result
// tagged-union and descriptor document fields follow KIMMUSIC-a2a-protocol's
// Task/AgentMeta/AgentCapability naming and avidreder-agent-mcp-demo's
// X402 payment-requirement shape for the parts that overlap with the
// payment-challenge union member.
package caller

import "encoding/json"

// Part is one piece of a Message or Task artifact. Exactly one of Text,
// Data, Artifact, or Error is populated, selected by Kind.
type Part struct {
	Kind     string          `json:"kind"`
	Text     string          `json:"text,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Artifact json.RawMessage `json:"artifact,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Artifact is a named bundle of Parts produced by a Task.
type Artifact struct {
	Name  string `json:"name,omitempty"`
	Parts []Part `json:"parts"`
}

// TaskStatus mirrors the agent-reported lifecycle of a Task result.
type TaskStatus struct {
	State string `json:"state"`
}

// ResultKind discriminates the Message/Task tagged union a call returns.
type ResultKind string

const (
	KindMessage ResultKind = "message"
	KindTask    ResultKind = "task"
)

// Result is the decoded shape of a successful "message/send" call: either a
// Message (Kind == KindMessage, Parts populated) or a Task (Kind ==
// KindTask, ID/Status/Artifacts populated).
type Result struct {
	Kind      ResultKind `json:"kind"`
	Parts     []Part     `json:"parts,omitempty"`
	ID        string     `json:"id,omitempty"`
	Status    TaskStatus `json:"status,omitempty"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// PaymentRequirement is the "accepts" entry of a 402 challenge.
type PaymentRequirement struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	Asset             string `json:"asset"`
	PayTo             string `json:"payTo"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	Resource          string `json:"resource"`
	Description       string `json:"description"`
	MimeType          string `json:"mimeType"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds"`
}

// PaymentChallenge is a JSON-RPC error carrying one or more payment
// requirements, returned with numeric code 402.
type PaymentChallenge struct {
	Code    int                   `json:"code"`
	Message string                `json:"message"`
	Accepts []PaymentRequirement  `json:"accepts"`
}

// rpcRequest is the JSON-RPC 2.0 envelope for a message/send call.
type rpcRequest struct {
	JSONRPC string     `json:"jsonrpc"`
	Method  string     `json:"method"`
	ID      int64      `json:"id"`
	Params  rpcParams  `json:"params"`
}

type rpcParams struct {
	Message       rpcMessage       `json:"message"`
	Configuration rpcConfiguration `json:"configuration"`
}

type rpcMessage struct {
	Kind      string         `json:"kind"`
	MessageID string         `json:"messageId"`
	Role      string         `json:"role"`
	Parts     []Part         `json:"parts"`
	ContextID string         `json:"contextId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type rpcConfiguration struct {
	Blocking bool `json:"blocking"`
}

// rpcResponse is the raw JSON-RPC envelope before Result/Error are
// interpreted.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type rpcErrorData struct {
	Accepts []PaymentRequirement `json:"accepts"`
}

// AgentCard is the document fetched from
// "<endpointBase>/.well-known/agent-card.json".
type AgentCard struct {
	Name         string            `json:"name"`
	URL          string            `json:"url"`
	Capabilities []string          `json:"capabilities"`
	Endpoints    map[string]string `json:"endpoints,omitempty"`
	Streaming    bool              `json:"streaming,omitempty"`
	Metadata     map[string]any    `json:"metadata,omitempty"`
}
