// Package wire defines the transport-level shapes the request multiplexer
// speaks: the Envelope/Response pair from spec section 6, and the typed
// payloads carried inside an Envelope's data field. The actual wire
// encoding of these shapes is an external concern (see pkg/transport);
// this package only defines the Go-level contract.
package wire

// NodeType identifies the class of node issuing a request.
type NodeType string

const (
	NodeTypeWorker NodeType = "WORKER"
	NodeTypePS     NodeType = "PS"
)

// Envelope is the request (and, for Get, the reply) shape every
// multiplexer operation moves. PayloadKind selects the handler;
// Payload is that handler's kind-specific struct, pre-encoded by the
// caller (see pkg/transport for the actual encoding used on the wire).
type Envelope struct {
	NodeID      int64    `json:"node_id"`
	NodeType    NodeType `json:"node_type"`
	PayloadKind string   `json:"payload_kind"`
	Payload     []byte   `json:"payload"`

	// CorrelationID ties together every retry attempt and log line for
	// one logical request; it is assigned once by the client and never
	// touched by the master. Empty on envelopes built before this field
	// existed, which decode to the zero value without error.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Response is the Report reply shape.
type Response struct {
	Success bool `json:"success"`
}
