package observability

// EventEnvelope is the audit record published to the broker for
// connection lifecycle and synchronization mode changes. Consumers key
// on event_type/event_name; the payload shape is per event.
type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// EventHeaders builds the AMQP headers that let a consumer correlate an
// audit event with the originating request and trace. Empty values are
// omitted.
func EventHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
