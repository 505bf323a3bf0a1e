package extension

// Message types exchanged with extension containers over the JSON gRPC
// codec. Field names are JSON-tagged rather than generated from .proto so
// the wire shape is whatever the SDK on the other side expects.

type InitRequest struct {
	Config map[string]string `json:"config"`
}

type InitResponse struct{}

type InfoRequest struct{}

type InfoResponse struct {
	Documentation string `json:"documentation"`
}

type SubscribeRequest struct {
	NamespaceID    string            `json:"namespace_id"`
	PipelineID     string            `json:"pipeline_id"`
	SubscriptionID string            `json:"subscription_id"`
	Config         map[string]string `json:"config"`
}

type SubscribeResponse struct{}

type UnsubscribeRequest struct {
	NamespaceID    string `json:"namespace_id"`
	PipelineID     string `json:"pipeline_id"`
	SubscriptionID string `json:"subscription_id"`
}

type UnsubscribeResponse struct{}

type ShutdownRequest struct{}

type ShutdownResponse struct{}

type ExternalEventRequest struct {
	Headers map[string][]string `json:"headers"`
	Body    []byte              `json:"body"`
}

type ExternalEventResponse struct{}

// TriggerFireRequest is sent by the extension back to Gofer, inbound to the
// supervisor's callback server, to start a run.
type TriggerFireRequest struct {
	NamespaceID    string            `json:"namespace_id"`
	PipelineID     string            `json:"pipeline_id"`
	SubscriptionID string            `json:"subscription_id"`
	Variables      map[string]string `json:"variables"`
}

type TriggerFireResponse struct{}
