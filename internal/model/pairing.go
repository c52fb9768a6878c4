package model

// Message types and statuses exchanged on "<serial>/pair".
const (
	PairingTypeRequest  = "request"
	PairingTypeResponse = "response"
	PairingTypeUnpair   = "unpair"

	PairingStatusAccepted = "accepted"
	PairingStatusRejected = "rejected"
)

type PairingRequest struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
}

type PairingResponse struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type UnpairNotice struct {
	Type string `json:"type"`
}

// SpeedPayload is sent on start and stop topics.
type SpeedPayload struct {
	Speed int `json:"speed"`
}

// ValuePayload is sent on set and cmd topics.
type ValuePayload struct {
	Value int `json:"value"`
}
