package ingress

import "time"

// Envelope is the JSON shape every ingress response returns, grounded on
// the Success/StatusMessage/Timestamp response wrapper the rest of the
// example pack uses for its own HTTP APIs.
type Envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Details []fieldErr  `json:"details,omitempty"`
	Time    string      `json:"time"`
}

type fieldErr struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func ok(data interface{}) Envelope {
	return Envelope{Success: true, Data: data, Time: time.Now().UTC().Format(time.RFC3339)}
}

func fail(message string) Envelope {
	return Envelope{Success: false, Message: message, Time: time.Now().UTC().Format(time.RFC3339)}
}

func failWithDetails(message string, details []fieldErr) Envelope {
	e := fail(message)
	e.Details = details
	return e
}
