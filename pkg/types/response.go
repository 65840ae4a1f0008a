package types

// Envelope is the {"data": ...} wrapper around successful admin responses.
// Clients decode into Envelope[T] for the payload they expect.
type Envelope[T any] struct {
	Data T `json:"data"`
}

// SuccessEnvelope is the untyped form used when writing responses.
type SuccessEnvelope = Envelope[any]

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
