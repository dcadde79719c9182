package ipc

// ResultStatus is the status of a single provider request.
type ResultStatus string

// Provider request statuses.
const (
	StatusSuccess ResultStatus = "success"
	StatusError   ResultStatus = "error"
)

// ProviderResult is the outcome of one provider request for one IP.
type ProviderResult struct {
	// Data is the flat normalized projection used for merging.  It is nil
	// when Status is [StatusError].
	Data Map `json:"data,omitempty"`

	// RawData is the preserved payload projection for debugging and the UI.
	// It is optional and may be nil even on success.
	RawData map[string]any `json:"rawData,omitempty"`

	// Source is the stable provider identifier.
	Source Source `json:"source"`

	// Err is the human-readable message when Status is [StatusError].
	Err string `json:"error,omitempty"`

	// Status is either [StatusSuccess] or [StatusError].
	Status ResultStatus `json:"status"`
}

// ProviderError is a per-provider failure preserved in the aggregate result.
type ProviderError struct {
	// Source is the stable provider identifier.
	Source Source `json:"source"`

	// Err is the human-readable failure message.
	Err string `json:"error"`
}
