package invoker

// Invocation outcome statuses. Tool failure is data, never a Go error.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Result is the envelope returned for every invocation. It is what the
// model sees, so secrets must never land in any of its fields.
type Result struct {
	Status     string                 `json:"status"`
	Data       string                 `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	ReturnCode int                    `json:"return_code"`
	Invocation string                 `json:"invocation,omitempty"`
	Params     map[string]interface{} `json:"params,omitempty"`
}

func errorResult(invocation string, params map[string]interface{}, returnCode int, msg string) *Result {
	return &Result{
		Status:     StatusError,
		Error:      msg,
		ReturnCode: returnCode,
		Invocation: invocation,
		Params:     params,
	}
}
