package schema

// Response types reported in the envelope.
const (
	// ResponseTypeLogAll tags the history replay response.
	ResponseTypeLogAll = "log_all"
)

// HistoryResponse is the envelope returned by the history endpoint.
// Content is only present when Code is CodeOK.
type HistoryResponse struct {
	Code    StatusCode     `json:"code"`
	Type    string         `json:"type"`
	Msg     string         `json:"msg"`
	Content []HistoryEntry `json:"content,omitempty"`
}
