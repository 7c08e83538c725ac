package contextkey

// key is a private type to avoid context key collisions across packages.
type key string

const (
	TraceID   key = "trace_id"
	RequestID key = "request_id"
	UserID    key = "user_id"
	SessionID key = "session_id"
	RecordID  key = "record_id"
)

// Fields lists the keys copied into log entries, in output order.
var Fields = []key{TraceID, RequestID, UserID, SessionID, RecordID}

// Name returns the log field name of k.
func (k key) Name() string {
	return string(k)
}
