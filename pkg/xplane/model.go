package xplane

// Message types of the X-Plane web API websocket
const (
	typeSubscribe    = "dataref_subscribe_values"
	typeUpdateValues = "dataref_update_values"
	typeResult       = "result"
)

type datarefInfo struct {
	ID         int64  `json:"id"`
	IsWritable bool   `json:"is_writable"`
	Name       string `json:"name"`
	ValueType  string `json:"value_type"`
}

type datarefsResponse struct {
	Data []datarefInfo `json:"data"`
}

type subscribeRequest struct {
	RequestID int64           `json:"req_id"`
	Type      string          `json:"type"`
	Params    subscribeParams `json:"params"`
}

type subscribeParams struct {
	Datarefs []subscribeDataref `json:"datarefs"`
}

type subscribeDataref struct {
	ID int64 `json:"id"`
}

type message struct {
	RequestID int64          `json:"req_id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Success   bool           `json:"success,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
	ErrorMsg  string         `json:"error_message,omitempty"`
}
