package domain

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// TimestampFormat is the ISO-8601 layout stamped on every outbound envelope.
const TimestampFormat = time.RFC3339Nano

// Envelope is the wire message exchanged in both directions.
// Inbound frames only populate Type, Data and RequestID.
type Envelope struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	RequestID string         `json:"request_id,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	Success   *bool          `json:"success,omitempty"`
	Error     string         `json:"error,omitempty"`
	Code      string         `json:"code,omitempty"`
}

// NewEnvelope builds an outbound envelope with a non-nil data object.
func NewEnvelope(msgType string, data map[string]any) Envelope {
	if data == nil {
		data = map[string]any{}
	}
	return Envelope{Type: msgType, Data: data}
}

// Stamped returns a copy carrying the given server time.
func (e Envelope) Stamped(now time.Time) Envelope {
	e.Timestamp = now.UTC().Format(TimestampFormat)
	return e
}

// WithRequestID returns a copy correlated to the given client request.
func (e Envelope) WithRequestID(requestID string) Envelope {
	e.RequestID = requestID
	return e
}

// WithSuccess returns a copy carrying an acknowledgement outcome.
func (e Envelope) WithSuccess(ok bool, errMsg string) Envelope {
	e.Success = &ok
	e.Error = errMsg
	return e
}

// StringField reads a string-like field from Data. JSON numbers (decoded as
// json.Number or float64) are accepted for integer ids. Returns false when the
// field is absent, empty or not a scalar.
func (e Envelope) StringField(key string) (string, bool) {
	raw, ok := e.Data[key]
	if !ok || raw == nil {
		return "", false
	}

	var s string
	switch v := raw.(type) {
	case string:
		s = strings.TrimSpace(v)
	case json.Number:
		s = v.String()
	case float64:
		if v != float64(int64(v)) {
			return "", false
		}
		s = strconv.FormatInt(int64(v), 10)
	case int:
		s = strconv.Itoa(v)
	case int64:
		s = strconv.FormatInt(v, 10)
	default:
		return "", false
	}
	return s, s != ""
}

// Marshal encodes the envelope for the wire.
func (e Envelope) Marshal() ([]byte, error) {
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	return json.Marshal(e)
}
