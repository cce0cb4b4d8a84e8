package phase

import (
	"github.com/rs/zerolog"

	"github.com/geekprojects/blackbox/pkg/telemetry"
)

// Value is a named numeric payload attached to a status message
type Value struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Status is the human readable explanation of the classifier's latest decision
type Status struct {
	Phase  telemetry.Phase `json:"phase"`
	Text   string          `json:"text"`
	Values []Value         `json:"values,omitempty"`
}

func newStatus(p telemetry.Phase, text string, values ...Value) *Status {
	return &Status{Phase: p, Text: text, Values: values}
}

// MarshalZerologObject lets a status be logged with its payload as fields
func (s Status) MarshalZerologObject(e *zerolog.Event) {
	e.Str("phase", s.Phase.String()).Str("text", s.Text)
	for _, v := range s.Values {
		e.Float64(v.Name, v.Value)
	}
}
