package logging

import (
	"bytes"
	"encoding/json"
	"time"
)

// Record is one structured log entry. It is created per emit, handed once
// to the sink, and not retained by the logger.
type Record struct {
	Timestamp time.Time
	Level     Level
	Message   string
	Context   string
	Trace     string
	Metadata  map[string]any
}

// MarshalJSON emits the canonical wire form: keys in the fixed order
// timestamp, level, message, context?, trace?, metadata?. Sinks writing
// NDJSON append a single newline per record; the object itself carries no
// trailing whitespace.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	buf.WriteString(`"timestamp":`)
	ts, err := json.Marshal(r.Timestamp.Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	buf.Write(ts)

	buf.WriteString(`,"level":`)
	lv, err := json.Marshal(r.Level.String())
	if err != nil {
		return nil, err
	}
	buf.Write(lv)

	buf.WriteString(`,"message":`)
	msg, err := json.Marshal(r.Message)
	if err != nil {
		return nil, err
	}
	buf.Write(msg)

	if r.Context != "" {
		buf.WriteString(`,"context":`)
		c, err := json.Marshal(r.Context)
		if err != nil {
			return nil, err
		}
		buf.Write(c)
	}
	if r.Trace != "" {
		buf.WriteString(`,"trace":`)
		t, err := json.Marshal(r.Trace)
		if err != nil {
			return nil, err
		}
		buf.Write(t)
	}
	if len(r.Metadata) > 0 {
		buf.WriteString(`,"metadata":`)
		md, err := json.Marshal(r.Metadata)
		if err != nil {
			return nil, err
		}
		buf.Write(md)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}
