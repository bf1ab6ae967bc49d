package models

import "time"

// Entry is one record in a dedup store. Entries are immutable once written,
// except that blank Fields may be filled by a later merge.
type Entry struct {
	Serial    int64             `json:"serial"`
	Timestamp time.Time         `json:"timestamp"`
	Key       string            `json:"key"`
	Fields    map[string]string `json:"fields"`
}

// Clone returns a deep copy so callers never share the store's field map.
func (e Entry) Clone() Entry {
	fields := make(map[string]string, len(e.Fields))
	for k, v := range e.Fields {
		fields[k] = v
	}
	e.Fields = fields
	return e
}
