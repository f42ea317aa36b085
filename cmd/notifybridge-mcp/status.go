// status.go — small time helpers for the §3.3 bridge status view. Kept
// separate from tools.go so the jsonTime wire format (RFC 3339, the same
// layout time.Time already marshals to) stays obviously trivial.
package main

import (
	"encoding/json"
	"io"
	"time"
)

// jsonTime is time.Time with the zero value omitted by omitempty, which
// time.Time itself does not support (its MarshalJSON never reports "empty").
type jsonTime time.Time

func (t jsonTime) MarshalJSON() ([]byte, error) {
	return time.Time(t).MarshalJSON()
}

func jsonTimeNow() jsonTime {
	return jsonTime(time.Now().UTC())
}

func timeSince(t time.Time) float64 {
	return time.Since(t).Seconds()
}

func jsonEncode(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}
