// Package export renders mutation audit records for operators and
// spreadsheets.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/kilianp07/dispatchsync/core/mutation/audit"
)

// Header is the CSV column order.
var Header = []string{"timestamp", "request_id", "operation", "target_id", "outcome", "error", "latency_ms", "invalidated"}

// WriteJSON writes records to w as a single JSON array.
func WriteJSON(w io.Writer, records []audit.Record) error {
	if records == nil {
		records = []audit.Record{}
	}
	return json.NewEncoder(w).Encode(records)
}

// WriteCSV writes records to w with a header row. Invalidated keys are joined
// with spaces.
func WriteCSV(w io.Writer, records []audit.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.Timestamp.UTC().Format(time.RFC3339Nano),
			r.RequestID,
			r.Operation,
			r.TargetID,
			r.Outcome,
			r.Error,
			strconv.FormatInt(r.LatencyMS, 10),
			strings.Join(r.Invalidated, " "),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
