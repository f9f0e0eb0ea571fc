package cdr

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Report is a normalized call detail report as delivered by the
// telephony backend, typically via the CDR Kafka topic. All fields are
// optional at this layer; Ingest decides what is mandatory.
type Report struct {
	CallUUID    string
	TenantID    *uuid.UUID
	CampaignID  *uuid.UUID
	LeadID      *uuid.UUID
	JobID       *uuid.UUID
	Direction   string
	FromNumber  string
	ToNumber    string
	Duration    int
	BillSeconds int
	HangupCause string
	StartedAt   *time.Time
	AnsweredAt  *time.Time
	EndedAt     *time.Time
	// Variables keeps every raw key so nothing the backend sent is
	// lost, correlation ids included.
	Variables map[string]string
}

// timestampLayouts are tried in order for non-epoch timestamp values.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// ParseReport builds a Report from the raw key/value payload of a CDR
// event. Field naming follows the FreeSWITCH channel variable
// conventions. Malformed optional values degrade to their zero value
// rather than failing the whole report.
func ParseReport(raw map[string]string) Report {
	r := Report{
		CallUUID:    firstValue(raw, "call_uuid", "uuid", "channel_uuid"),
		Direction:   firstValue(raw, "direction", "call_direction"),
		FromNumber:  firstValue(raw, "caller_id_number", "from_number", "from"),
		ToNumber:    firstValue(raw, "destination_number", "to_number", "to"),
		HangupCause: strings.ToUpper(firstValue(raw, "hangup_cause")),
		Variables:   raw,
	}

	r.TenantID = parseUUID(firstValue(raw, "auto_tenant_id", "tenant_id"))
	r.CampaignID = parseUUID(firstValue(raw, "auto_campaign_id", "campaign_id"))
	r.LeadID = parseUUID(firstValue(raw, "auto_lead_id", "lead_id"))
	r.JobID = parseUUID(firstValue(raw, "auto_job_id", "job_id"))

	r.BillSeconds = parseSeconds(firstValue(raw, "billsec", "bill_seconds"))
	r.Duration = parseSeconds(firstValue(raw, "duration", "duration_seconds"))
	if r.Duration == 0 {
		r.Duration = r.BillSeconds
	}

	r.StartedAt = parseTimestamp(firstValue(raw, "start_epoch", "started_at", "start_stamp"))
	r.AnsweredAt = parseTimestamp(firstValue(raw, "answer_epoch", "answered_at", "answer_stamp"))
	r.EndedAt = parseTimestamp(firstValue(raw, "end_epoch", "ended_at", "end_stamp"))

	return r
}

// ParseReportJSON decodes a JSON CDR event and parses it. Numeric and
// boolean values are stringified; nested structures are skipped.
func ParseReportJSON(value []byte) (Report, error) {
	var payload map[string]any
	if err := json.Unmarshal(value, &payload); err != nil {
		return Report{}, err
	}

	raw := make(map[string]string, len(payload))
	for k, v := range payload {
		switch t := v.(type) {
		case string:
			raw[k] = t
		case float64:
			if t == float64(int64(t)) {
				raw[k] = strconv.FormatInt(int64(t), 10)
			} else {
				raw[k] = strconv.FormatFloat(t, 'f', -1, 64)
			}
		case bool:
			raw[k] = strconv.FormatBool(t)
		}
	}
	return ParseReport(raw), nil
}

func firstValue(raw map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(raw[k]); v != "" {
			return v
		}
	}
	return ""
}

func parseUUID(v string) *uuid.UUID {
	if v == "" {
		return nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil
	}
	return &id
}

func parseSeconds(v string) int {
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// parseTimestamp accepts epoch seconds, epoch milliseconds, or one of
// timestampLayouts. Anything else is treated as absent.
func parseTimestamp(v string) *time.Time {
	if v == "" {
		return nil
	}

	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		if n <= 0 {
			return nil
		}
		var ts time.Time
		// Epoch millis overflow the plausible range for seconds.
		if n > 1e12 {
			ts = time.UnixMilli(n).UTC()
		} else {
			ts = time.Unix(n, 0).UTC()
		}
		return &ts
	}

	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, v); err == nil {
			ts = ts.UTC()
			return &ts
		}
	}
	return nil
}
