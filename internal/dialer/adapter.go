package dialer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/acme/pbx-autodialer/pkg/errors"
)

// Correlation variable names echoed back verbatim in CDR reports.
const (
	VarCampaignID = "auto_campaign_id"
	VarLeadID     = "auto_lead_id"
	VarJobID      = "auto_job_id"
	VarTenantID   = "auto_tenant_id"
)

// OriginationRequest describes one outbound call to place.
type OriginationRequest struct {
	Gateway     string
	Destination string
	// App is the dialplan application executed once the call is
	// answered, e.g. playback(https://...) or ivr(menu-id).
	App            string
	CallerIDName   string
	CallerIDNumber string
	// Variables carries the correlation ids plus any extra channel
	// variables. Known keys are typed at the call sites; the map
	// tolerates backend-specific additions.
	Variables map[string]string
}

// Adapter abstracts the telephony backend. Originate returns the
// accepted call identifier, or an error when the backend rejects or
// times out. The backend reports the call outcome asynchronously.
type Adapter interface {
	Originate(ctx context.Context, req OriginationRequest) (string, error)
}

// Command renders the origination request as a FreeSWITCH bgapi line:
//
//	bgapi originate {k=v,...}sofia/gateway/<gw>/<number> '&<app>'
func (r OriginationRequest) Command() string {
	vars := make(map[string]string, len(r.Variables)+2)
	for k, v := range r.Variables {
		vars[k] = v
	}
	if r.CallerIDName != "" {
		vars["origination_caller_id_name"] = r.CallerIDName
	}
	if r.CallerIDNumber != "" {
		vars["origination_caller_id_number"] = r.CallerIDNumber
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+vars[k])
	}

	return fmt.Sprintf("bgapi originate {%s}sofia/gateway/%s/%s '&%s'",
		strings.Join(pairs, ","), r.Gateway, r.Destination, r.App)
}

// ParseOriginateReply extracts the call UUID from a backend reply. Any
// reply not starting with +OK is a rejection.
func ParseOriginateReply(reply string) (string, error) {
	reply = strings.TrimSpace(reply)
	if !strings.HasPrefix(reply, "+OK") {
		return "", fmt.Errorf("%w: originate rejected: %s", apperrors.ErrAdapterFailure, reply)
	}
	return strings.TrimSpace(strings.TrimPrefix(reply, "+OK")), nil
}
