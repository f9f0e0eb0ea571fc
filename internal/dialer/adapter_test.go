package dialer

import (
	"errors"
	"strings"
	"testing"

	apperrors "github.com/acme/pbx-autodialer/pkg/errors"
)

func TestCommandRendering(t *testing.T) {
	req := OriginationRequest{
		Gateway:        "carrier1",
		Destination:    "0900000001",
		App:            "playback(https://cdn.example.com/promo.wav)",
		CallerIDNumber: "1000",
		Variables: map[string]string{
			VarCampaignID: "c-1",
			VarJobID:      "j-1",
		},
	}

	cmd := req.Command()
	if !strings.HasPrefix(cmd, "bgapi originate {") {
		t.Fatalf("unexpected command prefix: %s", cmd)
	}
	if !strings.Contains(cmd, "auto_campaign_id=c-1") {
		t.Fatalf("missing correlation variable: %s", cmd)
	}
	if !strings.Contains(cmd, "origination_caller_id_number=1000") {
		t.Fatalf("missing caller id override: %s", cmd)
	}
	if !strings.HasSuffix(cmd, "sofia/gateway/carrier1/0900000001 '&playback(https://cdn.example.com/promo.wav)'") {
		t.Fatalf("unexpected endpoint/app suffix: %s", cmd)
	}
}

func TestParseOriginateReply(t *testing.T) {
	uuid, err := ParseOriginateReply("+OK 3f2504e0-4f89-11d3-9a0c-0305e82c3301\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uuid != "3f2504e0-4f89-11d3-9a0c-0305e82c3301" {
		t.Fatalf("unexpected uuid: %q", uuid)
	}

	if _, err := ParseOriginateReply("-ERR GATEWAY_DOWN"); !errors.Is(err, apperrors.ErrAdapterFailure) {
		t.Fatalf("expected adapter failure, got %v", err)
	}
}
