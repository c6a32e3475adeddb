// internal/command/request_test.go
package command

import (
	"testing"
	"time"

	"github.com/juju/errors"
)

func TestParseSetRequest(t *testing.T) {
	p, err := LoadProfile(ProfileTSS2025)
	if err != nil {
		t.Fatal(err)
	}

	req, err := ParseSetRequest([]byte(`{"command":48,"value":1,"timeout_ms":500,"request_id":"r1"}`), p.Table)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if req.ID != 48 || req.Value != 1 || req.Timeout != 500*time.Millisecond || req.RequestID != "r1" {
		t.Fatalf("req = %+v", req)
	}

	req, err = ParseSetRequest([]byte(`{"command":"uia_o2_vent","value":0}`), p.Table)
	if err != nil || req.ID != 56 || req.Timeout != 0 {
		t.Fatalf("by name: %+v %v", req, err)
	}

	if _, err := ParseSetRequest([]byte(`{"command":"nope","value":1}`), p.Table); !errors.IsNotFound(err) {
		t.Fatalf("unknown name: %v", err)
	}

	bad := []string{
		`{"value":1}`,
		`{"command":48}`,
		`{"command":-1,"value":1}`,
		`{"command":48,"value":1e300}`,
		`{"command":48,"value":1,"timeout_ms":-5}`,
		`{"command":48,"value":1,"extra":true}`,
		`not json`,
	}
	for _, b := range bad {
		if _, err := ParseSetRequest([]byte(b), p.Table); !errors.IsNotValid(err) {
			t.Errorf("%s: expected not valid, got %v", b, err)
		}
	}
}
