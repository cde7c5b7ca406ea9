package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
)

func TestClassifyNATSError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
		record    bool
	}{
		{"nil", nil, false, false},
		{"canceled", context.Canceled, false, false},
		{"no servers", nats.ErrNoServers, true, true},
		{"timeout", nats.ErrTimeout, true, true},
		{"connection closed", nats.ErrConnectionClosed, true, true},
		{"disconnected", nats.ErrDisconnected, true, true},
		{"other", errors.New("bad subject"), false, true},
	}
	for _, tc := range cases {
		got := classifyNATSError(tc.err)
		if got.Retryable != tc.retryable || got.RecordFailure != tc.record {
			t.Fatalf("%s: got retryable=%v record=%v, want retryable=%v record=%v",
				tc.name, got.Retryable, got.RecordFailure, tc.retryable, tc.record)
		}
	}
}
