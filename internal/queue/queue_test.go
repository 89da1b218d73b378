package queue

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/hasanrahman00/mailtester-ninja-api-rotation/internal/brokererrors"
)

func TestResult_ErrRoundTripsThroughJSON(t *testing.T) {
	original := ErrResult(brokererrors.ErrQueueTimeout)

	buf, err := json.Marshal(original)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Result
	if err := json.Unmarshal(buf, &decoded); err != nil {
		t.Fatal(err)
	}

	if !errors.Is(decoded.Err(), brokererrors.ErrQueueTimeout) {
		t.Fatalf("expected ErrQueueTimeout to survive a JSON round trip, got %v", decoded.Err())
	}
}

func TestResult_SuccessHasNoErrCode(t *testing.T) {
	r := Result{SubscriptionID: "k1"}
	if r.Err() != nil {
		t.Fatalf("expected no error on a zero-value result, got %v", r.Err())
	}
	buf, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Result
	if err := json.Unmarshal(buf, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Err() != nil {
		t.Fatalf("expected decoded success result to carry no error, got %v", decoded.Err())
	}
}
