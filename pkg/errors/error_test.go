package errors

import (
	stderrors "errors"
	"net/http"
	"testing"
)

func TestWrapKeepsCauseAndCode(t *testing.T) {
	t.Parallel()
	cause := stderrors.New("connection refused")
	err := Wrapf(cause, CacheError, "pop task failed")

	if err.Error() != "pop task failed: connection refused" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
	if !stderrors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	if GetCode(err) != CacheError {
		t.Fatalf("expected CacheError, got %d", GetCode(err))
	}
	if Wrap(nil, CacheError) != nil {
		t.Fatalf("expected nil when wrapping nil")
	}
}

func TestIsWalksCodedChain(t *testing.T) {
	t.Parallel()
	inner := New(RecordNotFound)
	outer := Wrap(inner, JudgeQueueError)

	if !Is(outer, RecordNotFound) || !Is(outer, JudgeQueueError) {
		t.Fatalf("expected both codes in chain")
	}
	if Is(outer, Unauthorized) {
		t.Fatalf("unexpected code match")
	}
	if GetCode(stderrors.New("plain")) != InternalServerError {
		t.Fatalf("expected foreign errors to map to internal")
	}
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code ErrorCode
		want int
	}{
		{Success, http.StatusOK},
		{Unauthorized, http.StatusUnauthorized},
		{TooManyRequests, http.StatusTooManyRequests},
		{RecordNotFound, http.StatusNotFound},
		{JudgeQueueError, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		if got := tt.code.HTTPStatus(); got != tt.want {
			t.Fatalf("code %d: expected %d, got %d", tt.code, tt.want, got)
		}
	}
}
