package types

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aws/smithy-go"
)

func TestNewErrorWrapsCodeMessageAndOrig(t *testing.T) {
	orig := errors.New("boom")
	err := NewError(CodeSchema, "something failed", orig)

	if err.Code() != CodeSchema {
		t.Fatalf("expected code %s, got %s", CodeSchema, err.Code())
	}

	if err.Message() != "something failed" {
		t.Fatalf("expected message, got %s", err.Message())
	}

	if !errors.Is(err.OrigErr(), orig) {
		t.Fatalf("expected orig error")
	}

	if got := err.Error(); !containsAll(got, []string{CodeSchema, "something failed", "boom"}) {
		t.Fatalf("error string missing parts: %s", got)
	}
}

func TestSentinelMatching(t *testing.T) {
	err := fmt.Errorf("insert: %w", Validationf("tuple %d has %d values, expected %d", 1, 1, 2))

	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	if errors.Is(err, ErrSchema) {
		t.Fatalf("validation error must not match schema sentinel")
	}

	if !HasCode(err, CodeValidation) {
		t.Fatalf("expected HasCode to find %s", CodeValidation)
	}
}

func TestBackendErrorStaysReachable(t *testing.T) {
	backend := &smithy.GenericAPIError{Code: "ProvisionedThroughputExceededException", Message: "slow down"}
	err := NewError(CodeThrottled, "retry budget exhausted", backend)

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected smithy.APIError in chain")
	}

	if apiErr.ErrorCode() != "ProvisionedThroughputExceededException" {
		t.Fatalf("unexpected code %s", apiErr.ErrorCode())
	}

	if !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected throttled sentinel to match")
	}
}

func TestParseError(t *testing.T) {
	err := error(&ParseError{Offset: 7, Line: 1, Column: 8, Expected: "FROM", Found: "EOF"})

	if !errors.Is(err, ErrParse) {
		t.Fatalf("expected parse sentinel to match")
	}

	var perr *ParseError
	if !errors.As(err, &perr) || perr.Offset != 7 {
		t.Fatalf("expected offset 7, got %#v", perr)
	}

	if !strings.Contains(err.Error(), "expected FROM") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func containsAll(s string, parts []string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}

	return true
}
