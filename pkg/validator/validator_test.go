package validator

import (
	"strings"
	"testing"
)

type sampleRequest struct {
	Email string `validate:"required,email"`
}

func TestValidateStructPasses(t *testing.T) {
	if err := ValidateStruct(sampleRequest{Email: "user@example.org"}); err != nil {
		t.Fatalf("expected validation to pass, got %v", err)
	}
}

func TestValidateStructCollectsFailures(t *testing.T) {
	err := ValidateStruct(sampleRequest{Email: "not-an-address"})
	if err == nil {
		t.Fatal("expected validation failure")
	}

	ve, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(ve) != 1 || ve[0].Tag != "email" {
		t.Fatalf("expected a single email failure, got %v", ve)
	}
	if !strings.Contains(ve.Error(), "email") {
		t.Fatalf("unexpected error string: %s", ve.Error())
	}
}

func TestValidateStructRequired(t *testing.T) {
	err := ValidateStruct(sampleRequest{})
	if err == nil {
		t.Fatal("expected required failure")
	}

	ve, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if ve[0].Tag != "required" {
		t.Fatalf("expected required tag, got %s", ve[0].Tag)
	}
}
