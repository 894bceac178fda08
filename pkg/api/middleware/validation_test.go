package middleware_test

import (
	"strings"
	"testing"

	. "camcoord/pkg/api/middleware"
)

func TestValidator_ValidateResourceID_AcceptsFleetIdentifiers(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	tests := []string{
		"cam-42",
		"cam_front-door.2",
		"recorder:shard-1",
		"PIPELINE-7",
	}

	for _, id := range tests {
		if err := v.ValidateResourceID(id); err != nil {
			t.Errorf("expected resource id '%s' to be valid, got error: %v", id, err)
		}
	}
}

func TestValidator_ValidateResourceID_RejectsBadInput(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	tests := []string{
		"",
		"cam 42",
		"../etc/passwd",
		"-leading-dash",
		strings.Repeat("x", 300),
	}

	for _, id := range tests {
		if err := v.ValidateResourceID(id); err == nil {
			t.Errorf("expected resource id '%s' to be rejected", id)
		}
	}
}

func TestValidator_ValidateHolderID(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	if err := v.ValidateHolderID("recorder-node-1"); err != nil {
		t.Errorf("expected holder id to be valid, got error: %v", err)
	}
	if err := v.ValidateHolderID(""); err == nil {
		t.Error("expected empty holder id to be rejected")
	}
	if err := v.ValidateHolderID(strings.Repeat("h", 300)); err == nil {
		t.Error("expected too long holder id to be rejected")
	}
}

func TestFieldError_Error(t *testing.T) {
	err := &FieldError{
		Field:   "resource_id",
		Message: "is required",
	}

	expected := "resource_id: is required"
	if err.Error() != expected {
		t.Errorf("expected '%s', got '%s'", expected, err.Error())
	}
}
