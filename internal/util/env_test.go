package util

import (
	"reflect"
	"testing"
	"time"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("MEDRAG_TEST_INT", "12")
	t.Setenv("MEDRAG_TEST_BAD_INT", "twelve")
	t.Setenv("MEDRAG_TEST_FLOAT", " 0.25 ")
	t.Setenv("MEDRAG_TEST_BOOL", "true")
	t.Setenv("MEDRAG_TEST_DURATION", "1500ms")
	t.Setenv("MEDRAG_TEST_LIST", "drug, disease,,organ ")

	if got := GetEnvNumeric("MEDRAG_TEST_INT", 1); got != 12 {
		t.Fatalf("GetEnvNumeric = %d", got)
	}
	if got := GetEnvNumeric("MEDRAG_TEST_BAD_INT", 7); got != 7 {
		t.Fatalf("GetEnvNumeric fallback = %d", got)
	}
	if got := GetEnvFloat("MEDRAG_TEST_FLOAT", 1); got != 0.25 {
		t.Fatalf("GetEnvFloat = %v", got)
	}
	if got := GetEnvBool("MEDRAG_TEST_BOOL", false); !got {
		t.Fatal("GetEnvBool = false")
	}
	if got := GetEnvDuration("MEDRAG_TEST_DURATION", time.Second); got != 1500*time.Millisecond {
		t.Fatalf("GetEnvDuration = %v", got)
	}
	want := []string{"drug", "disease", "organ"}
	if got := GetEnvList("MEDRAG_TEST_LIST", nil); !reflect.DeepEqual(got, want) {
		t.Fatalf("GetEnvList = %v, want %v", got, want)
	}
	if got := GetEnvString("MEDRAG_TEST_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("GetEnvString = %q", got)
	}
}

func TestGetEnvOptionalFloat(t *testing.T) {
	if got := GetEnvOptionalFloat("MEDRAG_TEST_THRESHOLD_UNSET"); got != nil {
		t.Fatalf("expected nil, got %v", *got)
	}
	t.Setenv("MEDRAG_TEST_THRESHOLD", "0.2")
	got := GetEnvOptionalFloat("MEDRAG_TEST_THRESHOLD")
	if got == nil || *got != 0.2 {
		t.Fatalf("expected 0.2, got %v", got)
	}
}
