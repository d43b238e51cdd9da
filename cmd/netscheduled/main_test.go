package main

import (
	"os"
	"testing"
)

func TestEnvOrFallsBackToDefault(t *testing.T) {
	if got := envOr("NETSCHEDULE_TEST_UNSET_VAR", "fallback"); got != "fallback" {
		t.Fatalf("envOr = %q, want %q", got, "fallback")
	}
}

func TestEnvOrPrefersSetValue(t *testing.T) {
	os.Setenv("NETSCHEDULE_TEST_SET_VAR", "configured")
	defer os.Unsetenv("NETSCHEDULE_TEST_SET_VAR")

	if got := envOr("NETSCHEDULE_TEST_SET_VAR", "fallback"); got != "configured" {
		t.Fatalf("envOr = %q, want %q", got, "configured")
	}
}

func TestRunCommandRequiresConfigFlag(t *testing.T) {
	c := &runCommand{}
	if code := c.Run(nil); code != 1 {
		t.Fatalf("Run with no -config returned %d, want 1", code)
	}
}

func TestRunCommandRejectsMissingConfigFile(t *testing.T) {
	c := &runCommand{}
	if code := c.Run([]string{"-config=/nonexistent/path.hcl"}); code != 1 {
		t.Fatalf("Run with a nonexistent config path returned %d, want 1", code)
	}
}
