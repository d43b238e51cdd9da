package main

import (
	"strings"
	"testing"
)

func TestParseKVSplitsOnFirstEquals(t *testing.T) {
	got := parseKV([]string{"input=hello", "aff=gpu=fast", "noeq"})
	if got["input"] != "hello" {
		t.Fatalf("input = %q, want %q", got["input"], "hello")
	}
	if got["aff"] != "gpu=fast" {
		t.Fatalf("aff = %q, want %q", got["aff"], "gpu=fast")
	}
	if _, ok := got["noeq"]; ok {
		t.Fatalf("an argument without '=' should be dropped, not stored")
	}
}

func TestBuildLineOmitsEmptyValues(t *testing.T) {
	line := buildLine("SUBMIT", map[string]string{"input": "x", "aff": ""})
	if !strings.HasPrefix(line, "SUBMIT") {
		t.Fatalf("buildLine = %q, want it to start with the verb", line)
	}
	if !strings.Contains(line, "input=x") {
		t.Fatalf("buildLine = %q, want it to contain input=x", line)
	}
	if strings.Contains(line, "aff=") {
		t.Fatalf("buildLine = %q, an empty-valued field should be omitted entirely", line)
	}
}

func TestBuildLineWithNoArgsIsJustTheVerb(t *testing.T) {
	line := buildLine("STAT", map[string]string{})
	if line != "STAT" {
		t.Fatalf("buildLine = %q, want %q", line, "STAT")
	}
}
