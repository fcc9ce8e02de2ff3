package main

import (
	"strings"
	"testing"
)

func TestRunWithoutCommandReturnsUsage(t *testing.T) {
	err := run(nil)
	if err == nil {
		t.Fatal("expected usage error for empty args")
	}
	if !strings.Contains(err.Error(), "usage:") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	err := run([]string{"bogus"})
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
	if !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestRunRejectsUnknownFlag(t *testing.T) {
	if err := run([]string{"scan", "--no-such-flag"}); err == nil {
		t.Fatal("expected flag parse error")
	}
}
