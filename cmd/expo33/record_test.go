package main

import (
	"testing"
	"time"

	"github.com/Ahmmada/Expo33/internal/schema"
)

func TestParseDate(t *testing.T) {
	got, err := parseDate("2026-03-02")
	if err != nil {
		t.Fatalf("plain date failed: %v", err)
	}
	if got != "2026-03-02" {
		t.Errorf("expected 2026-03-02, got %s", got)
	}

	got, err = parseDate("today")
	if err != nil {
		t.Fatalf("natural date failed: %v", err)
	}
	if got != time.Now().Format(schema.DateLayout) {
		t.Errorf("expected today's date, got %s", got)
	}

	got, err = parseDate("yesterday")
	if err != nil {
		t.Fatalf("natural date failed: %v", err)
	}
	if got != time.Now().AddDate(0, 0, -1).Format(schema.DateLayout) {
		t.Errorf("expected yesterday's date, got %s", got)
	}

	if _, err := parseDate("definitely not a date"); err == nil {
		t.Error("expected error for unparseable input")
	}
}
