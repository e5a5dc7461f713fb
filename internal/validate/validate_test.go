package validate

import (
	"strings"
	"testing"
)

func TestTextTrimsValue(t *testing.T) {
	got, err := Text("  Groceries  ", "List name", MaxListNameLength)
	if err != nil {
		t.Fatalf("Text() error = %v", err)
	}
	if got != "Groceries" {
		t.Fatalf("expected trimmed value, got %q", got)
	}
}

func TestTextRejectsBlank(t *testing.T) {
	for _, value := range []string{"", "   ", "\t\n"} {
		if _, err := Text(value, "Task name", MaxTaskNameLength); err == nil {
			t.Fatalf("expected error for %q", value)
		} else if err.Error() != "Task name is required" {
			t.Fatalf("unexpected message: %v", err)
		}
	}
}

func TestTextRejectsOversize(t *testing.T) {
	_, err := Text(strings.Repeat("x", 61), "List name", MaxListNameLength)
	if err == nil {
		t.Fatal("expected error for oversize value")
	}
	if err.Error() != "List name cannot exceed 60 characters" {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestTextLengthAppliesAfterTrim(t *testing.T) {
	value := strings.Repeat("x", 60) + "   "
	got, err := Text(value, "List name", MaxListNameLength)
	if err != nil {
		t.Fatalf("Text() error = %v", err)
	}
	if len(got) != 60 {
		t.Fatalf("expected 60 chars after trim, got %d", len(got))
	}
}

func TestEmailNormalizes(t *testing.T) {
	got, err := Email("  Avery@Example.COM ")
	if err != nil {
		t.Fatalf("Email() error = %v", err)
	}
	if got != "avery@example.com" {
		t.Fatalf("expected lowercased email, got %q", got)
	}
}

func TestEmailRejectsMalformed(t *testing.T) {
	for _, value := range []string{"", "avery", "avery@", "avery@example"} {
		if _, err := Email(value); err == nil {
			t.Fatalf("expected error for %q", value)
		}
	}
}
