package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
)

func TestSanitizeQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"placeholders kept", "SELECT id FROM account WHERE id = $1", "SELECT id FROM account WHERE id = $1"},
		{"string literal", "UPDATE device_token SET token = 'abc''def' WHERE id = $1", "UPDATE device_token SET token = '?' WHERE id = $1"},
		{"numeric literal", "SELECT * FROM transaction WHERE amount > 12.50", "SELECT * FROM transaction WHERE amount > ?"},
		{"identifier digits", "SELECT col1 FROM t", "SELECT col1 FROM t"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeQuery(tt.query); got != tt.want {
				t.Errorf("sanitizeQuery() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractSQLVerb(t *testing.T) {
	if got := extractSQLVerb("\n\t\tinsert into account"); got != "INSERT" {
		t.Errorf("extractSQLVerb() = %q, want INSERT", got)
	}
	if got := extractSQLVerb("WITH previous AS (SELECT 1) INSERT"); got != "WITH" {
		t.Errorf("extractSQLVerb() = %q, want WITH", got)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	unique := &pq.Error{Code: "23505"}
	if !isUniqueViolation(fmt.Errorf("wrapped: %w", unique)) {
		t.Error("isUniqueViolation() = false for wrapped 23505")
	}
	if isUniqueViolation(&pq.Error{Code: "23503"}) {
		t.Error("isUniqueViolation() = true for a foreign key violation")
	}
	if isUniqueViolation(errors.New("plain")) {
		t.Error("isUniqueViolation() = true for a plain error")
	}
}
