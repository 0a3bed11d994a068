package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain text unchanged",
			input:    "Patient reports mild headache",
			expected: "Patient reports mild headache",
		},
		{
			name:     "control characters stripped",
			input:    "BP 120/80\x00\x07 stable",
			expected: "BP 120/80 stable",
		},
		{
			name:     "newlines and tabs kept",
			input:    "Line one\nLine two\tindented",
			expected: "Line one\nLine two\tindented",
		},
		{
			name:     "runs of spaces collapsed",
			input:    "amoxicillin    500mg",
			expected: "amoxicillin 500mg",
		},
		{
			name:     "surrounding whitespace trimmed",
			input:    "  follow up in two weeks  ",
			expected: "follow up in two weeks",
		},
		{
			name:     "only control characters",
			input:    "\x00\x01\x02",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanText(tt.input))
		})
	}
}
