package httpserver

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateJobID(t *testing.T) {
	cases := []struct {
		name  string
		id    string
		valid bool
	}{
		{"empty", "", false},
		{"valid alnum", "Job_123-abc", true},
		{"too long", strings.Repeat("a", 101), false},
		{"exact boundary", strings.Repeat("a", 100), true},
		{"invalid chars", "job id!", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := ValidateJobID(c.id)
			assert.Equal(t, c.valid, got.Valid, "errors: %+v", got.Errors)
			if !c.valid {
				assert.NotEmpty(t, got.Errors)
			}
		})
	}
}

func TestValidateStatus(t *testing.T) {
	assert.True(t, ValidateStatus("").Valid, "empty status filter means no filter")
	assert.True(t, ValidateStatus("pending").Valid)
	assert.True(t, ValidateStatus("completed").Valid)
	assert.False(t, ValidateStatus("bogus").Valid)
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "hello", SanitizeString("  hello  "))
	assert.Equal(t, "ab", SanitizeString("a\x00b"))
	assert.Equal(t, strings.Repeat("x", 1000), SanitizeString(strings.Repeat("x", 2000)))
}

func TestSanitizeJobID(t *testing.T) {
	assert.Equal(t, "abc123", SanitizeJobID("abc!123"))
	assert.Equal(t, strings.Repeat("a", 100), SanitizeJobID(strings.Repeat("a", 150)))
}
