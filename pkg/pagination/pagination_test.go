package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	params, err := Parse("", "")

	require.NoError(t, err)
	assert.Equal(t, DefaultPage, params.Page)
	assert.Equal(t, DefaultLimit, params.Limit)
	assert.Equal(t, 0, params.Offset)
}

func TestParse_OffsetFromPage(t *testing.T) {
	params, err := Parse("3", "25")

	require.NoError(t, err)
	assert.Equal(t, 3, params.Page)
	assert.Equal(t, 25, params.Limit)
	assert.Equal(t, 50, params.Offset)
}

func TestParse_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		page  string
		limit string
	}{
		{"non-numeric page", "abc", ""},
		{"zero page", "0", ""},
		{"negative page", "-1", ""},
		{"non-numeric limit", "", "lots"},
		{"zero limit", "", "0"},
		{"limit above maximum", "", "101"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.page, tt.limit)
			assert.Error(t, err)
		})
	}
}

func TestNewResponse(t *testing.T) {
	params := &Params{Page: 2, Limit: 10, Offset: 10}
	data := []string{"a", "b"}

	resp := NewResponse(params, len(data), data)

	assert.Equal(t, 2, resp.Page)
	assert.Equal(t, 10, resp.Limit)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, data, resp.Data)
}
