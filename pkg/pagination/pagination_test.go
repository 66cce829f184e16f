package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromRequest(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  Params
	}{
		{"defaults", "", Params{Offset: 0, Limit: 100}},
		{"offset and limit", "?offset=20&limit=10", Params{Offset: 20, Limit: 10}},
		{"skip alias", "?skip=5", Params{Offset: 5, Limit: 100}},
		{"offset wins over skip", "?offset=3&skip=9", Params{Offset: 3, Limit: 100}},
		{"limit capped", "?limit=500", Params{Offset: 0, Limit: 100}},
		{"negative offset ignored", "?offset=-1", Params{Offset: 0, Limit: 100}},
		{"zero limit ignored", "?limit=0", Params{Offset: 0, Limit: 100}},
		{"garbage ignored", "?offset=abc&limit=xyz", Params{Offset: 0, Limit: 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/accounts"+tt.query, nil)
			assert.Equal(t, tt.want, FromRequest(req))
		})
	}
}

func TestNewPage(t *testing.T) {
	p := NewPage([]string{"a", "b"}, Params{Offset: 10, Limit: 2})
	assert.Equal(t, 2, p.Count)
	assert.Equal(t, 10, p.Offset)
	assert.Equal(t, 2, p.Limit)
}

func TestNewPage_NilItemsBecomeEmpty(t *testing.T) {
	p := NewPage[int](nil, DefaultParams())
	assert.NotNil(t, p.Items)
	assert.Zero(t, p.Count)
}
