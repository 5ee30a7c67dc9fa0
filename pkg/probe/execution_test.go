package probe

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextMap_String(t *testing.T) {
	tests := []struct {
		name string
		m    ContextMap
		want string
	}{
		{name: "empty", want: "{}"},
		{name: "sorted", m: ContextMap{"b": 2, "a": "x"}, want: "{a=x, b=2}"},
		{name: "nested", m: ContextMap{"db": ContextMap{"rows": 3}}, want: "{db={rows=3}}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.m.String())
		})
	}
}

func TestNewHTTPRequest(t *testing.T) {
	r := httptest.NewRequest("POST", "/orders?id=7", nil)
	r.SetBasicAuth("bob", "secret")

	h := NewHTTPRequest(r)
	assert.Equal(t, "POST /orders?id=7", h.Description())
	assert.Equal(t, "http request", h.MetricKey())
	assert.Equal(t, "bob", h.Username())

	var exec Execution = h
	_, isRoot := exec.(Root)
	assert.True(t, isRoot)
}
