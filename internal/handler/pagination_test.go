package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDevicePage(t *testing.T) {
	tests := []struct {
		query string
		want  devicePage
	}{
		{"", devicePage{Limit: defaultDevicePage}},
		{"?limit=5&offset=10", devicePage{Limit: 5, Offset: 10}},
		{"?limit=0", devicePage{Limit: defaultDevicePage}},
		{"?limit=1000", devicePage{Limit: defaultDevicePage}},
		{"?limit=abc&offset=-3", devicePage{Limit: defaultDevicePage}},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/users/1/devices"+tt.query, nil)
		assert.Equal(t, tt.want, parseDevicePage(r), tt.query)
	}
}

func TestDevicePage_Bounds(t *testing.T) {
	start, end := devicePage{Limit: 2, Offset: 1}.bounds(3)
	assert.Equal(t, 1, start)
	assert.Equal(t, 3, end)

	start, end = devicePage{Limit: 2, Offset: 10}.bounds(3)
	assert.Equal(t, 3, start)
	assert.Equal(t, 3, end)
}
