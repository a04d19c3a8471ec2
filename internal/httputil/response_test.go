package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	NotFound(rec, "run x not found")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "run x not found", resp["error"])
}

func TestInternalServerError_HidesCause(t *testing.T) {
	rec := httptest.NewRecorder()
	InternalServerError(rec, assert.AnError)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
}

func TestQueryInt(t *testing.T) {
	tests := []struct {
		query   string
		want    int
		wantErr bool
	}{
		{"", 50, false},
		{"?limit=7", 7, false},
		{"?limit=0", 0, false},
		{"?limit=-1", 0, true},
		{"?limit=abc", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/x"+tt.query, nil)
			got, err := QueryInt(r, "limit", 50)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPathUint(t *testing.T) {
	mux := http.NewServeMux()
	var got uint64
	var gotErr error
	mux.HandleFunc("/stations/{id}", func(w http.ResponseWriter, r *http.Request) {
		got, gotErr = PathUint(r, "id", 32)
	})

	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/stations/501", nil))
	require.NoError(t, gotErr)
	assert.Equal(t, uint64(501), got)

	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/stations/5000000000", nil))
	assert.ErrorContains(t, gotErr, "invalid id")
}
