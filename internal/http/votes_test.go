package httpserver

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clark-Hu/votetally/internal/config"
	"github.com/Clark-Hu/votetally/internal/domain"
)

func TestVerifyBearer(t *testing.T) {
	s := &Server{cfg: config.Config{AuthToken: "secret"}}

	tests := []struct {
		header string
		want   bool
	}{
		{"Bearer secret", true},
		{"Bearer  secret ", true},
		{"bearer secret", false},
		{"Bearer other", false},
		{"Bearer ", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.verifyBearer(tt.header), "header %q", tt.header)
	}

	empty := &Server{cfg: config.Config{}}
	assert.False(t, empty.verifyBearer("Bearer "), "empty configured token never matches")
}

func TestDecodeVoteRequest(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int
		wantErr error
	}{
		{"score", `{"score":3}`, 3, nil},
		{"out of range is passed through", `{"score":9}`, 9, nil},
		{"missing", `{}`, 0, domain.ErrValidation},
		{"null", `{"score":null}`, 0, domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(tt.body))
			got, err := decodeVoteRequest(httptest.NewRecorder(), req)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeJSONBody_RejectsTrailingObject(t *testing.T) {
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"score":1}{"score":2}`))
	var dst voteRequest
	assert.ErrorIs(t, decodeJSONBody(httptest.NewRecorder(), req, &dst), errTrailingData)
}
