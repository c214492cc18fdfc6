package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/botledger/internal/domain"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrUnauthorized, http.StatusForbidden},
		{domain.ErrSystemPaused, http.StatusServiceUnavailable},
		{domain.ErrAlreadyExists, http.StatusConflict},
		{domain.ErrVersionConflict, http.StatusConflict},
		{domain.ErrHasActiveTrades, http.StatusConflict},
		{domain.ErrPositionStillOpen, http.StatusConflict},
		{domain.ErrCannotReduceBelowActive, http.StatusConflict},
		{domain.ErrMaxTradesReached, http.StatusConflict},
		{domain.ErrPositionTooLarge, http.StatusUnprocessableEntity},
		{domain.ErrInvalidPrice, http.StatusUnprocessableEntity},
		{domain.ErrMathOverflow, http.StatusUnprocessableEntity},
		{fmt.Errorf("svc: op: %w", domain.ErrInsufficientFunds), http.StatusUnprocessableEntity},
		{errors.New("db exploded"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			assert.Equal(t, tc.want, StatusFor(tc.err))
		})
	}
}

func TestParseListOpts(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x?limit=9000&offset=-3", nil)
	opts := parseListOpts(r)
	assert.Equal(t, 500, opts.Limit)
	assert.Equal(t, 0, opts.Offset)

	r = httptest.NewRequest(http.MethodGet, "/x?limit=abc&offset=7", nil)
	opts = parseListOpts(r)
	assert.Equal(t, 50, opts.Limit)
	assert.Equal(t, 7, opts.Offset)
}
