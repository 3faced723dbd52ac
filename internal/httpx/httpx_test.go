package httpx

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andreasstove999/order-fulfillment/internal/logging"
)

type lineRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
}

type sampleRequest struct {
	UserID string        `json:"userId" validate:"required"`
	Items  []lineRequest `json:"items" validate:"min=1,dive"`
}

func TestDecode(t *testing.T) {
	tests := map[string]struct {
		body       string
		wantFields []string
	}{
		"valid":        {body: `{"userId":"u1","items":[{"productId":"p1","quantity":2}]}`},
		"malformed":    {body: `{"userId":`, wantFields: []string{"body"}},
		"missing user": {body: `{"items":[{"productId":"p1","quantity":1}]}`, wantFields: []string{"userId"}},
		"no items":     {body: `{"userId":"u1","items":[]}`, wantFields: []string{"items"}},
		"bad line":     {body: `{"userId":"u1","items":[{"productId":"","quantity":0}]}`, wantFields: []string{"items[0].productId", "items[0].quantity"}},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			var dst sampleRequest
			err := Decode(req, &dst)

			if len(tc.wantFields) == 0 {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			for _, f := range tc.wantFields {
				assert.Contains(t, verr.Fields, f)
			}
		})
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusNotFound, "order not found")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"order not found"}`, rec.Body.String())
}

func TestCorrelationID_GeneratesAndPropagates(t *testing.T) {
	var seen string
	h := CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.CorrelationID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(HeaderCorrelationID))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderCorrelationID, "given")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "given", seen)
}

func TestRecover_WritesJSON500(t *testing.T) {
	h := Recover(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}
