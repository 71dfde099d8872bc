package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoOrderHandler возвращает тело запроса внутри JSON-ответа.
func echoOrderHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"success":true,"echo":` + string(body) + `}`))
}

func gzipBytes(t *testing.T, s string) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return &buf
}

func readBody(t *testing.T, res *http.Response) string {
	t.Helper()

	var r io.Reader = res.Body
	if res.Header.Get("Content-Encoding") == "gzip" {
		gr, err := gzip.NewReader(res.Body)
		require.NoError(t, err)
		defer gr.Close()
		r = gr
	}
	body, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(body)
}

func TestGzipMiddleware(t *testing.T) {
	const order = `{"orderId":"ORD-1"}`

	tests := []struct {
		name           string
		compressBody   bool
		acceptEncoding string
		wantEncoding   string
	}{
		{name: "compressed response", acceptEncoding: "gzip", wantEncoding: "gzip"},
		{name: "plain response", acceptEncoding: "", wantEncoding: ""},
		{name: "compressed request and response", compressBody: true, acceptEncoding: "gzip, deflate", wantEncoding: "gzip"},
		{name: "compressed request only", compressBody: true, acceptEncoding: "", wantEncoding: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader = strings.NewReader(order)
			if tt.compressBody {
				body = gzipBytes(t, order)
			}

			req := httptest.NewRequest(http.MethodPost, "/api/create-order", body)
			req.Header.Set("Accept-Encoding", tt.acceptEncoding)
			if tt.compressBody {
				req.Header.Set("Content-Encoding", "gzip")
			}
			w := httptest.NewRecorder()

			GzipMiddleware(http.HandlerFunc(echoOrderHandler)).ServeHTTP(w, req)

			res := w.Result()
			defer res.Body.Close()

			assert.Equal(t, http.StatusOK, res.StatusCode)
			assert.Equal(t, "application/json", res.Header.Get("Content-Type"))
			assert.Equal(t, tt.wantEncoding, res.Header.Get("Content-Encoding"))
			assert.JSONEq(t, `{"success":true,"echo":`+order+`}`, readBody(t, res))
		})
	}
}

func TestGzipMiddlewareSkipsEmptyResponses(t *testing.T) {
	h := GzipMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Zero(t, w.Body.Len())
}

func TestGzipMiddlewareRejectsBrokenBody(t *testing.T) {
	called := false
	h := GzipMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/receipt", strings.NewReader("not gzip"))
	req.Header.Set("Content-Encoding", "gzip")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, called)
}

func TestGzipMiddlewareCompressesErrors(t *testing.T) {
	h := GzipMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeUnauthorized(w)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "gzip", res.Header.Get("Content-Encoding"))
	assert.Contains(t, readBody(t, res), `"unauthorized"`)
}
