package shopload

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mockservice "github.com/skudasov/shopload/mock_service"
)

func TestSessionGetRequestShape(t *testing.T) {
	shop := mockservice.New(false)
	srv := httptest.NewServer(shop)
	defer srv.Close()

	s, err := NewHTTPSession(srv.URL+"/", false, 2)
	require.NoError(t, err)
	res := s.Get(context.Background(), "fruit", mockservice.ProductsPath)

	require.NoError(t, res.Error)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "fruit", res.RequestLabel)
	assert.Greater(t, res.BytesIn, int64(0))
	assert.False(t, res.Failed())

	reqs := shop.Requests()
	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, mockservice.ProductsPath, req.Path)
	assert.Empty(t, req.RawQuery)
	assert.Empty(t, req.Body)
	assert.Equal(t, int64(0), req.ContentLength)
	for k := range req.Header {
		assert.Contains(t, []string{"User-Agent", "Accept-Encoding"}, k)
	}
}

func TestSessionURL(t *testing.T) {
	s, err := NewHTTPSession("http://127.0.0.1:8081/", false, 1)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8081/shop/products/", s.URL("/shop/products/"))
	assert.Equal(t, "http://127.0.0.1:8081/shop/products/", s.URL("shop/products/"))
}

func TestSessionBadTarget(t *testing.T) {
	for _, target := range []string{"", "127.0.0.1:8081", "://nope", "http://"} {
		_, err := NewHTTPSession(target, false, 1)
		assert.Error(t, err, target)
	}
}

func TestSessionStatusIsNotInspected(t *testing.T) {
	shop := mockservice.New(false)
	shop.FailWith(http.StatusInternalServerError)
	srv := httptest.NewServer(shop)
	defer srv.Close()

	s, err := NewHTTPSession(srv.URL, false, 2)
	require.NoError(t, err)
	res := s.Get(context.Background(), "fruit", mockservice.ProductsPath)

	assert.NoError(t, res.Error)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.True(t, res.Failed())
}

func TestSessionConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(mockservice.New(false))
	target := srv.URL
	srv.Close()

	s, err := NewHTTPSession(target, false, 1)
	require.NoError(t, err)
	res := s.Get(context.Background(), "fruit", mockservice.ProductsPath)

	assert.Error(t, res.Error)
	assert.Equal(t, 0, res.StatusCode)
	assert.True(t, res.Failed())
}

func TestSessionCookiesArePerSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("cart"); err != nil {
			http.SetCookie(w, &http.Cookie{Name: "cart", Value: "1", Path: "/"})
			w.WriteHeader(http.StatusCreated)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a, err := NewHTTPSession(srv.URL, false, 1)
	require.NoError(t, err)
	b, err := NewHTTPSession(srv.URL, false, 1)
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, a.Get(context.Background(), "c", "/").StatusCode)
	assert.Equal(t, http.StatusOK, a.Get(context.Background(), "c", "/").StatusCode)
	assert.Equal(t, http.StatusCreated, b.Get(context.Background(), "c", "/").StatusCode)
}

func TestSessionWithoutCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("cart"); err != nil {
			http.SetCookie(w, &http.Cookie{Name: "cart", Value: "1", Path: "/"})
			w.WriteHeader(http.StatusCreated)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, err := NewHTTPSession(srv.URL, false, 1)
	require.NoError(t, err)
	shared := s.WithoutCookies()

	assert.Nil(t, shared.Client.Jar)
	assert.NotNil(t, s.Client.Jar)
	assert.Equal(t, s.Client.Transport, shared.Client.Transport)
	assert.Equal(t, http.StatusCreated, shared.Get(context.Background(), "c", "/").StatusCode)
	assert.Equal(t, http.StatusCreated, shared.Get(context.Background(), "c", "/").StatusCode)
	assert.Equal(t, http.StatusCreated, s.Get(context.Background(), "c", "/").StatusCode)
	assert.Equal(t, http.StatusOK, s.Get(context.Background(), "c", "/").StatusCode)
}

func TestDumpTransport(t *testing.T) {
	srv := httptest.NewServer(mockservice.New(false))
	defer srv.Close()

	var out bytes.Buffer
	client := &http.Client{Transport: &DumpTransport{r: http.DefaultTransport, w: &out}}
	resp, err := client.Get(srv.URL + mockservice.ProductsPath)
	require.NoError(t, err)
	resp.Body.Close()

	dump := out.String()
	assert.Contains(t, dump, "========== REQUEST ==========")
	assert.Contains(t, dump, "GET "+mockservice.ProductsPath)
	assert.Contains(t, dump, "========== RESPONSE ==========")
	assert.True(t, strings.Contains(dump, `"name": "apple"`), "json body is indented")
}

func TestNewSessionNeedsGeneratorConfig(t *testing.T) {
	r, err := NewRunner("fruit", nil, newAttackMock(0), nil, closedConfig("fruit", 1, 1))
	require.NoError(t, err)
	_, err = r.NewSession()
	assert.Error(t, err)

	lm, err := NewLoadManager(&SuiteConfig{HttpTimeout: 3}, &GeneratorConfig{})
	require.NoError(t, err)
	lm.GeneratorConfig.Generator.Target = "http://127.0.0.1:8081"
	r.Manager = lm
	s, err := r.NewSession()
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8081", s.Base)
}
