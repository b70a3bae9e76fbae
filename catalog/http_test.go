package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const vaeDecodeInfo = `{"VAEDecode": {"input": {"required": {"samples": ["LATENT"], "vae": ["VAE"]}}, "output": ["IMAGE"]}}`

func TestHTTPCatalog_GetAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/object_info", r.URL.Path)
		_, _ = w.Write([]byte(vaeDecodeInfo))
	}))
	defer srv.Close()

	cat := NewHTTPCatalog(srv.URL+"/", time.Second, zap.NewNop())
	specs, err := cat.GetAll(context.Background())
	require.NoError(t, err)
	assert.Contains(t, specs, "VAEDecode")
}

func TestHTTPCatalog_GetOne(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/object_info/VAEDecode":
			_, _ = w.Write([]byte(vaeDecodeInfo))
		case "/api/object_info/Empty":
			_, _ = w.Write([]byte(`{}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cat := NewHTTPCatalog(srv.URL, 0, nil)
	ctx := context.Background()

	spec, err := cat.GetOne(ctx, "VAEDecode")
	require.NoError(t, err)
	assert.Equal(t, []TypeConstraint{{"IMAGE"}}, spec.Outputs)

	_, err = cat.GetOne(ctx, "Unknown")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = cat.GetOne(ctx, "Empty")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHTTPCatalog_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/object_info" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	cat := NewHTTPCatalog(srv.URL, time.Second, nil)
	ctx := context.Background()

	_, err := cat.GetAll(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = cat.GetOne(ctx, "VAEDecode")
	assert.ErrorIs(t, err, ErrUnavailable)

	down := NewHTTPCatalog("http://127.0.0.1:1", 200*time.Millisecond, nil)
	_, err = down.GetAll(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)
}
