package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/graphrepair/internal/tlsutil"
)

// DefaultTimeout bounds every object_info request.
const DefaultTimeout = 30 * time.Second

// HTTPCatalog queries the execution backend's object_info endpoints.
type HTTPCatalog struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPCatalog creates a client for baseURL (for example http://127.0.0.1:8188).
func NewHTTPCatalog(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPCatalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPCatalog{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  tlsutil.SecureHTTPClient(timeout),
		logger:  logger.With(zap.String("component", "catalog_http")),
	}
}

// GetAll implements TypeCatalog.
func (c *HTTPCatalog) GetAll(ctx context.Context) (map[string]*NodeTypeSpec, error) {
	data, status, err := c.get(ctx, "/api/object_info")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: object_info returned status %d", ErrUnavailable, status)
	}
	specs, err := ParseObjectInfo(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	c.logger.Debug("fetched node catalog", zap.Int("node_types", len(specs)))
	return specs, nil
}

// GetOne implements TypeCatalog. Only the requested type is transferred.
func (c *HTTPCatalog) GetOne(ctx context.Context, name string) (*NodeTypeSpec, error) {
	data, status, err := c.get(ctx, "/api/object_info/"+url.PathEscape(name))
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: object_info/%s returned status %d", ErrUnavailable, name, status)
	}
	specs, err := ParseObjectInfo(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	spec, ok := specs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return spec, nil
}

func (c *HTTPCatalog) get(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build catalog request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	return data, resp.StatusCode, nil
}
