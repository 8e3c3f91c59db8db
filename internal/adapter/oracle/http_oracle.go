package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/rl1809/baller-exchange/internal/core/domain"
)

const maxResponseBytes = 1 << 20

// HTTPOracle asks a remote generator service for item attributes. The
// service answers POST {endpoint} {"id": "..."} with {"attributes": {...}}.
type HTTPOracle struct {
	endpoint string
	client   *http.Client
}

func NewHTTPOracle(endpoint string, timeout time.Duration) *HTTPOracle {
	return &HTTPOracle{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (o *HTTPOracle) Generate(ctx context.Context, itemID string) (domain.Attributes, error) {
	payload, err := json.Marshal(map[string]string{"id": itemID})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build oracle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call oracle: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read oracle response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oracle returned %d: %s", resp.StatusCode, gjson.GetBytes(body, "error").String())
	}

	raw := gjson.GetBytes(body, "attributes")
	if !raw.IsObject() {
		return nil, fmt.Errorf("oracle response has no attributes object")
	}

	var attrs domain.Attributes
	if err := json.Unmarshal([]byte(raw.Raw), &attrs); err != nil {
		return nil, fmt.Errorf("decode oracle attributes: %w", err)
	}
	return attrs, nil
}
