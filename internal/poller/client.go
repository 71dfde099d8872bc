// Package poller предоставляет клиент и цикл внешнего планировщика,
// который периодически вызывает продвижение статусов заказов.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/bagstore/internal/model"
)

const advancePath = "/api/update-order-status"

// Client инкапсулирует HTTP-взаимодействие с сервисом заказов.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type advanceResponse struct {
	Success bool                `json:"success"`
	Updated model.AdvanceResult `json:"updated"`
}

// NewClient создаёт HTTP-клиент сервиса заказов. token передаётся в заголовке Authorization.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Advance вызывает продвижение статусов. Сервис отвечает 429, пока выполняется предыдущий
// проход; в этом случае возвращаются код и пауза из Retry-After.
func (c *Client) Advance(ctx context.Context) (*model.AdvanceResult, int, time.Duration, error) {
	if c == nil || c.baseURL == "" {
		return nil, 0, 0, fmt.Errorf("storefront client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+advancePath, nil)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return nil, resp.StatusCode, retryAfter, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result advanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, 0, fmt.Errorf("decode response: %w", err)
	}
	if !result.Success {
		return nil, resp.StatusCode, 0, fmt.Errorf("advance reported failure")
	}

	return &result.Updated, resp.StatusCode, 0, nil
}
