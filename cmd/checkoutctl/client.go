package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-checkout-payments/internal/orders"
	"github.com/ariefcatur/go-checkout-payments/internal/sweeper"
	"github.com/go-resty/resty/v2"
)

// adminClient talks to the /admin/orders API of a running checkout-api.
type adminClient struct {
	http *resty.Client
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func newAdminClient(server, token, actor string) *adminClient {
	c := resty.New().
		SetBaseURL(strings.TrimRight(server, "/")+"/admin/orders").
		SetTimeout(30*time.Second).
		SetAuthToken(token).
		SetHeader("X-Admin-Actor", actor).
		SetHeader("Accept", "application/json").
		SetError(&apiError{})
	return &adminClient{http: c}
}

func (c *adminClient) call(ctx context.Context, method, path string, body, out any) error {
	req := c.http.R().SetContext(ctx).SetResult(out)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		if e, ok := resp.Error().(*apiError); ok && e.Error != "" {
			return fmt.Errorf("%s: %s (%d)", e.Error, e.Message, resp.StatusCode())
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status())
	}
	return nil
}

func (c *adminClient) Stats(ctx context.Context) (orders.Stats, error) {
	var st orders.Stats
	return st, c.call(ctx, "GET", "/stats", nil, &st)
}

func (c *adminClient) Sweep(ctx context.Context) (int, error) {
	var out struct {
		Expired int `json:"expired"`
	}
	return out.Expired, c.call(ctx, "POST", "/sweep", nil, &out)
}

func (c *adminClient) PlanPurge(ctx context.Context, req sweeper.PurgeRequest) (sweeper.Plan, error) {
	var plan sweeper.Plan
	return plan, c.call(ctx, "POST", "/purge/plan", req, &plan)
}

func (c *adminClient) ExecutePurge(ctx context.Context, token string) (sweeper.PurgeResult, error) {
	var res sweeper.PurgeResult
	return res, c.call(ctx, "POST", "/purge/execute", map[string]string{"approvalToken": token}, &res)
}
