package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/superparser/gateway-control/internal/metrics"
)

const (
	adminKeyHeader  = "X-API-KEY"
	maxErrorBodyLen = 512
	keyedByConsumer = "consumer_name"
)

type APISIXConfig struct {
	BaseURL  string
	AdminKey string
	Timeout  time.Duration
}

// APISIXClient implements AdminClient against the Apache APISIX admin API.
type APISIXClient struct {
	baseURL  string
	adminKey string
	client   *http.Client
}

func NewAPISIXClient(cfg APISIXConfig) *APISIXClient {
	return &APISIXClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		adminKey: cfg.AdminKey,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type apisixConsumer struct {
	Username string                `json:"username"`
	Desc     string                `json:"desc,omitempty"`
	Plugins  apisixConsumerPlugins `json:"plugins"`
}

type apisixConsumerPlugins struct {
	KeyAuth    *keyAuthPlugin    `json:"key-auth,omitempty"`
	LimitCount *limitCountPlugin `json:"limit-count,omitempty"`
	LimitReq   *limitReqPlugin   `json:"limit-req,omitempty"`
}

type keyAuthPlugin struct {
	Key string `json:"key,omitempty"`
}

type limitCountPlugin struct {
	Count            int    `json:"count"`
	TimeWindow       int    `json:"time_window"`
	RejectedCode     int    `json:"rejected_code"`
	RejectedMsg      string `json:"rejected_msg,omitempty"`
	Key              string `json:"key"`
	Policy           string `json:"policy"`
	AllowDegradation bool   `json:"allow_degradation"`
}

type limitReqPlugin struct {
	Rate             int    `json:"rate"`
	Burst            int    `json:"burst"`
	RejectedCode     int    `json:"rejected_code"`
	RejectedMsg      string `json:"rejected_msg,omitempty"`
	Key              string `json:"key"`
	AllowDegradation bool   `json:"allow_degradation"`
}

type apisixRoute struct {
	URI      string             `json:"uri"`
	Desc     string             `json:"desc,omitempty"`
	Plugins  apisixRoutePlugins `json:"plugins"`
	Upstream apisixUpstream     `json:"upstream"`
}

type apisixRoutePlugins struct {
	KeyAuth      *keyAuthPlugin      `json:"key-auth,omitempty"`
	ProxyRewrite *proxyRewritePlugin `json:"proxy-rewrite,omitempty"`
}

type proxyRewritePlugin struct {
	RegexURI []string `json:"regex_uri"`
}

type apisixUpstream struct {
	Type  string         `json:"type"`
	Nodes map[string]int `json:"nodes"`
}

type apisixConsumerEnvelope struct {
	Value apisixConsumer `json:"value"`
}

func (c *APISIXClient) UpsertConsumer(ctx context.Context, consumer Consumer) error {
	_, err := c.do(ctx, "upsert_consumer", http.MethodPut, "/consumers/"+url.PathEscape(consumer.ID), encodeConsumer(consumer))
	return err
}

func (c *APISIXClient) DeleteConsumer(ctx context.Context, id string) error {
	_, err := c.do(ctx, "delete_consumer", http.MethodDelete, "/consumers/"+url.PathEscape(id), nil)
	var remote *RemoteError
	if asRemote(err, &remote) && remote.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *APISIXClient) UpsertRoute(ctx context.Context, route Route) error {
	_, err := c.do(ctx, "upsert_route", http.MethodPut, "/routes/"+url.PathEscape(route.ID), encodeRoute(route))
	return err
}

func (c *APISIXClient) GetConsumer(ctx context.Context, id string) (*Consumer, error) {
	body, err := c.do(ctx, "get_consumer", http.MethodGet, "/consumers/"+url.PathEscape(id), nil)
	var remote *RemoteError
	if asRemote(err, &remote) && remote.StatusCode == http.StatusNotFound {
		return nil, ErrConsumerNotFound
	}
	if err != nil {
		return nil, err
	}

	var envelope apisixConsumerEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &RemoteError{Op: "get_consumer", StatusCode: http.StatusOK, Err: fmt.Errorf("decode consumer: %w", err)}
	}
	return decodeConsumer(envelope.Value), nil
}

func (c *APISIXClient) do(ctx context.Context, op, method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", op, err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set(adminKeyHeader, c.adminKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start)
	metrics.GatewayRequestDuration.WithLabelValues(op).Observe(elapsed.Seconds())

	if err != nil {
		metrics.GatewayRequests.WithLabelValues(op, "transport_error").Inc()
		log.Error().
			Err(err).
			Str("op", op).
			Str("path", path).
			Dur("elapsed", elapsed).
			Msg("gateway admin request error")
		return nil, &RemoteError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.GatewayRequests.WithLabelValues(op, "transport_error").Inc()
		return nil, &RemoteError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.GatewayRequests.WithLabelValues(op, fmt.Sprintf("%dxx", resp.StatusCode/100)).Inc()
		if resp.StatusCode != http.StatusNotFound {
			log.Warn().
				Str("op", op).
				Str("path", path).
				Int("status", resp.StatusCode).
				Dur("elapsed", elapsed).
				Msg("gateway admin request failed")
		}
		return nil, &RemoteError{Op: op, StatusCode: resp.StatusCode, Body: truncate(string(body), maxErrorBodyLen)}
	}

	metrics.GatewayRequests.WithLabelValues(op, "ok").Inc()
	log.Debug().
		Str("op", op).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Msg("gateway admin request ok")

	return body, nil
}

func encodeConsumer(c Consumer) apisixConsumer {
	out := apisixConsumer{
		Username: c.ID,
		Desc:     c.Description,
		Plugins: apisixConsumerPlugins{
			KeyAuth: &keyAuthPlugin{Key: c.APIKey},
		},
	}
	if c.Quota != nil {
		out.Plugins.LimitCount = &limitCountPlugin{
			Count:        c.Quota.Count,
			TimeWindow:   int(c.Quota.Window / time.Second),
			RejectedCode: c.Quota.RejectedCode,
			RejectedMsg:  c.Quota.RejectedMessage,
			Key:          keyedByConsumer,
			Policy:       "local",
		}
	}
	if c.Rate != nil {
		out.Plugins.LimitReq = &limitReqPlugin{
			Rate:         c.Rate.Rate,
			Burst:        c.Rate.Burst,
			RejectedCode: c.Rate.RejectedCode,
			RejectedMsg:  c.Rate.RejectedMessage,
			Key:          keyedByConsumer,
		}
	}
	return out
}

func decodeConsumer(in apisixConsumer) *Consumer {
	out := &Consumer{
		ID:          in.Username,
		Description: in.Desc,
	}
	if in.Plugins.KeyAuth != nil {
		out.APIKey = in.Plugins.KeyAuth.Key
	}
	if lc := in.Plugins.LimitCount; lc != nil {
		out.Quota = &QuotaPolicy{
			Count:           lc.Count,
			Window:          time.Duration(lc.TimeWindow) * time.Second,
			RejectedCode:    lc.RejectedCode,
			RejectedMessage: lc.RejectedMsg,
		}
	}
	if lr := in.Plugins.LimitReq; lr != nil {
		out.Rate = &RatePolicy{
			Rate:            lr.Rate,
			Burst:           lr.Burst,
			RejectedCode:    lr.RejectedCode,
			RejectedMessage: lr.RejectedMsg,
		}
	}
	return out
}

func encodeRoute(r Route) apisixRoute {
	prefix := strings.TrimRight(r.PathPrefix, "/")
	out := apisixRoute{
		URI:  prefix + "/*",
		Desc: r.Description,
		Plugins: apisixRoutePlugins{
			ProxyRewrite: &proxyRewritePlugin{
				RegexURI: []string{"^" + regexp.QuoteMeta(prefix) + "/(.*)", "/$1"},
			},
		},
		Upstream: apisixUpstream{
			Type:  r.Upstream.Type,
			Nodes: r.Upstream.Nodes,
		},
	}
	if out.Upstream.Type == "" {
		out.Upstream.Type = "roundrobin"
	}
	if r.RequireKeyAuth {
		out.Plugins.KeyAuth = &keyAuthPlugin{}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
