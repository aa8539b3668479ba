// Package extapi is a pooled HTTP client for the external developer API an
// [API_CALL: ...] tool tag may target. On any HTTP or network error it
// returns {ok:false, error} rather than an error value, matching the
// original call_external_api's swallow-and-report behavior so the reply
// pipeline can always hand the LLM something to narrate.
package extapi

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

// Client calls baseURL + path with method, used to service
// pkg/reply.ExternalAPICaller.
type Client struct {
	http    *resty.Client
	baseURL string
}

// New builds a Client using httpClient (normally the registry's pooled
// client) against baseURL.
func New(httpClient *resty.Client, baseURL string) *Client {
	return &Client{http: httpClient, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// Call implements pkg/reply.ExternalAPICaller.
func (c *Client) Call(ctx context.Context, method, path string, payload map[string]interface{}) (map[string]interface{}, error) {
	url := c.baseURL + path
	req := c.http.R().SetContext(ctx)

	var result map[string]interface{}
	req.SetResult(&result)

	var res *resty.Response
	var err error
	switch strings.ToUpper(method) {
	case "GET":
		res, err = req.Get(url)
	case "POST":
		res, err = req.SetBody(nonNil(payload)).Post(url)
	case "PUT":
		res, err = req.SetBody(nonNil(payload)).Put(url)
	case "DELETE":
		res, err = req.Delete(url)
	default:
		return map[string]interface{}{"ok": false, "error": fmt.Sprintf("unsupported method: %s", method)}, nil
	}

	if err != nil {
		return map[string]interface{}{"ok": false, "error": err.Error()}, nil
	}
	if res.IsError() {
		return map[string]interface{}{"ok": false, "error": fmt.Sprintf("status %d", res.StatusCode())}, nil
	}
	if result == nil {
		result = map[string]interface{}{}
	}
	return result, nil
}

func nonNil(payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		return map[string]interface{}{}
	}
	return payload
}
