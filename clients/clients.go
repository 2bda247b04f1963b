// Package clients talks to the model inference service hosting the pretrained
// tokenizers and language models. All tensor work (forward passes,
// tokenization internals, device placement) lives behind these endpoints.
package clients

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Inference is a JSON-over-HTTP client for the model service.
type Inference struct {
	c *resty.Client
}

// NewInference builds a client bound to the service base URL.
func NewInference(baseURL string, timeout time.Duration) *Inference {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &Inference{c: c}
}

// request starts a JSON request. Responses are decoded as JSON regardless of
// the Content-Type the service reports, so a missing header surfaces as a
// decode error rather than a silently zero-valued result.
func (i *Inference) request(ctx context.Context) *resty.Request {
	return i.c.R().
		SetContext(ctx).
		ForceContentType("application/json")
}

func statusErr(op string, resp *resty.Response) error {
	return fmt.Errorf("%s %s: %s", op, resp.Status(), resp.String())
}
