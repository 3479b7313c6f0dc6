// Package remote talks to the backend disease-detection service used when
// local inference is unavailable.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/go-resty/resty/v2"

	"agrisense/internal/errdef"
)

const defaultTimeout = 30 * time.Second

type ClientOpts struct {
	BaseURL string
	// Timeout bounds the whole detection call. Defaults to 30s.
	Timeout time.Duration
}

type Client struct {
	httpClient *resty.Client
}

func NewClient(opts ClientOpts) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{}
	c.httpClient = resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return c
}

// Prediction is the remote service's answer, adapted to the same shape local
// inference produces.
type Prediction struct {
	Label      string
	Confidence float64
}

type predictionBody struct {
	Prediction string   `json:"prediction"`
	Confidence *float64 `json:"confidence"`
}

type errorBody struct {
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

// Classify submits the raw image as a multipart upload and parses the
// response. No automatic retries; retrying is the caller's policy.
func (c *Client) Classify(ctx context.Context, image []byte, filename string) (Prediction, error) {
	if filename == "" {
		filename = "upload.jpg"
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetFileReader("file", filename, bytes.NewReader(image)).
		Post("/detect-disease")
	if err != nil {
		return Prediction{}, &errdef.NetworkError{Err: err}
	}

	if resp.IsError() {
		var eb errorBody
		_ = json.Unmarshal(resp.Body(), &eb)
		detail := eb.Detail
		if detail == "" {
			detail = eb.Message
		}
		return Prediction{}, &errdef.RemoteServiceError{
			StatusCode: resp.StatusCode(),
			Detail:     detail,
		}
	}

	var body predictionBody
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return Prediction{}, &errdef.InvalidResponseError{Reason: "malformed JSON body"}
	}
	if body.Prediction == "" {
		return Prediction{}, &errdef.InvalidResponseError{Reason: "missing prediction field"}
	}
	if body.Confidence == nil {
		return Prediction{}, &errdef.InvalidResponseError{Reason: "missing confidence field"}
	}
	if *body.Confidence < 0 || *body.Confidence > 1 {
		return Prediction{}, &errdef.InvalidResponseError{Reason: "confidence out of range"}
	}

	return Prediction{Label: body.Prediction, Confidence: *body.Confidence}, nil
}

// Healthy probes the backend. Any transport failure or non-2xx status means
// the backend is unavailable.
func (c *Client) Healthy(ctx context.Context) bool {
	resp, err := c.httpClient.R().SetContext(ctx).Get("/health")
	return err == nil && resp.IsSuccess()
}
