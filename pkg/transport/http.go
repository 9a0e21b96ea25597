package transport

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
)

// HTTPRoundTripper posts JSON bodies with the fiber client.
type HTTPRoundTripper struct {
	url string
}

// NewHTTPRoundTripper targets url, e.g. http://localhost:5000/compute.
func NewHTTPRoundTripper(url string) *HTTPRoundTripper {
	return &HTTPRoundTripper{url: url}
}

// URL returns the endpoint.
func (t *HTTPRoundTripper) URL() string {
	return t.url
}

// RoundTrip posts body. The context deadline becomes the request timeout;
// an in-flight request is not interrupted by cancellation.
func (t *HTTPRoundTripper) RoundTrip(ctx context.Context, body []byte) (int, []byte, error) {
	timeout, err := remaining(ctx)
	if err != nil {
		return 0, nil, err
	}

	a := fiber.Post(t.url)
	a.ContentType(fiber.MIMEApplicationJSON)
	a.Body(body)
	a.Timeout(timeout)

	code, reply, errs := a.Bytes()
	if len(errs) > 0 {
		return 0, nil, errors.Join(errs...)
	}
	return code, reply, nil
}

// Close is a no-op; agents are released after each request.
func (t *HTTPRoundTripper) Close() error {
	return nil
}
