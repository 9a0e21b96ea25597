package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/open-teleop/dronesim/pkg/protocol"
)

// fakeService is a decision service on a random local port.
type fakeService struct {
	app    *fiber.App
	url    string
	mu     sync.Mutex
	bodies []map[string]interface{}
}

func startFakeService(t *testing.T, handler fiber.Handler) *fakeService {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	fs := &fakeService{app: fiber.New(fiber.Config{DisableStartupMessage: true})}
	fs.app.Post("/compute", func(c *fiber.Ctx) error {
		var body map[string]interface{}
		_ = json.Unmarshal(c.Body(), &body)
		fs.mu.Lock()
		fs.bodies = append(fs.bodies, body)
		fs.mu.Unlock()
		return handler(c)
	})
	fs.url = "http://" + ln.Addr().String() + "/compute"

	go func() { _ = fs.app.Listener(ln) }()
	t.Cleanup(func() { _ = fs.app.Shutdown() })
	return fs
}

func (fs *fakeService) received() []map[string]interface{} {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]map[string]interface{}(nil), fs.bodies...)
}

func TestHTTPExchange(t *testing.T) {
	fs := startFakeService(t, func(c *fiber.Ctx) error {
		if c.Get(fiber.HeaderContentType) != fiber.MIMEApplicationJSON {
			return c.SendStatus(fiber.StatusUnsupportedMediaType)
		}
		return c.JSON(fiber.Map{"x": 300, "y": 200})
	})

	client := NewClient(NewHTTPRoundTripper(fs.url), time.Second, nil)
	cmd, err := client.Exchange(context.Background(), []byte(`{"current":{"x":0,"y":0,"z":0}}`))
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if cmd != (protocol.Command{X: 300, Y: 200}) {
		t.Errorf("Unexpected command %+v", cmd)
	}
}

func TestHTTPExchangeErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler fiber.Handler
		want    error
		status  int
	}{
		{
			name: "non-200 status",
			handler: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid input"})
			},
			want:   ErrProtocol,
			status: fiber.StatusBadRequest,
		},
		{
			name: "missing field",
			handler: func(c *fiber.Ctx) error {
				return c.JSON(fiber.Map{"x": 1})
			},
			want:   ErrDecode,
			status: fiber.StatusOK,
		},
		{
			name: "not json",
			handler: func(c *fiber.Ctx) error {
				return c.SendString("ok")
			},
			want:   ErrDecode,
			status: fiber.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := startFakeService(t, tt.handler)
			client := NewClient(NewHTTPRoundTripper(fs.url), time.Second, nil)

			_, err := client.Exchange(context.Background(), []byte(`{}`))
			if !errors.Is(err, tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, err)
			}
			var xerr *Error
			if !errors.As(err, &xerr) || xerr.StatusCode != tt.status {
				t.Errorf("Expected status %d, got %+v", tt.status, xerr)
			}
		})
	}
}

func TestHTTPExchangeConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	client := NewClient(NewHTTPRoundTripper("http://"+addr+"/compute"), 500*time.Millisecond, nil)
	_, err = client.Exchange(context.Background(), []byte(`{}`))
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Expected transport error, got %v", err)
	}
	if kind, ok := KindOf(err); !ok || kind != KindTransport {
		t.Errorf("KindOf returned %v, %v", kind, ok)
	}
}

func TestHTTPExchangeTimeout(t *testing.T) {
	fs := startFakeService(t, func(c *fiber.Ctx) error {
		time.Sleep(500 * time.Millisecond)
		return c.JSON(fiber.Map{"x": 1, "y": 2})
	})

	client := NewClient(NewHTTPRoundTripper(fs.url), 100*time.Millisecond, nil)
	start := time.Now()
	_, err := client.Exchange(context.Background(), []byte(`{}`))
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Expected transport error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Errorf("Timeout not honoured, took %v", elapsed)
	}
}

func TestReset(t *testing.T) {
	fs := startFakeService(t, func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "reset"})
	})

	client := NewClient(NewHTTPRoundTripper(fs.url), time.Second, nil)
	if err := client.Reset(context.Background()); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	got := fs.received()
	if len(got) != 1 {
		t.Fatalf("Expected 1 request, got %d", len(got))
	}
	if got[0]["test"] != protocol.ResetMode {
		t.Errorf("Expected RESET mode, got %v", got[0]["test"])
	}
	if targets, ok := got[0]["targets"].([]interface{}); !ok || len(targets) != 0 {
		t.Errorf("Expected empty targets, got %v", got[0]["targets"])
	}
}

func TestNewRoundTripper(t *testing.T) {
	rt, err := New("HTTP", "http://localhost:5000/compute")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if h, ok := rt.(*HTTPRoundTripper); !ok || h.URL() != "http://localhost:5000/compute" {
		t.Errorf("Unexpected round tripper %T", rt)
	}
	if _, err := New("carrier-pigeon", ""); err == nil {
		t.Errorf("Expected error for unknown transport")
	}
}
