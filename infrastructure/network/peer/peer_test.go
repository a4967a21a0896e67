package peer

import (
	"context"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func startTestServer(t *testing.T, nonce string) (*Server, DialFunc, func()) {
	listener := bufconn.Listen(1024 * 1024)
	server := NewServer(nonce)
	server.Serve(listener)
	dial := func(string, string, time.Duration) (net.Conn, error) {
		return listener.Dial()
	}
	return server, dial, func() {
		server.Stop()
		listener.Close()
	}
}

func TestRequestRoundTrip(t *testing.T) {
	server, dial, teardown := startTestServer(t, NewNonce())
	defer teardown()

	server.RegisterHandler("/echo", "GET", func(_ context.Context, data map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{
			"echo":   data["value"],
			"height": 42,
			"list":   []interface{}{"a", "b"},
		}, nil
	})

	client := NewClient(NewNonce(), dial)
	defer client.Close()

	response, err := client.GetFromPeer(context.Background(), "bufnet", "/echo", "GET",
		map[string]interface{}{"value": "hello"})
	if err != nil {
		t.Fatalf("TestRequestRoundTrip: GetFromPeer unexpectedly failed: %s", err)
	}
	expected := map[string]interface{}{
		"echo":   "hello",
		"height": float64(42),
		"list":   []interface{}{"a", "b"},
	}
	if !reflect.DeepEqual(response, expected) {
		t.Fatalf("TestRequestRoundTrip: got %v, want %v", response, expected)
	}
}

func TestRequestErrors(t *testing.T) {
	serverNonce := NewNonce()
	server, dial, teardown := startTestServer(t, serverNonce)
	defer teardown()

	server.RegisterHandler("/strict", "POST", func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
		return nil, errors.Wrapf(ErrInvalidRequest, "missing field")
	})

	client := NewClient(NewNonce(), dial)
	defer client.Close()
	self := NewClient(serverNonce, dial)
	defer self.Close()

	tests := []struct {
		name     string
		client   *Client
		api      string
		method   string
		expected codes.Code
	}{
		{name: "unknown api", client: client, api: "/missing", method: "GET", expected: codes.Unimplemented},
		{name: "wrong method", client: client, api: "/strict", method: "GET", expected: codes.Unimplemented},
		{name: "invalid data", client: client, api: "/strict", method: "POST", expected: codes.InvalidArgument},
		{name: "request to self", client: self, api: "/strict", method: "POST", expected: codes.FailedPrecondition},
	}
	for _, test := range tests {
		_, err := test.client.GetFromPeer(context.Background(), "bufnet", test.api, test.method, nil)
		if err == nil {
			t.Fatalf("TestRequestErrors: %s: GetFromPeer unexpectedly succeeded", test.name)
		}
		if code := status.Code(errors.Cause(err)); code != test.expected {
			t.Fatalf("TestRequestErrors: %s: got code %s, want %s", test.name, code, test.expected)
		}
	}
}
