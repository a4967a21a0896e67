package peer

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/btcsuite/go-socks/socks"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding/gzip"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	defaultDialTimeout    = 5 * time.Second
	defaultRequestTimeout = 10 * time.Second
)

// DialFunc opens a network connection, like net.DialTimeout.
type DialFunc func(network, addr string, timeout time.Duration) (net.Conn, error)

// ProxyDial returns a DialFunc connecting through the SOCKS5 proxy at addr.
func ProxyDial(addr, username, password string) DialFunc {
	proxy := &socks.Proxy{
		Addr:     addr,
		Username: username,
		Password: password,
	}
	return proxy.DialTimeout
}

// Client sends requests to peers. Connections are opened on first use and
// kept per address.
type Client struct {
	nonce string
	dial  DialFunc

	connectionsMtx sync.Mutex
	connections    map[string]*grpc.ClientConn
}

// NewClient returns a Client sending nonce with every request. A nil dial
// connects directly.
func NewClient(nonce string, dial DialFunc) *Client {
	if dial == nil {
		dial = net.DialTimeout
	}
	return &Client{
		nonce:       nonce,
		dial:        dial,
		connections: make(map[string]*grpc.ClientConn),
	}
}

func (c *Client) contextDialer(ctx context.Context, addr string) (net.Conn, error) {
	timeout := defaultDialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	return c.dial("tcp", addr, timeout)
}

func (c *Client) connection(ctx context.Context, peer string) (*grpc.ClientConn, error) {
	c.connectionsMtx.Lock()
	defer c.connectionsMtx.Unlock()

	if connection, ok := c.connections[peer]; ok {
		return connection, nil
	}
	connection, err := grpc.DialContext(ctx, peer, grpc.WithInsecure(), grpc.WithContextDialer(c.contextDialer),
		grpc.WithDefaultCallOptions(grpc.UseCompressor(gzip.Name),
			grpc.MaxCallRecvMsgSize(MaxMessageSize), grpc.MaxCallSendMsgSize(MaxMessageSize)))
	if err != nil {
		return nil, errors.Wrapf(err, "error connecting to %s", peer)
	}
	c.connections[peer] = connection
	return connection, nil
}

// GetFromPeer sends data to the api of peer and returns the response data.
func (c *Client) GetFromPeer(ctx context.Context, peer string, api, method string,
	data map[string]interface{}) (map[string]interface{}, error) {

	if data == nil {
		data = map[string]interface{}{}
	}
	request, err := structpb.NewStruct(map[string]interface{}{
		fieldAPI:    api,
		fieldMethod: method,
		fieldData:   data,
		fieldNonce:  c.nonce,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "unencodable request to %s %s", method, api)
	}

	connection, err := c.connection(ctx, peer)
	if err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultRequestTimeout)
		defer cancel()
	}
	response := new(structpb.Struct)
	err = connection.Invoke(ctx, requestMethod, request, response)
	if err != nil {
		return nil, errors.Wrapf(err, "request %s %s to %s failed", method, api, peer)
	}
	return response.AsMap(), nil
}

// Close closes every connection.
func (c *Client) Close() {
	c.connectionsMtx.Lock()
	defer c.connectionsMtx.Unlock()
	for peer, connection := range c.connections {
		err := connection.Close()
		if err != nil {
			log.Debugf("Error closing connection to %s: %s", peer, err)
		}
		delete(c.connections, peer)
	}
}
