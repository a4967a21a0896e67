package peer

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dposnet/dposd/util/panics"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	_ "google.golang.org/grpc/encoding/gzip" // registers the gzip compressor
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// HandlerFunc answers one peer API. data and the returned map hold values
// representable in a structpb.Struct.
type HandlerFunc func(ctx context.Context, data map[string]interface{}) (map[string]interface{}, error)

// ErrInvalidRequest is returned by handlers for malformed request data.
var ErrInvalidRequest = errors.New("invalid request")

// Server serves the peer APIs over gRPC.
type Server struct {
	nonce  string
	server *grpc.Server

	handlersMtx sync.RWMutex
	handlers    map[string]HandlerFunc
}

// NewServer returns a Server refusing requests that carry nonce.
func NewServer(nonce string) *Server {
	s := &Server{
		nonce:    nonce,
		server:   grpc.NewServer(grpc.MaxRecvMsgSize(MaxMessageSize), grpc.MaxSendMsgSize(MaxMessageSize)),
		handlers: make(map[string]HandlerFunc),
	}
	s.server.RegisterService(&serviceDesc, s)
	return s
}

func handlerKey(api, method string) string {
	return method + " " + api
}

// RegisterHandler routes requests for api and method to handler.
func (s *Server) RegisterHandler(api, method string, handler HandlerFunc) {
	s.handlersMtx.Lock()
	defer s.handlersMtx.Unlock()
	s.handlers[handlerKey(api, method)] = handler
}

func (s *Server) handler(api, method string) (HandlerFunc, bool) {
	s.handlersMtx.RLock()
	defer s.handlersMtx.RUnlock()
	handler, ok := s.handlers[handlerKey(api, method)]
	return handler, ok
}

// Request implements Service.
func (s *Server) Request(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	fields := request.AsMap()
	api, _ := fields[fieldAPI].(string)
	method, _ := fields[fieldMethod].(string)
	nonce, _ := fields[fieldNonce].(string)
	if nonce == s.nonce {
		return nil, status.Errorf(codes.FailedPrecondition, "request to self")
	}

	handler, ok := s.handler(api, method)
	if !ok {
		return nil, status.Errorf(codes.Unimplemented, "unknown api %s %s", method, api)
	}
	data, _ := fields[fieldData].(map[string]interface{})
	if data == nil {
		data = map[string]interface{}{}
	}

	response, err := handler(ctx, data)
	if err != nil {
		log.Debugf("Peer request %s %s failed: %s", method, api, err)
		if errors.Is(err, ErrInvalidRequest) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	result, err := structpb.NewStruct(response)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "unencodable response: %s", err)
	}
	return result, nil
}

// Listen serves on listenAddr until Stop.
func (s *Server) Listen(listenAddr string) error {
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return errors.Wrapf(err, "error listening on %s", listenAddr)
	}
	s.Serve(listener)
	log.Infof("Peer server listening on %s", listenAddr)
	return nil
}

// Serve serves on listener until Stop.
func (s *Server) Serve(listener net.Listener) {
	spawn("peer.Server.Serve", func() {
		err := s.server.Serve(listener)
		if err != nil {
			panics.Exit(log, fmt.Sprintf("error serving peers on %s: %+v", listener.Addr(), err))
		}
	})
}

// Stop stops the server, forcibly if pending requests do not finish in time.
func (s *Server) Stop() {
	const stopTimeout = 2 * time.Second

	stopChan := make(chan struct{})
	spawn("peer.Server.Stop-GracefulStop", func() {
		s.server.GracefulStop()
		close(stopChan)
	})

	select {
	case <-stopChan:
	case <-time.After(stopTimeout):
		log.Warnf("Could not gracefully stop the peer server: timed out after %s", stopTimeout)
		s.server.Stop()
	}
}
