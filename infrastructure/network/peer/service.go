package peer

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName       = "dposd.Peer"
	requestMethodName = "Request"
	requestMethod     = "/" + serviceName + "/" + requestMethodName

	// MaxMessageSize bounds requests and responses in both directions.
	MaxMessageSize = 16 * 1024 * 1024
)

// Request envelope fields.
const (
	fieldAPI    = "api"
	fieldMethod = "method"
	fieldData   = "data"
	fieldNonce  = "nonce"
)

// NewNonce returns a random node nonce. A node refuses requests carrying its
// own nonce.
func NewNonce() string {
	return uuid.New().String()
}

// Service answers peer requests.
type Service interface {
	Request(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
}

func requestHandler(srv interface{}, ctx context.Context, dec func(interface{}) error,
	interceptor grpc.UnaryServerInterceptor) (interface{}, error) {

	request := new(structpb.Struct)
	if err := dec(request); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Service).Request(ctx, request)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: requestMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Service).Request(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, request, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Service)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: requestMethodName,
			Handler:    requestHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "peer.proto",
}
