package rpc

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-plugin"
	"github.com/sugawarayuuta/sonnet"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

const (
	PluginMapKey       = "pump"
	serviceName        = "sightsync.driver.v1.PumpDriver"
	jsonCodecName      = "json"
	methodIdentify     = "/" + serviceName + "/Identify"
	methodReadConfig   = "/" + serviceName + "/ReadConfigBlock"
	methodOpenHistory  = "/" + serviceName + "/OpenHistory"
	methodReadHistory  = "/" + serviceName + "/ReadHistory"
	methodCloseHistory = "/" + serviceName + "/CloseHistory"
)

var HandshakeConfig = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "SIGHTSYNC_DRIVER",
	MagicCookieValue: "sightsync",
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return sonnet.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return sonnet.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return jsonCodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type Empty struct{}

type DeviceInfo struct {
	Serial   string `json:"serial"`
	Firmware string `json:"firmware"`
}

type ConfigBlockRequest struct {
	Block uint16 `json:"block"`
}

// ConfigBlockResponse carries Found=false when the driver does not expose the block.
type ConfigBlockResponse struct {
	Found   bool   `json:"found"`
	Payload []byte `json:"payload"`
}

type OpenHistoryRequest struct {
	Category  uint16 `json:"category"`
	Offset    uint32 `json:"offset"`
	Direction uint16 `json:"direction"`
	PageSize  int32  `json:"page_size"`
}

type OpenHistoryResponse struct {
	SessionID string `json:"session_id"`
}

type Frame struct {
	Tag     uint16 `json:"tag"`
	Payload []byte `json:"payload"`
}

type ReadHistoryRequest struct {
	SessionID string `json:"session_id"`
}

type ReadHistoryResponse struct {
	Frames []Frame `json:"frames"`
	More   bool    `json:"more"`
}

type CloseHistoryRequest struct {
	SessionID string `json:"session_id"`
}

type CloseHistoryResponse struct {
	Latest uint32 `json:"latest"`
}

type PumpDriverServer interface {
	Identify(ctx context.Context, in *Empty) (*DeviceInfo, error)
	ReadConfigBlock(ctx context.Context, in *ConfigBlockRequest) (*ConfigBlockResponse, error)
	OpenHistory(ctx context.Context, in *OpenHistoryRequest) (*OpenHistoryResponse, error)
	ReadHistory(ctx context.Context, in *ReadHistoryRequest) (*ReadHistoryResponse, error)
	CloseHistory(ctx context.Context, in *CloseHistoryRequest) (*CloseHistoryResponse, error)
}

type PumpDriverClient interface {
	Identify(ctx context.Context) (*DeviceInfo, error)
	ReadConfigBlock(ctx context.Context, in *ConfigBlockRequest) (*ConfigBlockResponse, error)
	OpenHistory(ctx context.Context, in *OpenHistoryRequest) (*OpenHistoryResponse, error)
	ReadHistory(ctx context.Context, in *ReadHistoryRequest) (*ReadHistoryResponse, error)
	CloseHistory(ctx context.Context, in *CloseHistoryRequest) (*CloseHistoryResponse, error)
}

type pumpDriverClient struct {
	conn *grpc.ClientConn
}

func NewPumpDriverClient(conn *grpc.ClientConn) PumpDriverClient {
	return &pumpDriverClient{conn: conn}
}

func invoke[Out any](ctx context.Context, conn *grpc.ClientConn, method string, in any) (*Out, error) {
	out := new(Out)
	if err := conn.Invoke(ctx, method, in, out, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *pumpDriverClient) Identify(ctx context.Context) (*DeviceInfo, error) {
	return invoke[DeviceInfo](ctx, c.conn, methodIdentify, &Empty{})
}

func (c *pumpDriverClient) ReadConfigBlock(ctx context.Context, in *ConfigBlockRequest) (*ConfigBlockResponse, error) {
	return invoke[ConfigBlockResponse](ctx, c.conn, methodReadConfig, in)
}

func (c *pumpDriverClient) OpenHistory(ctx context.Context, in *OpenHistoryRequest) (*OpenHistoryResponse, error) {
	return invoke[OpenHistoryResponse](ctx, c.conn, methodOpenHistory, in)
}

func (c *pumpDriverClient) ReadHistory(ctx context.Context, in *ReadHistoryRequest) (*ReadHistoryResponse, error) {
	return invoke[ReadHistoryResponse](ctx, c.conn, methodReadHistory, in)
}

func (c *pumpDriverClient) CloseHistory(ctx context.Context, in *CloseHistoryRequest) (*CloseHistoryResponse, error) {
	return invoke[CloseHistoryResponse](ctx, c.conn, methodCloseHistory, in)
}

// unary builds a method descriptor that decodes In and forwards to call, honouring
// the server interceptor chain.
func unary[In any, Out any](name, fullMethod string, call func(ctx context.Context, in *In) (*Out, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(In)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				typed, ok := req.(*In)
				if !ok {
					return nil, fmt.Errorf("invalid request type")
				}
				return call(ctx, typed)
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func RegisterPumpDriverServer(server grpc.ServiceRegistrar, impl PumpDriverServer) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*PumpDriverServer)(nil),
		Methods: []grpc.MethodDesc{
			unary("Identify", methodIdentify, impl.Identify),
			unary("ReadConfigBlock", methodReadConfig, impl.ReadConfigBlock),
			unary("OpenHistory", methodOpenHistory, impl.OpenHistory),
			unary("ReadHistory", methodReadHistory, impl.ReadHistory),
			unary("CloseHistory", methodCloseHistory, impl.CloseHistory),
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "schemas/driver-rpc-v1.proto",
	}, impl)
}

type GRPCPlugin struct {
	plugin.NetRPCUnsupportedPlugin
	Impl PumpDriverServer
}

func (p *GRPCPlugin) GRPCServer(_ *plugin.GRPCBroker, server *grpc.Server) error {
	RegisterPumpDriverServer(server, p.Impl)
	return nil
}

func (p *GRPCPlugin) GRPCClient(_ context.Context, _ *plugin.GRPCBroker, conn *grpc.ClientConn) (any, error) {
	return NewPumpDriverClient(conn), nil
}

func PluginMap(impl PumpDriverServer) map[string]plugin.Plugin {
	return map[string]plugin.Plugin{
		PluginMapKey: &GRPCPlugin{Impl: impl},
	}
}
