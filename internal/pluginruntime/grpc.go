/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package pluginruntime

import (
	"bytes"
	"context"
	"encoding/gob"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// gobCodecName is the wire content-subtype negotiated for the plugin host boundary.
// There is no protoc-generated stub for this service — plugin processes are started
// and versioned out of band by the host, not compiled against a shared .proto — so the
// boundary carries plain Go structs through encoding/gob instead.
const gobCodecName = "gob"

func init() {
	encoding.RegisterCodec(gobCodec{})
}

// gobCodec implements google.golang.org/grpc/encoding.Codec by delegating to
// encoding/gob. It only needs to round-trip the concrete structs declared in this
// file, so no gob.Register calls are required.
type gobCodec struct{}

func (gobCodec) Name() string { return gobCodecName }

func (gobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// DirectiveEnvelope is the wire shape of one Directive crossing the host↔plugin-process
// gRPC boundary.
type DirectiveEnvelope struct {
	PluginID     string
	Kind         int
	ConfigJSON   string
	DestroyCause string
}

// Ack is the plugin host boundary's sole response shape.
type Ack struct {
	OK    bool
	Error string
}

// pluginHostServer is implemented by whatever serves ApplyDirective calls — in this
// runtime, HostAdapter, which publishes each directive onto the Runtime's directive bus.
type pluginHostServer interface {
	ApplyDirective(ctx context.Context, in *DirectiveEnvelope) (*Ack, error)
}

// pluginHostServiceDesc is the hand-written equivalent of a protoc-generated
// _ServiceDesc: a single unary RPC, registered directly against grpc.Server instead of
// through generated stub code.
var pluginHostServiceDesc = grpc.ServiceDesc{
	ServiceName: "audioengine.pluginruntime.PluginHost",
	HandlerType: (*pluginHostServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ApplyDirective",
			Handler:    pluginHostApplyDirectiveHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/pluginruntime/grpc.go",
}

func pluginHostApplyDirectiveHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(DirectiveEnvelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(pluginHostServer).ApplyDirective(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/audioengine.pluginruntime.PluginHost/ApplyDirective"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(pluginHostServer).ApplyDirective(ctx, req.(*DirectiveEnvelope))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterPluginHostServer registers srv (typically a *HostAdapter) against an
// already-constructed *grpc.Server.
func RegisterPluginHostServer(s *grpc.Server, srv pluginHostServer) {
	s.RegisterService(&pluginHostServiceDesc, srv)
}

// HostAdapter implements pluginHostServer in front of a Runtime, translating the wire
// envelope into a Directive and routing it through the same directive bus a local
// caller would use.
type HostAdapter struct {
	Runtime *Runtime
}

func (a *HostAdapter) ApplyDirective(ctx context.Context, in *DirectiveEnvelope) (*Ack, error) {
	d := Directive{Kind: DirectiveKind(in.Kind), ConfigJSON: in.ConfigJSON, DestroyCause: DestroyReason(in.DestroyCause)}
	a.Runtime.directives.Publish(in.PluginID, d)
	return &Ack{OK: true}, nil
}

// PluginHostClient calls a plugin host boundary over gRPC using the gob codec instead
// of protoc-generated stubs.
type PluginHostClient struct {
	conn *grpc.ClientConn
}

func NewPluginHostClient(conn *grpc.ClientConn) *PluginHostClient {
	return &PluginHostClient{conn: conn}
}

func (c *PluginHostClient) ApplyDirective(ctx context.Context, in *DirectiveEnvelope) (*Ack, error) {
	out := new(Ack)
	err := c.conn.Invoke(ctx, "/audioengine.pluginruntime.PluginHost/ApplyDirective", in, out,
		grpc.CallContentSubtype(gobCodecName))
	if err != nil {
		return nil, err
	}
	return out, nil
}
