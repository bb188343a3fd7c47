// Package statsgroup implements a fan-out group over stats.Handler: the
// stats plugin group a ControlHelper exposes, called by CallCore at
// pick-commit time and at call completion.
package statsgroup

import (
	"context"
	"time"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/stats"
)

// Group fans every RPC stats event out to every registered handler, client
// side only (this core has no server dispatch surface).
type Group struct {
	handlers []stats.Handler
}

// New builds a Group wrapping handlers. A nil or empty slice is valid; every
// method becomes a no-op.
func New(handlers ...stats.Handler) *Group {
	out := make([]stats.Handler, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			out = append(out, h)
		}
	}
	return &Group{handlers: out}
}

// TagRPC threads every handler's TagRPC in registration order, each seeing
// the context produced by the previous one.
func (g *Group) TagRPC(ctx context.Context, method string) context.Context {
	if g == nil {
		return ctx
	}
	info := &stats.RPCTagInfo{FullMethodName: method}
	for _, h := range g.handlers {
		ctx = h.TagRPC(ctx, info)
	}
	return ctx
}

func (g *Group) handle(ctx context.Context, s stats.RPCStats) {
	if g == nil {
		return
	}
	for _, h := range g.handlers {
		h.HandleRPC(ctx, s)
	}
}

// Begin reports the start of a call.
func (g *Group) Begin(ctx context.Context, isClientStream bool) {
	g.handle(ctx, &stats.Begin{
		Client:         true,
		BeginTime:      time.Now(),
		IsClientStream: isClientStream,
	})
}

// End reports call completion with its terminal error (nil on success).
func (g *Group) End(ctx context.Context, err error) {
	g.handle(ctx, &stats.End{
		Client:  true,
		EndTime: time.Now(),
		Error:   err,
	})
}

// OutHeader reports outbound initial metadata.
func (g *Group) OutHeader(ctx context.Context, md metadata.MD) {
	g.handle(ctx, &stats.OutHeader{Client: true, Header: md})
}

// InHeader reports inbound initial metadata.
func (g *Group) InHeader(ctx context.Context, md metadata.MD) {
	g.handle(ctx, &stats.InHeader{Client: true, Header: md})
}

// OutTrailer reports outbound trailing metadata.
func (g *Group) OutTrailer(ctx context.Context, md metadata.MD) {
	g.handle(ctx, &stats.OutTrailer{Client: true, Trailer: md})
}

// InTrailer reports inbound trailing metadata.
func (g *Group) InTrailer(ctx context.Context, md metadata.MD) {
	g.handle(ctx, &stats.InTrailer{Client: true, Trailer: md})
}

// OutPayload reports an outbound message.
func (g *Group) OutPayload(ctx context.Context, payload any) {
	g.handle(ctx, &stats.OutPayload{Client: true, Payload: payload, SentTime: time.Now()})
}

// InPayload reports an inbound message.
func (g *Group) InPayload(ctx context.Context, payload any) {
	g.handle(ctx, &stats.InPayload{Client: true, Payload: payload, RecvTime: time.Now()})
}

// Len reports how many handlers are registered, mainly for tests.
func (g *Group) Len() int {
	if g == nil {
		return 0
	}
	return len(g.handlers)
}
