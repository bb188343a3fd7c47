package statsgroup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/stats"
)

type recorder struct {
	tagged []string
	events []stats.RPCStats
}

func (r *recorder) TagRPC(ctx context.Context, info *stats.RPCTagInfo) context.Context {
	r.tagged = append(r.tagged, info.FullMethodName)
	return ctx
}

func (r *recorder) HandleConn(context.Context, stats.ConnStats) {}

func (r *recorder) HandleRPC(ctx context.Context, s stats.RPCStats) {
	r.events = append(r.events, s)
}

func TestGroup_fansOutToAllHandlers(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	g := New(a, b)

	ctx := g.TagRPC(context.Background(), "/svc/Method")
	g.Begin(ctx, false)
	g.End(ctx, nil)

	require.Len(t, a.tagged, 1)
	assert.Equal(t, "/svc/Method", a.tagged[0])
	require.Len(t, b.events, 2)
	assert.IsType(t, &stats.Begin{}, b.events[0])
	assert.IsType(t, &stats.End{}, b.events[1])
}

func TestGroup_nilHandlersSkipped(t *testing.T) {
	g := New(nil, &recorder{})
	assert.Equal(t, 1, g.Len())
}

func TestGroup_nilGroupIsNoop(t *testing.T) {
	var g *Group
	ctx := g.TagRPC(context.Background(), "/svc/Method")
	g.Begin(ctx, false)
	g.InHeader(ctx, metadata.MD{})
	assert.Equal(t, 0, g.Len())
}
