package view

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PowerDNS/perfagent/config"
	"github.com/PowerDNS/perfagent/execctx"
)

func TestOnRender(t *testing.T) {
	c := New(config.Views{}, nil)

	// Untracked
	c.OnRender(context.Background(), Render{Template: "x"})

	ctx, _ := execctx.Start(context.Background(), "")
	c.OnRender(ctx, Render{Template: "users/show", Duration: 2 * time.Millisecond})
	c.OnRender(ctx, Render{Template: "users/_row", Kind: KindPartial, CacheHit: Hit(true)})
	c.OnRender(ctx, Render{Template: strings.Repeat("t", 300), Kind: KindCollection})

	rs := c.Drain(ctx)
	require.Len(t, rs, 3)
	assert.Equal(t, KindTemplate, rs[0].Kind)
	assert.Equal(t, 2.0, rs[0].DurationMS)
	assert.Nil(t, rs[0].CacheHit)
	assert.True(t, *rs[1].CacheHit)
	assert.Len(t, rs[2].Template, MaxTemplateLength+3)
}

func TestInstrument(t *testing.T) {
	c := New(config.Views{}, nil)
	ctx, _ := execctx.Start(context.Background(), "")

	myErr := errors.New("render failed")
	called := 0
	err := c.Instrument(ctx, "users/index", KindTemplate, func() error {
		called++
		time.Sleep(time.Millisecond)
		return myErr
	})
	assert.Same(t, myErr, err)
	assert.Equal(t, 1, called)

	rs := c.Drain(ctx)
	require.Len(t, rs, 1)
	assert.Equal(t, "users/index", rs[0].Template)
	assert.GreaterOrEqual(t, rs[0].DurationMS, 1.0)

	// fn still runs when untracked
	err = c.Instrument(context.Background(), "x", KindPartial, func() error {
		called++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, called)
}

func TestRenderLimit(t *testing.T) {
	c := New(config.Views{MaxRenders: 3}, nil)
	ctx, _ := execctx.Start(context.Background(), "")
	c.Start(ctx)
	for i := 0; i < 5; i++ {
		c.OnRender(ctx, Render{Template: fmt.Sprintf("t%d", i)})
	}
	rs := c.Drain(ctx)
	require.Len(t, rs, 3)
	assert.Equal(t, "t2", rs[0].Template)
	assert.Equal(t, "t4", rs[2].Template)
	assert.Equal(t, 2, c.Evicted(ctx))
}
