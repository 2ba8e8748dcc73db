package guard

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/armorclaw/faultline/pkg/errors"
	"github.com/armorclaw/faultline/pkg/faults"
	"github.com/armorclaw/faultline/pkg/logger"
)

type cart struct {
	Items  []string       `json:"items"`
	Totals map[string]int `json:"totals"`
	Owner  *owner         `json:"owner"`
}

type owner struct {
	Name string `json:"name"`
}

func newCart() cart {
	return cart{
		Items:  []string{"apple"},
		Totals: map[string]int{"apple": 1},
		Owner:  &owner{Name: "sam"},
	}
}

func newGuard(t *testing.T, opts ...Option[cart]) (*Guard[cart], *faults.System) {
	t.Helper()
	sys := faults.NewInMemory(logger.Discard())
	opts = append(opts, WithLogger[cart](logger.Discard()))
	return New("cart", newCart(), sys, opts...), sys
}

func TestUpdate_Success(t *testing.T) {
	g, sys := newGuard(t)

	err := g.Update(context.Background(), func(c *cart) error {
		c.Items = append(c.Items, "pear")
		c.Totals["pear"] = 2
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"apple", "pear"}, g.Get().Items)
	assert.Zero(t, sys.Store().Len())
}

func TestUpdate_RollbackOnError(t *testing.T) {
	g, sys := newGuard(t)
	before := g.Get()

	err := g.Update(context.Background(), func(c *cart) error {
		c.Items = append(c.Items, "pear")
		c.Totals["apple"] = 99
		c.Owner.Name = "mallory"
		return errors.New("quota exceeded")
	})

	var merr *MutationError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "cart", merr.Guard)
	assert.Equal(t, before, g.Get(), "state must equal the pre-mutation snapshot")

	visible := sys.Store().Visible()
	require.Len(t, visible, 1)
	assert.Equal(t, ferrors.CodeStateMutation, visible[0].Context.Code)
	assert.Equal(t, ferrors.KindState, visible[0].Context.Kind)
	assert.True(t, visible[0].Context.HasAction(ferrors.ActionRetry))
}

func TestUpdate_RollbackOnPanic(t *testing.T) {
	g, _ := newGuard(t)
	before := g.Get()

	err := g.Update(context.Background(), func(c *cart) error {
		c.Totals["apple"] = 5
		var m map[string]int
		m["boom"] = 1
		return nil
	})

	require.Error(t, err)
	var pe *ferrors.PanicError
	assert.ErrorAs(t, err, &pe)
	assert.Equal(t, before, g.Get())
}

func TestUpdate_RollbackOnFailedCheck(t *testing.T) {
	g, sys := newGuard(t, WithCheck(func(c cart) error {
		if len(c.Items) > 2 {
			return fmt.Errorf("cart holds %d items, max 2", len(c.Items))
		}
		return nil
	}))
	before := g.Get()

	err := g.Update(context.Background(), func(c *cart) error {
		c.Items = append(c.Items, "pear", "plum")
		return nil
	})

	require.ErrorIs(t, err, ErrCheckFailed)
	assert.Equal(t, before, g.Get())
	require.Len(t, sys.Store().Visible(), 1)
	assert.Equal(t, ferrors.CodeStatePostcondition, sys.Store().Visible()[0].Context.Code)
}

// Rollback leaves the state structurally identical however many times updates fail.
func TestUpdate_RepeatedRollbacksAreIdempotent(t *testing.T) {
	g, _ := newGuard(t)
	before := g.Get()

	for i := 0; i < 20; i++ {
		_ = g.Update(context.Background(), func(c *cart) error {
			c.Items = append(c.Items, fmt.Sprintf("item-%d", i))
			delete(c.Totals, "apple")
			c.Owner = nil
			return errors.New("rejected")
		})
		require.Equal(t, before, g.Get())
	}
}

func TestUpdate_RetryCallbackReappliesMutation(t *testing.T) {
	g, sys := newGuard(t)

	fail := true
	err := g.Update(context.Background(), func(c *cart) error {
		c.Items = append(c.Items, "pear")
		if fail {
			return errors.New("transient")
		}
		return nil
	})
	require.Error(t, err)

	fault := sys.Store().Visible()[0].Context
	retry, ok := fault.Callback(ferrors.ActionRetry)
	require.True(t, ok)

	fail = false
	require.NoError(t, retry())
	assert.Equal(t, []string{"apple", "pear"}, g.Get().Items)
}

func TestUpdate_CustomClone(t *testing.T) {
	clones := 0
	g, _ := newGuard(t, WithClone(func(c cart) (cart, error) {
		clones++
		out := c
		out.Items = append([]string(nil), c.Items...)
		out.Totals = make(map[string]int, len(c.Totals))
		for k, v := range c.Totals {
			out.Totals[k] = v
		}
		if c.Owner != nil {
			o := *c.Owner
			out.Owner = &o
		}
		return out, nil
	}))

	require.NoError(t, g.Update(context.Background(), func(c *cart) error { return nil }))
	assert.Equal(t, 1, clones)
}

func TestUpdate_SnapshotFailure(t *testing.T) {
	g, _ := newGuard(t, WithClone(func(c cart) (cart, error) {
		return c, errors.New("cannot copy")
	}))

	called := false
	err := g.Update(context.Background(), func(c *cart) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called, "no mutation without a snapshot")
}

func TestGet_ReturnsCopy(t *testing.T) {
	g, _ := newGuard(t)
	c := g.Get()
	c.Items[0] = "changed"
	c.Totals["apple"] = 42

	assert.Equal(t, newCart(), g.Get())
}

func TestNew_NilReporter(t *testing.T) {
	g := New("counter", 1, nil, WithLogger[int](logger.Discard()))
	err := g.Update(context.Background(), func(n *int) error {
		*n = 2
		return errors.New("nope")
	})
	require.Error(t, err)
	assert.Equal(t, 1, g.Get())
}
