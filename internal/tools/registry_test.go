package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/skywalker-firehose/agentchat/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticTool(name string, level int) *Descriptor {
	return &Descriptor{
		Name:              name,
		Description:       name,
		RequiredAuthLevel: level,
		Execute: func(context.Context, models.RequestContext, json.RawMessage) (any, error) {
			return name, nil
		},
	}
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.Register(staticTool("alpha", 0)))
	require.NoError(t, reg.Register(staticTool("beta", 1)))
	require.NoError(t, reg.Register(staticTool("gamma", 2)))
	return reg
}

func names(ds []*Descriptor) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Name)
	}
	return out
}

func TestResolveFiltersByAuthLevel(t *testing.T) {
	reg := testRegistry(t)
	declared := []string{"gamma", "alpha", "beta"}

	cases := []struct {
		level int
		want  []string
	}{
		{0, []string{"alpha"}},
		{1, []string{"alpha", "beta"}},
		{2, []string{"gamma", "alpha", "beta"}},
		{7, []string{"gamma", "alpha", "beta"}},
	}
	for _, tc := range cases {
		got := names(reg.Resolve(declared, tc.level))
		// order follows the declared list, not registration order
		want := []string{}
		for _, n := range declared {
			if contains(tc.want, n) {
				want = append(want, n)
			}
		}
		assert.Equal(t, want, got, "level %d", tc.level)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestResolveDropsUnknownNames(t *testing.T) {
	reg := testRegistry(t)

	got := reg.Resolve([]string{"missing", "alpha", "also_missing"}, 5)

	assert.Equal(t, []string{"alpha"}, names(got))
	assert.Empty(t, reg.Resolve(nil, 5))
}

func TestResolveIsSubsetOfDeclaredTools(t *testing.T) {
	reg := testRegistry(t)
	declared := []string{"beta", "unknown"}

	for level := 0; level <= 3; level++ {
		for _, d := range reg.Resolve(declared, level) {
			assert.Contains(t, declared, d.Name)
			assert.GreaterOrEqual(t, level, d.RequiredAuthLevel)
		}
	}
}

func TestRegisterRejectsDuplicatesAndBadDescriptors(t *testing.T) {
	reg := testRegistry(t)

	err := reg.Register(staticTool("alpha", 0))
	assert.True(t, errors.Is(err, ErrDuplicateTool))

	assert.Error(t, reg.Register(&Descriptor{Name: ""}))
	assert.Error(t, reg.Register(&Descriptor{Name: "no_exec"}))
}

func TestListKeepsRegistrationOrder(t *testing.T) {
	reg := testRegistry(t)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, names(reg.List()))
}

func TestInvokeValidatesArguments(t *testing.T) {
	type args struct {
		Text string `json:"text" jsonschema:"required"`
	}
	d, err := NewFunctionTool("echo", "Echo text", 0,
		func(_ context.Context, _ models.RequestContext, a args) (any, error) {
			return a.Text, nil
		})
	require.NoError(t, err)

	reg := NewRegistry()
	require.NoError(t, reg.Register(d))

	out, err := d.Invoke(context.Background(), models.DefaultRequestContext(), json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "hi", out)

	_, err = d.Invoke(context.Background(), models.DefaultRequestContext(), json.RawMessage(`{}`))
	assert.True(t, errors.Is(err, ErrInvalidArguments))
}

func TestInvokeEncodesStructuredResults(t *testing.T) {
	d, err := NewFunctionTool("orders", "Orders", 0,
		func(context.Context, models.RequestContext, NoArgs) (any, error) {
			return OrdersResponse{Orders: OrdersForScenario("single")}, nil
		})
	require.NoError(t, err)
	require.NoError(t, NewRegistry().Register(d))

	out, err := d.Invoke(context.Background(), models.DefaultRequestContext(), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"orders":[{"id":"4001","customer":"Obi-Wan Kenobi","item":"Jedi Robe","quantity":1,"status":"shipped"}]}`, out)
}
