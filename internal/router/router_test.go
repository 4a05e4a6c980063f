package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexo-dev/plexo/internal/protocol"
)

func testRouter() *Router {
	return New([]Route{
		{Pattern: "claude-3-5-sonnet", TargetModel: "gpt-4o-mini", BaseURL: "https://openai.example/v1"},
		{Pattern: "claude-*", TargetModel: "gpt-4o", BaseURL: "https://openai.example/v1"},
		{Pattern: "*", TargetModel: "llama-3.1-70b", BaseURL: "https://local.example/v1"},
	})
}

func TestResolve_ExactBeatsGlob(t *testing.T) {
	r := testRouter()
	got, perr := r.Resolve("claude-3-5-sonnet")
	require.Nil(t, perr)
	assert.Equal(t, "gpt-4o-mini", got.TargetModel)
}

func TestResolve_GlobPrefix(t *testing.T) {
	r := testRouter()
	got, perr := r.Resolve("claude-3-opus")
	require.Nil(t, perr)
	assert.Equal(t, "gpt-4o", got.TargetModel)
}

func TestResolve_CatchAll(t *testing.T) {
	r := testRouter()
	got, perr := r.Resolve("mistral-large")
	require.Nil(t, perr)
	assert.Equal(t, "llama-3.1-70b", got.TargetModel)
}

func TestResolve_LongestGlobWins(t *testing.T) {
	r := New([]Route{
		{Pattern: "claude-*", TargetModel: "short", BaseURL: "https://a.example"},
		{Pattern: "claude-3-*", TargetModel: "long", BaseURL: "https://b.example"},
	})
	got, perr := r.Resolve("claude-3-opus")
	require.Nil(t, perr)
	assert.Equal(t, "long", got.TargetModel)
}

func TestResolve_NoMatch(t *testing.T) {
	r := New([]Route{{Pattern: "claude-*", TargetModel: "x", BaseURL: "https://a.example"}})
	_, perr := r.Resolve("gpt-4o")
	require.NotNil(t, perr)
	assert.Equal(t, protocol.ErrNotFound, perr.Kind)
}

func TestResolve_EmptyTargetPassesModelThrough(t *testing.T) {
	r := New([]Route{{Pattern: "*", BaseURL: "https://a.example"}})
	got, perr := r.Resolve("gpt-4o")
	require.Nil(t, perr)
	assert.Equal(t, "gpt-4o", got.TargetModel)
}

func TestReload_SwapsTable(t *testing.T) {
	r := testRouter()
	r.Reload([]Route{{Pattern: "*", TargetModel: "new-target", BaseURL: "https://new.example"}})
	got, perr := r.Resolve("claude-3-5-sonnet")
	require.Nil(t, perr)
	assert.Equal(t, "new-target", got.TargetModel)
}
