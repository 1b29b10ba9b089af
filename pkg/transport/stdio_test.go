package transport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// echoScript is a tiny line-delimited JSON-RPC responder: it extracts the
// numeric id from each request line and answers with a canned result keyed
// by method, mirroring the contract StdioBackend expects from a real child
// MCP server.
const echoScript = `
while IFS= read -r line; do
  id=$(echo "$line" | grep -o '"id":[0-9]*' | grep -o '[0-9]*')
  case "$line" in
    *'"method":"initialize"'*)
      echo "{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{\"protocolVersion\":\"2025-11-25\",\"capabilities\":{}}}" ;;
    *'"method":"tools/list"'*)
      echo "{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{\"tools\":[{\"name\":\"echo\"}]}}" ;;
    *)
      echo "{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{\"content\":[{\"type\":\"text\",\"text\":\"pong\"}]}}" ;;
  esac
done
`

func newEchoStdioBackend(t *testing.T) *StdioBackend {
	t.Helper()
	return NewStdioBackend(Config{Name: "echo", Command: "sh", Args: []string{"-c", echoScript}}, zap.NewNop())
}

func TestStdioBackend_InitializeListsTools(t *testing.T) {
	t.Parallel()
	b := newEchoStdioBackend(t)
	defer b.Shutdown(context.Background())

	initResult, tools, err := b.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2025-11-25", initResult.ProtocolVersion)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name)
	assert.True(t, b.IsAlive())
}

func TestStdioBackend_Call_ReturnsResult(t *testing.T) {
	t.Parallel()
	b := newEchoStdioBackend(t)
	defer b.Shutdown(context.Background())

	raw, err := b.Call(context.Background(), "tools/call", json.RawMessage(`{"name":"echo"}`))
	require.NoError(t, err)

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Len(t, result.Content, 1)
	assert.Equal(t, "pong", result.Content[0].Text)
}

func TestStdioBackend_Call_TimesOutWhenContextExpires(t *testing.T) {
	t.Parallel()
	b := NewStdioBackend(Config{Name: "slow", Command: "sh", Args: []string{"-c", "sleep 5; " + echoScript}}, zap.NewNop())
	defer b.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := b.Call(ctx, "tools/call", json.RawMessage(`{}`))
	require.Error(t, err)
}

func TestStdioBackend_Shutdown_MarksNotAlive(t *testing.T) {
	t.Parallel()
	b := newEchoStdioBackend(t)
	_, _, err := b.Initialize(context.Background())
	require.NoError(t, err)
	require.True(t, b.IsAlive())

	require.NoError(t, b.Shutdown(context.Background()))
	// waitExit observes the killed process asynchronously.
	assert.Eventually(t, func() bool { return !b.IsAlive() }, time.Second, 10*time.Millisecond)
}

func TestStdioBackend_MaybeIdleShutdown_TerminatesAfterTimeout(t *testing.T) {
	t.Parallel()
	b := NewStdioBackend(Config{Name: "echo", Command: "sh", Args: []string{"-c", echoScript}, IdleTimeout: 20 * time.Millisecond}, zap.NewNop())
	_, _, err := b.Initialize(context.Background())
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)
	b.MaybeIdleShutdown(context.Background())
	assert.Eventually(t, func() bool { return !b.IsAlive() }, time.Second, 10*time.Millisecond)
}
