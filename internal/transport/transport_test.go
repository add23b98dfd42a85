package transport

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaelstrom/tradecore/internal/clock"
	"github.com/kaelstrom/tradecore/internal/planner"
	"github.com/kaelstrom/tradecore/internal/signal"
	"github.com/kaelstrom/tradecore/pkg/canonjson"
)

type stubHandler struct {
	prepareResult planner.PrepareResult
	confirmResult planner.ConfirmResult
}

func (h stubHandler) Prepare(sig signal.Signal) planner.PrepareResult          { return h.prepareResult }
func (h stubHandler) Confirm(ctx context.Context, sig signal.Signal) planner.ConfirmResult { return h.confirmResult }
func (h stubHandler) Abort(sig signal.Signal) map[string]any                  { return map[string]any{"status": "aborted"} }

func sign(t *testing.T, secret []byte, sig signal.Signal) string {
	t.Helper()
	body, err := canonjson.Marshal(sig)
	require.NoError(t, err)
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func startTestServer(t *testing.T, handler Handler, maxConns int) (*Server, string, []byte) {
	t.Helper()
	secret := []byte("test-secret")
	socketPath := filepath.Join(t.TempDir(), "exec.sock")

	srv := New(Config{SocketPath: socketPath, Secret: secret, MaxConnections: maxConns}, handler, nil, clock.Real{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(socketPath)
		return err == nil
	}, time.Second, 10*time.Millisecond)

	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
		cancel()
	})
	return srv, socketPath, secret
}

func sendLine(t *testing.T, socketPath string, env inboundEnvelope) map[string]any {
	t.Helper()
	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	b, err := json.Marshal(env)
	require.NoError(t, err)
	_, err = conn.Write(append(b, '\n'))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)

	var reply map[string]any
	require.NoError(t, json.Unmarshal(line, &reply))
	return reply
}

func TestServer_ValidSignature_RoutesToHandler(t *testing.T) {
	handler := stubHandler{prepareResult: planner.PrepareResult{Status: "prepared", PositionSize: 20}}
	_, socketPath, secret := startTestServer(t, handler, DefaultMaxConnections)

	sig := signal.Signal{SignalID: "sig-1", Kind: signal.KindPrepare, Symbol: "BTCUSDT"}
	env := inboundEnvelope{Signal: sig, Signature: sign(t, secret, sig)}

	reply := sendLine(t, socketPath, env)
	assert.Equal(t, "prepared", reply["status"])
	assert.Contains(t, reply, "ipc_latency_ms")
}

func TestServer_InvalidSignature_Rejected(t *testing.T) {
	handler := stubHandler{}
	_, socketPath, _ := startTestServer(t, handler, DefaultMaxConnections)

	sig := signal.Signal{SignalID: "sig-2", Kind: signal.KindPrepare, Symbol: "BTCUSDT"}
	env := inboundEnvelope{Signal: sig, Signature: "deadbeef"}

	reply := sendLine(t, socketPath, env)
	assert.Equal(t, true, reply["rejected"])
	assert.Equal(t, ReasonInvalidSignature, reply["reason"])
}

func TestServer_MalformedJSON_IPCError(t *testing.T) {
	_, socketPath, _ := startTestServer(t, stubHandler{}, DefaultMaxConnections)

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("not json\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)

	var reply map[string]any
	require.NoError(t, json.Unmarshal(line, &reply))
	assert.Equal(t, ReasonIPCError, reply["reason"])
}

func TestServer_ConfirmAndAbort_RouteCorrectly(t *testing.T) {
	handler := stubHandler{confirmResult: planner.ConfirmResult{Executed: true, FillPrice: 50000}}
	_, socketPath, secret := startTestServer(t, handler, DefaultMaxConnections)

	sig := signal.Signal{SignalID: "sig-3", Kind: signal.KindConfirm, Symbol: "BTCUSDT"}
	reply := sendLine(t, socketPath, inboundEnvelope{Signal: sig, Signature: sign(t, secret, sig)})
	assert.Equal(t, true, reply["executed"])

	abortSig := signal.Signal{SignalID: "sig-3", Kind: signal.KindAbort, Symbol: "BTCUSDT"}
	reply = sendLine(t, socketPath, inboundEnvelope{Signal: abortSig, Signature: sign(t, secret, abortSig)})
	assert.Equal(t, "aborted", reply["status"])
}

func TestServer_MaxConnectionsReached(t *testing.T) {
	_, socketPath, _ := startTestServer(t, stubHandler{}, 1)

	blocker, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer blocker.Close()

	require.Eventually(t, func() bool {
		conn, err := net.Dial("unix", socketPath)
		if err != nil {
			return false
		}
		defer conn.Close()
		reader := bufio.NewReader(conn)
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return false
		}
		var reply map[string]any
		_ = json.Unmarshal(line, &reply)
		return reply["reason"] == ReasonMaxConnectionsReached
	}, time.Second, 10*time.Millisecond)
}
