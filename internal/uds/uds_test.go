package uds

import (
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) (*Server, *Client) {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), DefaultSocketName)
	server := NewServer(socketPath, nil)
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Stop() })

	client := NewClient(socketPath)
	client.SetTimeout(2 * time.Second)
	return server, client
}

func TestRoundTripSuccess(t *testing.T) {
	server, client := startServer(t)

	type sendParams struct {
		Line     string `json:"line"`
		Priority bool   `json:"priority"`
	}
	server.Handle("send", func(req *Request) *Response {
		var params sendParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return ErrorResponse(ErrCodeValidation, err.Error())
		}
		return SuccessResponse(map[string]any{"queued": params.Line, "priority": params.Priority})
	})

	resp, err := client.SendCommand("send", sendParams{Line: "G28", Priority: true})
	require.NoError(t, err)
	require.True(t, resp.Success)

	var data map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, "G28", data["queued"])
	assert.Equal(t, true, data["priority"])
}

func TestUnknownCommand(t *testing.T) {
	_, client := startServer(t)

	resp, err := client.SendCommand("warp-drive", nil)
	require.NoError(t, err)
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeUnknownCommand, resp.Error.Code)
}

func TestProtocolVersionMismatch(t *testing.T) {
	server, client := startServer(t)
	server.Handle("ping", func(*Request) *Response { return SuccessResponse(nil) })

	resp, err := client.Send(&Request{ProtocolVersion: 99, Command: "ping"})
	require.NoError(t, err)
	require.False(t, resp.Success)
	assert.Equal(t, ErrCodeProtocolMismatch, resp.Error.Code)
}

func TestHandlerPanicClosesConnectionOnly(t *testing.T) {
	server, client := startServer(t)
	server.Handle("boom", func(*Request) *Response { panic("handler exploded") })
	server.Handle("ping", func(*Request) *Response { return SuccessResponse(nil) })

	// The panicking request fails at the transport level.
	_, err := client.SendCommand("boom", nil)
	assert.Error(t, err)

	// The server survives and keeps answering.
	resp, err := client.SendCommand("ping", nil)
	require.NoError(t, err)
	assert.True(t, resp.Success)
}

func TestErrorResponseCarriesCodeAndMessage(t *testing.T) {
	server, client := startServer(t)
	server.Handle("print", func(*Request) *Response {
		return ErrorResponse(ErrCodeNotFound, "no such spool file")
	})

	resp, err := client.SendCommand("print", map[string]string{"name": "missing.gcode"})
	require.NoError(t, err)
	require.False(t, resp.Success)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
	assert.Equal(t, "no such spool file", resp.Error.Message)
}

func TestClientFailsWhenDaemonIsDown(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "absent.sock"))
	client.SetTimeout(200 * time.Millisecond)

	_, err := client.SendCommand("ping", nil)
	assert.Error(t, err)
}

func TestOversizedFrameRejected(t *testing.T) {
	server, client := startServer(t)
	server.Handle("ping", func(*Request) *Response { return SuccessResponse(nil) })

	conn, err := net.DialTimeout("unix", client.socketPath, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	// Announce an absurd frame length; the server must drop the
	// connection instead of allocating.
	_, err = conn.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	require.NoError(t, err)

	var resp Response
	assert.Error(t, ReadFrame(conn, &resp))
}

func TestStaleSocketFileIsReplaced(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), DefaultSocketName)

	first := NewServer(socketPath, nil)
	require.NoError(t, first.Start())
	require.NoError(t, first.Stop())

	second := NewServer(socketPath, nil)
	require.NoError(t, second.Start())
	defer second.Stop()

	client := NewClient(socketPath)
	client.SetTimeout(time.Second)
	second.Handle("ping", func(*Request) *Response { return SuccessResponse(nil) })

	resp, err := client.SendCommand("ping", nil)
	require.NoError(t, err)
	assert.True(t, resp.Success)
}
