package session

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

const (
	testUser     = "bjorn"
	testPassword = "hunter2"
)

// execHandler services one exec request: it may read from and write to the
// channel and must arrange for the channel to terminate.
type execHandler func(command string, ch ssh.Channel)

// startTestServer runs a minimal in-process SSH server accepting password
// auth, exec requests and the sftp subsystem. Returns host and port.
func startTestServer(t *testing.T, handler execHandler) (string, int) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if meta.User() == testUser && string(pass) == testPassword {
				return nil, nil
			}

			return nil, fmt.Errorf("access denied for %s", meta.User())
		},
	}
	config.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, acceptErr := ln.Accept()
			if acceptErr != nil {
				return
			}

			go serveTestConn(conn, config, handler)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)

	return addr.IP.String(), addr.Port
}

func serveTestConn(conn net.Conn, config *ssh.ServerConfig, handler execHandler) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	defer sconn.Close()

	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}

		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}

		go serveTestChannel(ch, chReqs, handler)
	}
}

func serveTestChannel(ch ssh.Channel, reqs <-chan *ssh.Request, handler execHandler) {
	for req := range reqs {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }

			_ = ssh.Unmarshal(req.Payload, &payload)
			_ = req.Reply(true, nil)

			go handler(payload.Command, ch)
		case "subsystem":
			var payload struct{ Name string }

			_ = ssh.Unmarshal(req.Payload, &payload)

			if payload.Name != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}

			_ = req.Reply(true, nil)

			go func() {
				server, err := sftp.NewServer(ch)
				if err != nil {
					_ = ch.Close()
					return
				}

				_ = server.Serve()
				_ = ch.Close()
			}()
		case "pty-req", "env", "window-change":
			_ = req.Reply(true, nil)
		default:
			_ = req.Reply(false, nil)
		}
	}
}

// exitAndClose reports the exit status and hangs up, the way a real server
// ends an exec channel.
func exitAndClose(ch ssh.Channel, code int) {
	_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(code)}))
	_ = ch.Close()
}

// blockUntilClosed parks the handler until the client hangs up.
func blockUntilClosed(ch ssh.Channel) {
	_, _ = io.Copy(io.Discard, ch)
}
