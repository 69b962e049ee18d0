package backend

import (
	"bufio"
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"regexp"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

// testSSHServer is an in-process SSH server that answers exec requests from
// a command table and serves the netconf subsystem from an RPC handler.
type testSSHServer struct {
	addr     netip.AddrPort
	hostKey  ssh.PublicKey
	commands map[string]string
	rpc      func(rpc string) string
}

func startTestSSHServer(t *testing.T, commands map[string]string, rpc func(string) string) *testSSHServer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "admin" && string(pass) == "cisco" {
				return nil, nil
			}
			return nil, fmt.Errorf("denied")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	srv := &testSSHServer{
		addr:     netip.MustParseAddrPort(ln.Addr().String()),
		hostKey:  signer.PublicKey(),
		commands: commands,
		rpc:      rpc,
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.serveConn(conn, cfg)
		}
	}()
	return srv
}

func (s *testSSHServer) serveConn(conn net.Conn, cfg *ssh.ServerConfig) {
	defer conn.Close()
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)
	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go s.serveSession(ch, chReqs)
	}
}

func (s *testSSHServer) serveSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()
	for req := range reqs {
		switch req.Type {
		case "exec":
			cmd := sshString(req.Payload)
			req.Reply(true, nil)
			out, ok := s.commands[cmd]
			status := uint32(0)
			if !ok {
				out = "% Invalid input detected at '^' marker.\n"
				status = 1
			}
			io.WriteString(ch, out)
			ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
			return
		case "subsystem":
			if sshString(req.Payload) != "netconf" || s.rpc == nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			s.serveNetconf(ch)
			return
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func (s *testSSHServer) serveNetconf(ch ssh.Channel) {
	io.WriteString(ch, `<hello xmlns="urn:ietf:params:xml:ns:netconf:base:1.0"><capabilities>`+
		`<capability>urn:ietf:params:netconf:base:1.0</capability></capabilities><session-id>7</session-id></hello>`+eomDelimiter)
	r := bufio.NewReader(ch)
	if _, err := readEOMFrame(r); err != nil {
		return
	}
	for {
		frame, err := readEOMFrame(r)
		if err != nil {
			return
		}
		rpc := string(frame)
		id := ""
		if m := messageIDPattern.FindStringSubmatch(rpc); m != nil {
			id = m[1]
		}
		reply := `<rpc-reply xmlns="urn:ietf:params:xml:ns:netconf:base:1.0"><ok/></rpc-reply>`
		closing := strings.Contains(rpc, "close-session")
		if !closing {
			reply = s.rpc(rpc)
		}
		reply = strings.Replace(reply, "<rpc-reply", `<rpc-reply message-id="`+id+`"`, 1)
		io.WriteString(ch, reply+eomDelimiter)
		if closing {
			return
		}
	}
}

const eomDelimiter = "]]>]]>"

var messageIDPattern = regexp.MustCompile(`message-id="([^"]*)"`)

// readEOMFrame reads one base:1.0 message and strips the end-of-message marker.
func readEOMFrame(r *bufio.Reader) ([]byte, error) {
	var buf bytes.Buffer
	for {
		chunk, err := r.ReadBytes('>')
		buf.Write(chunk)
		if bytes.HasSuffix(buf.Bytes(), []byte(eomDelimiter)) {
			return bytes.TrimSpace(buf.Bytes()[:buf.Len()-len(eomDelimiter)]), nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}

func sshString(payload []byte) string {
	if len(payload) < 4 {
		return ""
	}
	n := binary.BigEndian.Uint32(payload)
	if int(n) > len(payload)-4 {
		return ""
	}
	return string(payload[4 : 4+n])
}
