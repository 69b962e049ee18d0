package backend

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/nemith/netconf"
	ncssh "github.com/nemith/netconf/transport/ssh"
	"golang.org/x/crypto/ssh"

	"netopsbot/internal/domain"
)

const (
	netconfBaseNS    = "urn:ietf:params:xml:ns:netconf:base:1.0"
	ietfInterfacesNS = "urn:ietf:params:xml:ns:yang:ietf-interfaces"
)

type NETCONFConfig struct {
	Credentials     Credentials
	Port            int // 830 by default
	Timeout         time.Duration
	HostKeyCallback ssh.HostKeyCallback
	Loopback        Loopback
	Logger          *slog.Logger
}

// netconfSession exchanges RPCs with one device.
type netconfSession interface {
	// Call sends op as the body of an <rpc> and decodes the whole
	// <rpc-reply> into reply. rpc-error elements are left to the caller.
	Call(ctx context.Context, op string, reply any) error
	Close(ctx context.Context) error
}

// NETCONF manages the loopback with edit-config/get RPCs over the SSH
// "netconf" subsystem. Framing and capability exchange are handled by
// github.com/nemith/netconf.
type NETCONF struct {
	cfg    NETCONFConfig
	logger *slog.Logger
	dial   func(ctx context.Context, target netip.Addr) (netconfSession, error)
}

var _ domain.ConfigBackend = (*NETCONF)(nil)

func NewNETCONF(cfg NETCONFConfig) *NETCONF {
	if cfg.Port <= 0 {
		cfg.Port = 830
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HostKeyCallback == nil {
		cfg.HostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec
	}
	if cfg.Loopback.Description == "" {
		cfg.Loopback.Description = "Created via NETCONF"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	n := &NETCONF{cfg: cfg, logger: cfg.Logger.With("backend", "netconf")}
	n.dial = n.dialSSH
	return n
}

func (n *NETCONF) Name() string { return string(domain.ProtocolNETCONF) }

func (n *NETCONF) Create(ctx context.Context, target netip.Addr) (domain.BackendResult, error) {
	lo := n.cfg.Loopback
	config := fmt.Sprintf(`<interfaces xmlns="%s"><interface><name>%s</name><description>%s</description>`+
		`<type xmlns:ianaift="urn:ietf:params:xml:ns:yang:iana-if-type">ianaift:softwareLoopback</type>`+
		`<enabled>true</enabled><ipv4 xmlns="urn:ietf:params:xml:ns:yang:ietf-ip"><address><ip>%s</ip><netmask>%s</netmask></address></ipv4>`+
		`</interface></interfaces>`,
		ietfInterfacesNS, escapeXML(lo.Name), escapeXML(lo.Description), escapeXML(lo.IP), escapeXML(lo.Netmask))
	return n.editConfig(ctx, target, config,
		fmt.Sprintf("Interface %s created successfully by using Netconf.", lo.ID),
		"Create failed using Netconf.")
}

func (n *NETCONF) Delete(ctx context.Context, target netip.Addr) (domain.BackendResult, error) {
	lo := n.cfg.Loopback
	config := fmt.Sprintf(`<interfaces xmlns="%s"><interface xmlns:nc="%s" nc:operation="delete"><name>%s</name></interface></interfaces>`,
		ietfInterfacesNS, netconfBaseNS, escapeXML(lo.Name))
	return n.editConfig(ctx, target, config,
		fmt.Sprintf("Interface Loopback %s deleted successfully using Netconf.", lo.ID),
		fmt.Sprintf("Cannot delete: Interface loopback %s using Netconf.", lo.ID))
}

func (n *NETCONF) Enable(ctx context.Context, target netip.Addr) (domain.BackendResult, error) {
	id := n.cfg.Loopback.ID
	return n.editConfig(ctx, target, n.enabledConfig(true),
		fmt.Sprintf("Interface loopback %s enabled successfully (check by Netconf).", id),
		fmt.Sprintf("Cannot enable : Interface loopback %s (check by Netconf).", id))
}

func (n *NETCONF) Disable(ctx context.Context, target netip.Addr) (domain.BackendResult, error) {
	id := n.cfg.Loopback.ID
	return n.editConfig(ctx, target, n.enabledConfig(false),
		fmt.Sprintf("Interface loopback %s shutdowned successfully (check by Netconf).", id),
		fmt.Sprintf("Cannot shutdown : Interface loopback %s (check by Netconf).", id))
}

func (n *NETCONF) enabledConfig(enabled bool) string {
	return fmt.Sprintf(`<interfaces xmlns="%s"><interface><name>%s</name><enabled>%t</enabled></interface></interfaces>`,
		ietfInterfacesNS, escapeXML(n.cfg.Loopback.Name), enabled)
}

func (n *NETCONF) Status(ctx context.Context, target netip.Addr) (domain.BackendResult, error) {
	id := n.cfg.Loopback.ID
	filter := fmt.Sprintf(`<get><filter type="subtree"><interfaces-state xmlns="%s"><interface><name>%s</name></interface></interfaces-state></filter></get>`,
		ietfInterfacesNS, escapeXML(n.cfg.Loopback.Name))

	reply, err := n.call(ctx, target, filter)
	if err != nil {
		return domain.BackendResult{}, err
	}
	if len(reply.Errors) > 0 {
		n.logger.Warn("netconf get rejected", "reason", reply.Errors[0].Message)
		return domain.Failed(fmt.Sprintf("Cannot get status : Interface loopback %s (check by Netconf).", id)), nil
	}

	var iface *interfaceState
	for i := range reply.Data.InterfacesState.Interfaces {
		if reply.Data.InterfacesState.Interfaces[i].Name == n.cfg.Loopback.Name {
			iface = &reply.Data.InterfacesState.Interfaces[i]
			break
		}
	}
	if iface == nil {
		return domain.Ok(fmt.Sprintf("No Interface loopback %s (check by Netconf).", id)), nil
	}

	switch {
	case iface.AdminStatus == "up" && iface.OperStatus == "up":
		return domain.Ok(fmt.Sprintf("Interface loopback %s is currently enabled (check by Netconf).", id)), nil
	case iface.AdminStatus == "down" && iface.OperStatus == "down":
		return domain.Ok(fmt.Sprintf("Interface loopback %s is currently disabled (check by Netconf).", id)), nil
	default:
		return domain.Failed(fmt.Sprintf("Cannot get status : Interface loopback %s (check by Netconf).", id)), nil
	}
}

func (n *NETCONF) editConfig(ctx context.Context, target netip.Addr, config, okMsg, failMsg string) (domain.BackendResult, error) {
	op := `<edit-config><target><running/></target><config>` + config + `</config></edit-config>`
	reply, err := n.call(ctx, target, op)
	if err != nil {
		return domain.BackendResult{}, err
	}
	if reply.OK == nil {
		if len(reply.Errors) > 0 {
			n.logger.Warn("netconf edit-config rejected", "reason", reply.Errors[0].Message, "tag", reply.Errors[0].Tag)
		}
		return domain.Failed(failMsg), nil
	}
	return domain.Ok(okMsg), nil
}

func (n *NETCONF) call(ctx context.Context, target netip.Addr, op string) (*rpcReply, error) {
	sess, err := n.dial(ctx, target)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := sess.Close(ctx); err != nil {
			n.logger.Debug("netconf close", "target", target, "err", err)
		}
	}()

	var reply rpcReply
	if err := sess.Call(ctx, op, &reply); err != nil {
		return nil, fmt.Errorf("netconf rpc: %w", err)
	}
	return &reply, nil
}

type rpcReply struct {
	OK     *struct{}  `xml:"ok"`
	Errors []rpcError `xml:"rpc-error"`
	Data   struct {
		InterfacesState struct {
			Interfaces []interfaceState `xml:"interface"`
		} `xml:"interfaces-state"`
	} `xml:"data"`
}

type rpcError struct {
	Tag     string `xml:"error-tag"`
	Message string `xml:"error-message"`
}

type interfaceState struct {
	Name        string `xml:"name"`
	AdminStatus string `xml:"admin-status"`
	OperStatus  string `xml:"oper-status"`
}

func escapeXML(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// --- SSH transport ---

// closeTimeout bounds the close-session exchange.
const closeTimeout = 5 * time.Second

type sshNetconfSession struct {
	client *ssh.Client
	sess   *netconf.Session
	stop   func() bool
}

func (n *NETCONF) dialSSH(ctx context.Context, target netip.Addr) (netconfSession, error) {
	addr := net.JoinHostPort(target.String(), strconv.Itoa(n.cfg.Port))
	client, conn, err := dialSSH(ctx, addr, n.cfg.Credentials, n.cfg.HostKeyCallback, n.cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("netconf connect %s: %w", addr, err)
	}

	s := &sshNetconfSession{client: client}
	// Closing the connection unblocks any pending read when ctx ends.
	s.stop = context.AfterFunc(ctx, func() { conn.Close() })

	tr, err := ncssh.NewTransport(client)
	if err != nil {
		s.Close(ctx)
		return nil, fmt.Errorf("netconf subsystem %s: %w", addr, err)
	}
	if s.sess, err = netconf.Open(tr); err != nil {
		tr.Close()
		s.Close(ctx)
		return nil, fmt.Errorf("netconf hello %s: %w", addr, err)
	}
	return s, nil
}

func (s *sshNetconfSession) Call(ctx context.Context, op string, reply any) error {
	r, err := s.sess.Do(ctx, op)
	if err != nil {
		return err
	}
	return r.Decode(reply)
}

func (s *sshNetconfSession) Close(ctx context.Context) error {
	var err error
	if s.sess != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		err = s.sess.Close(ctx)
		cancel()
	}
	if s.stop != nil {
		s.stop()
	}
	return errors.Join(err, s.client.Close())
}
