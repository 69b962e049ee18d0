package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"netopsbot/internal/domain"
	"netopsbot/internal/extract"
)

type SSHCLIConfig struct {
	Credentials     Credentials
	Port            int // 22 by default
	Timeout         time.Duration
	HostKeyCallback ssh.HostKeyCallback
	Extractor       domain.Extractor
	Logger          *slog.Logger
}

// commandRunner executes one exec-mode command and returns its output.
type commandRunner interface {
	Run(ctx context.Context, target netip.Addr, command string) (string, error)
}

// SSHCLI runs show commands on the device and summarizes the output.
type SSHCLI struct {
	runner    commandRunner
	extractor domain.Extractor
	logger    *slog.Logger
}

var _ domain.CLIBackend = (*SSHCLI)(nil)

func NewSSHCLI(cfg SSHCLIConfig) *SSHCLI {
	if cfg.Port <= 0 {
		cfg.Port = 22
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HostKeyCallback == nil {
		cfg.HostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SSHCLI{
		runner:    &sshRunner{cfg: cfg},
		extractor: cfg.Extractor,
		logger:    cfg.Logger.With("backend", "sshcli"),
	}
}

// InterfaceSummary reports every GigabitEthernet interface with its status
// followed by an up / down / administratively down tally.
func (c *SSHCLI) InterfaceSummary(ctx context.Context, target netip.Addr) (domain.BackendResult, error) {
	out, err := c.runner.Run(ctx, target, "show ip interface brief")
	if err != nil {
		return domain.BackendResult{}, err
	}
	records, err := c.extractor.Extract(out, extract.InterfaceBrief)
	if err != nil {
		return domain.BackendResult{}, err
	}

	var up, down, adminDown int
	var statuses []string
	for _, rec := range records {
		name := rec["interface"]
		if !strings.HasPrefix(name, "GigabitEthernet") {
			continue
		}
		status := strings.ToLower(rec["status"])
		switch status {
		case "administratively down":
			adminDown++
		case "up":
			up++
		case "down":
			down++
		case "":
			status = "unknown"
		}
		statuses = append(statuses, name+" "+status)
	}

	statusLine := "No GigabitEthernet interfaces found"
	if len(statuses) > 0 {
		statusLine = strings.Join(statuses, ", ")
	}
	c.logger.Debug("interface summary", "target", target, "interfaces", len(statuses))
	return domain.Ok(fmt.Sprintf("%s -> %d up, %d down, %d administratively down", statusLine, up, down, adminDown)), nil
}

func (c *SSHCLI) FetchBanner(ctx context.Context, target netip.Addr) (domain.BackendResult, error) {
	out, err := c.runner.Run(ctx, target, "show banner motd")
	if err != nil {
		return domain.BackendResult{}, err
	}
	records, err := c.extractor.Extract(out, extract.BannerMotd)
	if err != nil {
		return domain.BackendResult{}, err
	}
	banner := ""
	if len(records) > 0 {
		banner = strings.TrimSpace(records[0]["banner"])
	}
	if banner == "" {
		return domain.Failed("Error: No MOTD configured."), nil
	}
	return domain.Ok(banner), nil
}

// HostKeyCallback picks strict known_hosts checking when a file is given,
// otherwise accepts any key when insecure is set.
func HostKeyCallback(knownHostsFile string, insecure bool) (ssh.HostKeyCallback, error) {
	if knownHostsFile != "" {
		cb, err := knownhosts.New(knownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		return cb, nil
	}
	if insecure {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec
	}
	return nil, fmt.Errorf("no host key policy: set ssh.knownHostsFile or ssh.insecureHostKey")
}

type sshRunner struct {
	cfg SSHCLIConfig
}

func (r *sshRunner) Run(ctx context.Context, target netip.Addr, command string) (string, error) {
	addr := net.JoinHostPort(target.String(), strconv.Itoa(r.cfg.Port))
	client, conn, err := dialSSH(ctx, addr, r.cfg.Credentials, r.cfg.HostKeyCallback, r.cfg.Timeout)
	if err != nil {
		return "", fmt.Errorf("ssh connect %s: %w", addr, err)
	}
	defer client.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sess, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("ssh session %s: %w", addr, err)
	}
	defer sess.Close()

	out, err := sess.CombinedOutput(command)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("ssh %q: %w", command, ctx.Err())
		}
		return "", fmt.Errorf("ssh %q: %w", command, err)
	}
	return string(out), nil
}

// dialSSH opens an authenticated client. The returned conn carries a deadline
// of timeout so a hung device cannot stall the caller.
func dialSSH(ctx context.Context, addr string, creds Credentials, hostKey ssh.HostKeyCallback, timeout time.Duration) (*ssh.Client, net.Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		conn.Close()
		return nil, nil, err
	}

	password := creds.Password
	cfg := &ssh.ClientConfig{
		User: creds.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			// IOS often only offers keyboard-interactive.
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return ssh.NewClient(c, chans, reqs), conn, nil
}
