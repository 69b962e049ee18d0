package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"netopsbot/internal/config"
	"netopsbot/internal/extract"
	"netopsbot/internal/session"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const probeTimeout = 3 * time.Second

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor [device-ip]",
		Short: "Run diagnostic checks on your netopsbot installation",
		Long: `Verifies that netopsbot's configuration, Ansible setup, session store and
extraction templates are usable. With a device address, also checks that the
RESTCONF, NETCONF and SSH ports answer.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var target string
			if len(args) == 1 {
				target = args[0]
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			d := &doctor{out: cmd.OutOrStdout()}
			d.run(ctx, resolveConfigPath(), target)
			if d.failed > 0 {
				fmt.Fprintf(d.out, "\nPlease fix the failed checks before running netopsbot.\n")
				return fmt.Errorf("%d check(s) failed", d.failed)
			}
			if d.warned > 0 {
				fmt.Fprintf(d.out, "\nnetopsbot should work but consider fixing the warnings.\n")
			} else {
				fmt.Fprintf(d.out, "\nAll checks passed! netopsbot is ready to run.\n")
			}
			return nil
		},
	}
}

type doctor struct {
	out                    io.Writer
	passed, failed, warned int
}

func (d *doctor) run(ctx context.Context, cfgPath, target string) {
	fmt.Fprintf(d.out, "netopsbot doctor v%s\n", version)
	fmt.Fprintf(d.out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	defer func() {
		fmt.Fprintf(d.out, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
		fmt.Fprintf(d.out, "Results: %d passed, %d warnings, %d failed\n", d.passed, d.warned, d.failed)
	}()

	// 1. Config file exists
	if _, err := os.Stat(cfgPath); err != nil {
		d.fail("Config file", fmt.Sprintf("not found at %s (run 'netopsbot init')", cfgPath))
		return
	}
	d.pass("Config file", cfgPath)

	// 2. Config loads and validates
	cfg, err := config.Load(cfgPath)
	if err != nil {
		d.fail("Config validation", err.Error())
		return
	}
	d.pass("Config validation", "valid")

	// 3. Device credentials
	if cfg.Device.Password == "" {
		d.warn("Device credentials", "device.password is empty")
	} else {
		d.pass("Device credentials", cfg.Device.Username)
	}

	// 4. Ansible binary and playbook files
	if path, err := exec.LookPath(cfg.Playbook.Binary); err != nil {
		d.fail("Ansible", fmt.Sprintf("%s not found in PATH", cfg.Playbook.Binary))
	} else {
		d.pass("Ansible", path)
	}
	pb := cfg.Playbook
	for _, f := range []struct{ name, path string }{
		{"Inventory", pb.InventoryTemplate},
		{"ansible.cfg", pb.AnsibleConfig},
		{"Backup playbook", pb.BackupPlaybook},
		{"MOTD get playbook", pb.MotdGetPlaybook},
		{"MOTD set playbook", pb.MotdSetPlaybook},
	} {
		if f.path == "" {
			d.warn(f.name, "not configured")
			continue
		}
		p := f.path
		if !filepath.IsAbs(p) {
			p = filepath.Join(pb.Dir, p)
		}
		if _, err := os.Stat(p); err != nil {
			d.fail(f.name, fmt.Sprintf("not found: %s", p))
		} else {
			d.pass(f.name, p)
		}
	}

	// 5. Extraction templates
	if eng, err := extract.New(cfg.Extract.TemplatesFile, logger); err != nil {
		d.fail("Templates", err.Error())
	} else {
		d.pass("Templates", fmt.Sprintf("%d loaded", len(eng.Names())))
	}

	// 6. Session store reachable
	if err := checkSession(ctx, cfg); err != nil {
		d.fail("Session store", err.Error())
	} else {
		d.pass("Session store", cfg.Session.Backend)
	}

	// 7. Log file writable
	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
			d.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
		} else {
			d.pass("Log file", cfg.General.LogFile)
		}
	}

	// 8. Metrics port
	if cfg.Metrics.Enabled {
		if err := checkListen(cfg.Metrics.Addr); err != nil {
			d.warn("Metrics", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Addr, err))
		} else {
			d.pass("Metrics", cfg.Metrics.Addr+" available")
		}
	}

	// 9. Device reachability
	if target == "" {
		return
	}
	addr, err := netip.ParseAddr(target)
	if err != nil || !addr.Is4() {
		d.fail("Device", fmt.Sprintf("%q is not an IPv4 address", target))
		return
	}
	for _, r := range probeDevice(ctx, addr, devicePorts(cfg)) {
		name := fmt.Sprintf("%s port %d", r.name, r.port)
		if r.err != nil {
			d.fail(name, r.err.Error())
		} else {
			d.pass(name, fmt.Sprintf("reachable in %s", r.elapsed.Round(time.Millisecond)))
		}
	}
}

type portCheck struct {
	name string
	port int
}

type probeResult struct {
	portCheck
	elapsed time.Duration
	err     error
}

func devicePorts(cfg *config.Config) []portCheck {
	restconfPort := cfg.RESTCONF.Port
	if restconfPort == 0 {
		restconfPort = 443
		if cfg.RESTCONF.Scheme == "http" {
			restconfPort = 80
		}
	}
	return []portCheck{
		{"RESTCONF", restconfPort},
		{"NETCONF", cfg.NETCONF.Port},
		{"SSH", cfg.SSH.Port},
	}
}

// probeDevice dials every port concurrently. Results keep the input order.
// The group is only a fan-out: each probe keeps its own error so one closed
// port never cancels the others.
func probeDevice(ctx context.Context, addr netip.Addr, ports []portCheck) []probeResult {
	results := make([]probeResult, len(ports))
	var g errgroup.Group
	for i, pc := range ports {
		g.Go(func() error {
			start := time.Now()
			dialer := net.Dialer{Timeout: probeTimeout}
			conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(addr.String(), strconv.Itoa(pc.port)))
			if err == nil {
				conn.Close()
			}
			results[i] = probeResult{portCheck: pc, elapsed: time.Since(start), err: err}
			return nil
		})
	}
	g.Wait()
	return results
}

func checkSession(ctx context.Context, cfg *config.Config) error {
	if cfg.Session.Backend == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.Session.DBPath), 0o755); err != nil {
			return fmt.Errorf("cannot create database directory: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	store, err := session.Open(ctx, cfg.Session, cfg.General.DeviceID, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if _, err := store.LastProtocol(ctx); err != nil {
		return fmt.Errorf("cannot read: %w", err)
	}
	return nil
}

func checkListen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func (d *doctor) pass(check, detail string) {
	d.passed++
	fmt.Fprintf(d.out, "  [PASS] %-20s %s\n", check, detail)
}

func (d *doctor) fail(check, detail string) {
	d.failed++
	fmt.Fprintf(d.out, "  [FAIL] %-20s %s\n", check, detail)
}

func (d *doctor) warn(check, detail string) {
	d.warned++
	fmt.Fprintf(d.out, "  [WARN] %-20s %s\n", check, detail)
}
