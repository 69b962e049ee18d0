package backend

import (
	"context"
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"netopsbot/internal/extract"
)

type fakeRunner struct {
	outputs  map[string]string
	err      error
	commands []string
}

func (f *fakeRunner) Run(_ context.Context, _ netip.Addr, command string) (string, error) {
	f.commands = append(f.commands, command)
	if f.err != nil {
		return "", f.err
	}
	return f.outputs[command], nil
}

func newTestSSHCLI(t *testing.T, runner commandRunner) *SSHCLI {
	t.Helper()
	ext, err := extract.New("", nil)
	if err != nil {
		t.Fatal(err)
	}
	cli := NewSSHCLI(SSHCLIConfig{Extractor: ext})
	cli.runner = runner
	return cli
}

const ipIntBrief = `Interface              IP-Address      OK? Method Status                Protocol
GigabitEthernet1       10.0.15.181     YES DHCP   up                    up
GigabitEthernet2       unassigned      YES unset  administratively down down
GigabitEthernet3       unassigned      YES unset  down                  down
GigabitEthernet4       unassigned      YES unset  up                    up
Loopback66070112       172.1.12.1      YES manual up                    up
`

func TestSSHCLI_InterfaceSummary(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{"show ip interface brief": ipIntBrief}}
	cli := newTestSSHCLI(t, runner)

	res, err := cli.InterfaceSummary(context.Background(), testTarget)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	want := "GigabitEthernet1 up, GigabitEthernet2 administratively down, GigabitEthernet3 down, GigabitEthernet4 up -> 2 up, 1 down, 1 administratively down"
	if !res.Success || res.Message != want {
		t.Fatalf("got %q, want %q", res.Message, want)
	}
	if len(runner.commands) != 1 || runner.commands[0] != "show ip interface brief" {
		t.Fatalf("unexpected commands %v", runner.commands)
	}
}

func TestSSHCLI_InterfaceSummary_NoGigabit(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{"show ip interface brief": "Loopback0  1.1.1.1  YES manual up  up\n"}}
	res, err := newTestSSHCLI(t, runner).InterfaceSummary(context.Background(), testTarget)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	want := "No GigabitEthernet interfaces found -> 0 up, 0 down, 0 administratively down"
	if res.Message != want {
		t.Fatalf("got %q, want %q", res.Message, want)
	}
}

func TestSSHCLI_FetchBanner(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{"show banner motd": "\nAuthorized access only\n"}}
	res, err := newTestSSHCLI(t, runner).FetchBanner(context.Background(), testTarget)
	if err != nil {
		t.Fatalf("banner: %v", err)
	}
	if !res.Success || res.Message != "Authorized access only" {
		t.Fatalf("unexpected result %+v", res)
	}

	runner = &fakeRunner{outputs: map[string]string{"show banner motd": "\n"}}
	res, _ = newTestSSHCLI(t, runner).FetchBanner(context.Background(), testTarget)
	if res.Success || res.Message != "Error: No MOTD configured." {
		t.Fatalf("unexpected empty-banner result %+v", res)
	}
}

func TestSSHCLI_RunnerErrorPropagates(t *testing.T) {
	runner := &fakeRunner{err: errors.New("connection refused")}
	cli := newTestSSHCLI(t, runner)
	if _, err := cli.InterfaceSummary(context.Background(), testTarget); err == nil {
		t.Fatal("expected error from summary")
	}
	if _, err := cli.FetchBanner(context.Background(), testTarget); err == nil {
		t.Fatal("expected error from banner")
	}
}

func TestSSHCLI_OverSSH(t *testing.T) {
	srv := startTestSSHServer(t, map[string]string{"show ip interface brief": ipIntBrief}, nil)
	ext, _ := extract.New("", nil)
	cli := NewSSHCLI(SSHCLIConfig{
		Credentials:     Credentials{Username: "admin", Password: "cisco"},
		Port:            int(srv.addr.Port()),
		HostKeyCallback: ssh.FixedHostKey(srv.hostKey),
		Extractor:       ext,
	})

	res, err := cli.InterfaceSummary(context.Background(), srv.addr.Addr())
	if err != nil {
		t.Fatalf("summary over ssh: %v", err)
	}
	if res.Message == "" || res.Message[:16] != "GigabitEthernet1" {
		t.Fatalf("unexpected summary %q", res.Message)
	}

	// Unknown commands exit non-zero on the test server.
	if _, err := cli.FetchBanner(context.Background(), srv.addr.Addr()); err == nil {
		t.Fatal("expected error for failing command")
	}
}

func TestHostKeyCallback(t *testing.T) {
	if _, err := HostKeyCallback("", true); err != nil {
		t.Fatalf("insecure policy: %v", err)
	}
	if _, err := HostKeyCallback("", false); err == nil {
		t.Fatal("expected error without any policy")
	}
	if _, err := HostKeyCallback(filepath.Join(t.TempDir(), "missing"), false); err == nil {
		t.Fatal("expected error for missing known_hosts")
	}

	srv := startTestSSHServer(t, map[string]string{"show banner motd": "hello\n"}, nil)
	path := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(srv.addr.String())}, srv.hostKey)
	if err := os.WriteFile(path, []byte(line+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cb, err := HostKeyCallback(path, false)
	if err != nil {
		t.Fatalf("known hosts: %v", err)
	}

	ext, _ := extract.New("", nil)
	cli := NewSSHCLI(SSHCLIConfig{
		Credentials:     Credentials{Username: "admin", Password: "cisco"},
		Port:            int(srv.addr.Port()),
		HostKeyCallback: cb,
		Extractor:       ext,
	})
	res, err := cli.FetchBanner(context.Background(), srv.addr.Addr())
	if err != nil {
		t.Fatalf("banner with known hosts: %v", err)
	}
	if res.Message != "hello" {
		t.Fatalf("unexpected banner %q", res.Message)
	}
}
