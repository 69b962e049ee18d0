package backend

import (
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"netopsbot/internal/extract"
)

const inventoryTemplate = `[routers]
CSR1kv ansible_host=10.0.0.1 ansible_user=admin ansible_network_os=ios
`

// newTestPlaybook lays out a playbook directory and an executable stand-in
// for ansible-playbook running script.
func newTestPlaybook(t *testing.T, script string) (*Playbook, string) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "host"), []byte(inventoryTemplate), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "backups"), 0o755); err != nil {
		t.Fatal(err)
	}
	bin := filepath.Join(dir, "fake-ansible-playbook")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}

	ext, err := extract.New("", nil)
	if err != nil {
		t.Fatal(err)
	}
	return NewPlaybook(PlaybookConfig{
		Binary:            bin,
		Dir:               dir,
		InventoryTemplate: "host",
		AnsibleConfig:     "ansible.cfg",
		BackupFile:        "backups/show_run.txt",
		BackupPlaybook:    "playbooks/backup.yml",
		MotdGetPlaybook:   "playbooks/motd_get.yml",
		MotdSetPlaybook:   "playbooks/motd_set.yml",
		Timeout:           10 * time.Second,
		Extractor:         ext,
	}), dir
}

func TestPlaybook_ArchiveConfig(t *testing.T) {
	pb, dir := newTestPlaybook(t, `
cat "$3" > inventory.seen
echo "$ANSIBLE_CONFIG $ANSIBLE_HOST_KEY_CHECKING" > env.seen
echo "$1" > args.seen
echo "hostname R1" > backups/show_run.txt
`)

	res, err := pb.ArchiveConfig(context.Background(), testTarget)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !res.Success || res.Message != "show running config." {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.AttachmentPath != filepath.Join(dir, "backups/show_run.txt") {
		t.Fatalf("unexpected attachment path %q", res.AttachmentPath)
	}

	inv, _ := os.ReadFile(filepath.Join(dir, "inventory.seen"))
	if !strings.Contains(string(inv), "CSR1kv ansible_host=10.0.15.181 ansible_user=admin") {
		t.Fatalf("inventory not rewritten: %q", inv)
	}
	env, _ := os.ReadFile(filepath.Join(dir, "env.seen"))
	if strings.TrimSpace(string(env)) != filepath.Join(dir, "ansible.cfg")+" False" {
		t.Fatalf("unexpected ansible env %q", env)
	}
	args, _ := os.ReadFile(filepath.Join(dir, "args.seen"))
	if strings.TrimSpace(string(args)) != filepath.Join(dir, "playbooks/backup.yml") {
		t.Fatalf("unexpected playbook arg %q", args)
	}
}

func TestPlaybook_ArchiveConfigFailures(t *testing.T) {
	pb, _ := newTestPlaybook(t, "echo 'fatal: unreachable'\nexit 2\n")
	res, err := pb.ArchiveConfig(context.Background(), testTarget)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if res.Success || res.Message != "Error: Ansible." {
		t.Fatalf("non-zero exit should fail: %+v", res)
	}

	// Exit 0 without producing the backup file is still a failure.
	pb, _ = newTestPlaybook(t, "exit 0\n")
	res, _ = pb.ArchiveConfig(context.Background(), testTarget)
	if res.Success || res.AttachmentPath != "" {
		t.Fatalf("missing backup should fail: %+v", res)
	}
}

func TestPlaybook_InventoryRemovedAfterRun(t *testing.T) {
	pb, dir := newTestPlaybook(t, `echo "$3" > inventory.path`)
	if _, err := pb.ArchiveConfig(context.Background(), testTarget); err != nil {
		t.Fatalf("archive: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "inventory.path"))
	path := strings.TrimSpace(string(data))
	if path == "" {
		t.Fatal("inventory path not captured")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("temp inventory %s should be removed, stat err=%v", path, err)
	}
}

func TestPlaybook_FetchBanner(t *testing.T) {
	pb, _ := newTestPlaybook(t, `cat <<'OUT'
TASK [Display MOTD] ************************************************************
ok: [CSR1kv] => {
    "msg": "Authorized access only\nViolators will be prosecuted"
}
OUT
`)
	res, err := pb.FetchBanner(context.Background(), testTarget)
	if err != nil {
		t.Fatalf("fetch banner: %v", err)
	}
	want := "Authorized access only\nViolators will be prosecuted"
	if !res.Success || res.Message != want {
		t.Fatalf("got %+v, want %q", res, want)
	}
}

func TestPlaybook_FetchBannerAfterLongOutput(t *testing.T) {
	pb, _ := newTestPlaybook(t, `i=0
while [ $i -lt 40 ]; do
  echo "ok: [CSR1kv] => gathering facts ☃"
  i=$((i+1))
done
echo '    "msg": "Authorized access only"'
`)
	pb.cfg.MaxOutputBytes = 64

	res, err := pb.FetchBanner(context.Background(), testTarget)
	if err != nil {
		t.Fatalf("fetch banner: %v", err)
	}
	if !res.Success || res.Message != "Authorized access only" {
		t.Fatalf("banner past the log limit was lost: %+v", res)
	}
}

func TestTruncateOutput(t *testing.T) {
	if got := truncateOutput("short", 64); got != "short" {
		t.Fatalf("unexpected %q", got)
	}
	// "é" is two bytes; a cut at byte 2 must not split it.
	got := truncateOutput("héllo", 2)
	if got != "h\n... (output truncated)" {
		t.Fatalf("unexpected %q", got)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncated output is not valid UTF-8: %q", got)
	}
}

func TestPlaybook_FetchBannerEmpty(t *testing.T) {
	pb, _ := newTestPlaybook(t, `echo '    "msg": ""'`)
	res, err := pb.FetchBanner(context.Background(), testTarget)
	if err != nil {
		t.Fatalf("fetch banner: %v", err)
	}
	if res.Success || res.Message != "Error: No MOTD configured." {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestPlaybook_FetchBannerNonZeroExitIsError(t *testing.T) {
	pb, _ := newTestPlaybook(t, "exit 4\n")
	if _, err := pb.FetchBanner(context.Background(), testTarget); err == nil {
		t.Fatal("expected error so callers can fall back")
	}
}

func TestPlaybook_SetBanner(t *testing.T) {
	pb, dir := newTestPlaybook(t, `echo "$5" > extra.seen`)
	res, err := pb.SetBanner(context.Background(), testTarget, "  Authorized users only  ")
	if err != nil {
		t.Fatalf("set banner: %v", err)
	}
	if !res.Success || res.Message != "Ok: success." {
		t.Fatalf("unexpected result %+v", res)
	}
	extra, _ := os.ReadFile(filepath.Join(dir, "extra.seen"))
	if strings.TrimSpace(string(extra)) != `{"banner_message":"Authorized users only"}` {
		t.Fatalf("unexpected extra vars %q", extra)
	}

	pb, _ = newTestPlaybook(t, "exit 1\n")
	res, _ = pb.SetBanner(context.Background(), testTarget, "x")
	if res.Success || res.Message != "Error: MOTD update." {
		t.Fatalf("unexpected failure result %+v", res)
	}
}

func TestPlaybook_MissingBinaryIsError(t *testing.T) {
	pb, _ := newTestPlaybook(t, "")
	pb.cfg.Binary = filepath.Join(t.TempDir(), "does-not-exist")
	if _, err := pb.ArchiveConfig(context.Background(), testTarget); err == nil {
		t.Fatal("expected start error")
	}
}

func TestPlaybook_Timeout(t *testing.T) {
	pb, _ := newTestPlaybook(t, "exec sleep 5\n")
	pb.cfg.Timeout = 100 * time.Millisecond
	start := time.Now()
	if _, err := pb.SetBanner(context.Background(), testTarget, "x"); err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 4*time.Second {
		t.Fatal("timeout not enforced")
	}
}

func TestRewriteInventory(t *testing.T) {
	target := netip.MustParseAddr("192.168.1.10")
	in := "[routers]\nR1   ansible_host=1.1.1.1   ansible_user=cisco\n# comment\n"
	got := rewriteInventory(in, target)
	want := "[routers]\nR1 ansible_host=192.168.1.10 ansible_user=cisco\n# comment\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
