package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"netopsbot/internal/domain"
	"netopsbot/internal/extract"
)

const defaultMaxOutputBytes = 65536

type PlaybookConfig struct {
	Binary            string // "ansible-playbook" by default
	Dir               string // working directory; relative paths resolve against it
	InventoryTemplate string
	AnsibleConfig     string
	BackupFile        string
	BackupPlaybook    string
	MotdGetPlaybook   string
	MotdSetPlaybook   string
	Timeout           time.Duration
	MaxOutputBytes    int
	Extractor         domain.Extractor
	Logger            *slog.Logger
}

// Playbook runs ansible playbooks against a single target. The inventory
// template is copied per run with ansible_host pointing at the target.
type Playbook struct {
	cfg    PlaybookConfig
	logger *slog.Logger
}

var _ domain.PlaybookBackend = (*Playbook)(nil)

func NewPlaybook(cfg PlaybookConfig) *Playbook {
	if cfg.Binary == "" {
		cfg.Binary = "ansible-playbook"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Playbook{cfg: cfg, logger: cfg.Logger.With("backend", "playbook")}
}

func (p *Playbook) ArchiveConfig(ctx context.Context, target netip.Addr) (domain.BackendResult, error) {
	code, _, err := p.run(ctx, p.cfg.BackupPlaybook, target, nil)
	if err != nil {
		return domain.BackendResult{}, err
	}
	backup := p.path(p.cfg.BackupFile)
	if code != 0 {
		return domain.Failed("Error: Ansible."), nil
	}
	if _, err := os.Stat(backup); err != nil {
		p.logger.Warn("backup playbook succeeded but file is missing", "path", backup)
		return domain.Failed("Error: Ansible."), nil
	}
	return domain.BackendResult{Success: true, Message: "show running config.", AttachmentPath: backup}, nil
}

// FetchBanner reads the MOTD through the get playbook. A non-zero exit is
// returned as an error so callers can fall back to another source.
func (p *Playbook) FetchBanner(ctx context.Context, target netip.Addr) (domain.BackendResult, error) {
	code, output, err := p.run(ctx, p.cfg.MotdGetPlaybook, target, nil)
	if err != nil {
		return domain.BackendResult{}, err
	}
	if code != 0 {
		return domain.BackendResult{}, fmt.Errorf("motd playbook exited with status %d", code)
	}

	records, err := p.cfg.Extractor.Extract(output, extract.AnsibleDebug)
	if err != nil {
		return domain.BackendResult{}, err
	}
	motd := ""
	if len(records) > 0 {
		motd = strings.TrimSpace(unescapeJSON(records[0]["msg"]))
	}
	if motd == "" {
		return domain.Failed("Error: No MOTD configured."), nil
	}
	return domain.Ok(motd), nil
}

func (p *Playbook) SetBanner(ctx context.Context, target netip.Addr, text string) (domain.BackendResult, error) {
	text = strings.TrimSpace(text)
	code, _, err := p.run(ctx, p.cfg.MotdSetPlaybook, target, map[string]string{"banner_message": text})
	if err != nil {
		return domain.BackendResult{}, err
	}
	if code != 0 {
		return domain.Failed("Error: MOTD update."), nil
	}
	return domain.Ok("Ok: success."), nil
}

// run executes one playbook and returns its exit code and full combined
// output; only the logged copy is truncated. err is only set when the runner could not be started or was cancelled.
func (p *Playbook) run(ctx context.Context, playbook string, target netip.Addr, extraVars map[string]string) (int, string, error) {
	inventory, err := p.writeInventory(target)
	if err != nil {
		return 0, "", err
	}
	defer os.Remove(inventory)

	args := []string{p.path(playbook), "-i", inventory}
	if len(extraVars) > 0 {
		data, err := json.Marshal(extraVars)
		if err != nil {
			return 0, "", fmt.Errorf("marshal extra vars: %w", err)
		}
		args = append(args, "--extra-vars", string(data))
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.cfg.Binary, args...)
	cmd.Dir = p.cfg.Dir
	// ansible forks workers that may hold the output pipe after a kill.
	cmd.WaitDelay = 2 * time.Second
	cmd.Env = append(os.Environ(), "ANSIBLE_HOST_KEY_CHECKING=False")
	if p.cfg.AnsibleConfig != "" {
		cmd.Env = append(cmd.Env, "ANSIBLE_CONFIG="+p.path(p.cfg.AnsibleConfig))
	}

	start := time.Now()
	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))

	code := 0
	if err != nil {
		if ctx.Err() != nil {
			return 0, "", fmt.Errorf("playbook %s timed out or cancelled: %w", filepath.Base(playbook), ctx.Err())
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return 0, "", fmt.Errorf("start playbook %s: %w", filepath.Base(playbook), err)
		}
		code = exitErr.ExitCode()
	}

	p.logger.Info("playbook finished",
		"playbook", filepath.Base(playbook),
		"target", target,
		"exit", code,
		"duration", time.Since(start),
	)
	p.logger.Debug("playbook output", "playbook", filepath.Base(playbook), "output", truncateOutput(output, p.cfg.MaxOutputBytes))
	return code, output, nil
}

// truncateOutput cuts s to at most max bytes on a rune boundary.
func truncateOutput(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n... (output truncated)"
}

// writeInventory copies the inventory template to a temp file, rewriting
// every ansible_host= field to target.
func (p *Playbook) writeInventory(target netip.Addr) (string, error) {
	data, err := os.ReadFile(p.path(p.cfg.InventoryTemplate))
	if err != nil {
		return "", fmt.Errorf("read inventory template: %w", err)
	}

	f, err := os.CreateTemp("", "netopsbot-inventory-*")
	if err != nil {
		return "", fmt.Errorf("create inventory: %w", err)
	}
	_, werr := f.WriteString(rewriteInventory(string(data), target))
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write inventory: %w", err)
	}
	return f.Name(), nil
}

func rewriteInventory(content string, target netip.Addr) string {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	for i, line := range lines {
		if !strings.Contains(line, "ansible_host=") {
			continue
		}
		parts := strings.Fields(line)
		for j, part := range parts {
			if strings.HasPrefix(part, "ansible_host=") {
				parts[j] = "ansible_host=" + target.String()
			}
		}
		lines[i] = strings.Join(parts, " ")
	}
	return strings.Join(lines, "\n") + "\n"
}

func (p *Playbook) path(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(p.cfg.Dir, name)
}

// unescapeJSON decodes the escapes ansible applies to debug messages.
func unescapeJSON(s string) string {
	if out, err := strconv.Unquote(`"` + s + `"`); err == nil {
		return out
	}
	return s
}
