package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"netopsbot/internal/domain"
)

// CLIRoom is the room ID of every terminal message.
const CLIRoom = "direct"

// CLI reads commands from a terminal and prints replies. Attachments are
// written to AttachmentDir when one is configured.
type CLI struct {
	in            io.Reader
	out           io.Writer
	prompt        string
	attachmentDir string
	logger        *slog.Logger

	queue *queue
	mu    sync.Mutex // guards out
	seq   int
}

type CLIConfig struct {
	In            io.Reader
	Out           io.Writer
	Prompt        string
	AttachmentDir string
	Logger        *slog.Logger
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		in:            cfg.In,
		out:           cfg.Out,
		prompt:        cfg.Prompt,
		attachmentDir: cfg.AttachmentDir,
		logger:        cfg.Logger,
		queue:         newQueue(),
	}
}

func (c *CLI) Name() string { return "cli" }

// Open prints the greeting and starts reading lines. End of input or
// /quit is reported by Receive as io.EOF.
func (c *CLI) Open(ctx context.Context) error {
	c.write("netopsbot chat. Type a command and press Enter. Type /quit to exit.\n")
	c.write(c.prompt)
	go c.read(ctx)
	return nil
}

func (c *CLI) read(ctx context.Context) {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			c.write(c.prompt)
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Info("user requested quit")
			break
		}

		c.mu.Lock()
		c.seq++
		id := fmt.Sprintf("cli-%d", c.seq)
		c.mu.Unlock()

		msg := domain.RawMessage{
			ID:        id,
			RoomID:    CLIRoom,
			SenderID:  "user",
			Text:      line,
			Timestamp: time.Now(),
		}
		if !c.queue.push(ctx, msg) {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		c.queue.fail(fmt.Errorf("read input: %w", err))
		return
	}
	c.queue.fail(io.EOF)
}

func (c *CLI) Receive(ctx context.Context) (domain.RawMessage, error) {
	return c.queue.receive(ctx)
}

func (c *CLI) Send(_ context.Context, _ string, resp domain.ChatResponse) error {
	var b strings.Builder
	b.WriteString(resp.Text)
	b.WriteString("\n")

	if resp.HasAttachment() {
		att := resp.Attachment
		note := fmt.Sprintf("[attachment %s, %d bytes]", att.Filename, len(att.Data))
		if c.attachmentDir != "" {
			path := filepath.Join(c.attachmentDir, filepath.Base(att.Filename))
			if err := os.WriteFile(path, att.Data, 0o600); err != nil {
				return fmt.Errorf("save attachment: %w", err)
			}
			note = fmt.Sprintf("[attachment saved to %s]", path)
		}
		b.WriteString(note)
		b.WriteString("\n")
	}
	b.WriteString(c.prompt)

	_, err := c.writeErr(b.String())
	return err
}

func (c *CLI) write(s string) {
	_, _ = c.writeErr(s)
}

func (c *CLI) writeErr(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return io.WriteString(c.out, s)
}

func (c *CLI) Close() error { return nil }
