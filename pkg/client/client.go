// Package client is the interactive scan console. Keyboard-wedge QR
// scanners type the decoded code followed by Enter, so every line read is
// one scan.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/wurt83ow/checkin-client/pkg/checkin"
	"github.com/wurt83ow/checkin-client/pkg/gate"
	"github.com/wurt83ow/checkin-client/pkg/models"
	"github.com/wurt83ow/checkin-client/pkg/queue"
	"github.com/wurt83ow/checkin-client/pkg/reconcile"
	"github.com/wurt83ow/checkin-client/pkg/services"
)

// Scanner is the part of the facade the console drives.
type Scanner interface {
	Scan(ctx context.Context, raw, eventID string, kind models.OperationKind) (services.ScanResult, error)
	SyncNow(ctx context.Context) (models.PassSummary, error)
	Refresh(ctx context.Context) bool
	Status() services.Status
}

// Console reads scans from the terminal.
type Console struct {
	rl      *readline.Instance
	out     io.Writer
	scanner Scanner
	eventID string
	kind    models.OperationKind
}

// NewConsole opens the terminal. Close releases it.
func NewConsole(scanner Scanner, eventID string, kind models.OperationKind) (*Console, error) {
	rl, err := readline.New("")
	if err != nil {
		return nil, err
	}
	c := &Console{rl: rl, out: rl.Stdout(), scanner: scanner, eventID: eventID, kind: kind}
	c.updatePrompt()
	return c, nil
}

// Close releases the terminal.
func (c *Console) Close() error {
	return c.rl.Close()
}

// ReadPassword prompts for a secret without echoing it.
func ReadPassword(prompt string) (string, error) {
	rl, err := readline.New("")
	if err != nil {
		return "", err
	}
	defer rl.Close()
	pw, err := rl.ReadPassword(prompt)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

// Run reads lines until EOF, Ctrl-C, ":q" or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	fmt.Fprintln(c.out, "Scan codes now. Commands: :in, :out, :event ID, :sync, :refresh, :status, :q")
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := c.rl.Readline()
		if errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt) {
			return nil
		}
		if err != nil {
			return err
		}
		if quit := c.Handle(ctx, line); quit {
			return nil
		}
	}
}

// Handle processes one line and reports whether the console should quit.
func (c *Console) Handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, ":") {
		res, err := c.scanner.Scan(ctx, line, c.eventID, c.kind)
		fmt.Fprintln(c.out, Describe(res, err))
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case ":q", ":quit":
		return true
	case ":in":
		c.kind = models.KindCheckIn
	case ":out":
		c.kind = models.KindCheckOut
	case ":event":
		if arg = strings.TrimSpace(arg); arg == "" {
			fmt.Fprintln(c.out, "usage: :event ID")
			return false
		}
		c.eventID = arg
	case ":sync":
		summary, err := c.scanner.SyncNow(ctx)
		if errors.Is(err, reconcile.ErrPassInProgress) {
			fmt.Fprintln(c.out, "sync: already running in the background")
			return false
		}
		if err != nil {
			fmt.Fprintln(c.out, "sync:", err)
			return false
		}
		fmt.Fprintf(c.out, "synced %d: %d sent, %d retrying, %d rejected, %d abandoned\n",
			summary.Processed, summary.Succeeded, summary.Retried, summary.Rejected, summary.Abandoned)
		return false
	case ":refresh":
		c.scanner.Refresh(ctx)
		c.printStatus()
		return false
	case ":status":
		c.printStatus()
		return false
	default:
		fmt.Fprintf(c.out, "unknown command %s\n", cmd)
		return false
	}
	c.updatePrompt()
	return false
}

func (c *Console) printStatus() {
	st := c.scanner.Status()
	state := "offline"
	if st.Online {
		state = "online"
	}
	fmt.Fprintf(c.out, "%s, %d pending\n", state, st.Pending)
}

func (c *Console) updatePrompt() {
	if c.rl != nil {
		c.rl.SetPrompt(Prompt(c.eventID, c.kind))
	}
}

// Prompt shows the target of the next scan.
func Prompt(eventID string, kind models.OperationKind) string {
	verb := "in"
	if kind == models.KindCheckOut {
		verb = "out"
	}
	return fmt.Sprintf("[%s %s] > ", eventID, verb)
}

// Describe renders a scan outcome for staff.
func Describe(res services.ScanResult, err error) string {
	switch {
	case err == nil && res.Record != nil:
		return "OK " + res.Code
	case res.Queued() && errors.Is(err, queue.ErrNotPersisted):
		return "QUEUED " + res.Code + " (not saved to disk)"
	case res.Queued() && err == nil:
		return "QUEUED " + res.Code + " (offline)"
	case errors.Is(err, gate.ErrDuplicateScan):
		return "SKIPPED duplicate scan"
	case errors.Is(err, gate.ErrInvalidQR):
		return "REJECTED " + checkin.UserMessage(checkin.KindInvalidQR)
	}
	var se *checkin.ServiceError
	if errors.As(err, &se) {
		return "REJECTED " + checkin.UserMessage(se.Kind)
	}
	if err != nil {
		return "ERROR " + err.Error()
	}
	return "OK " + res.Code
}
