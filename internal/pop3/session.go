package pop3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/joshsymonds/mailgate/internal/mailbox"
)

type state int

const (
	stateAuthorization state = iota
	stateTransaction
)

var errQuit = errors.New("client quit")

type conn struct {
	srv     *Server
	nc      net.Conn
	tp      *textproto.Conn
	log     *slog.Logger
	timeout time.Duration

	state   state
	user    string
	drop    Maildrop
	entries []mailbox.Entry
	deleted map[int]bool
}

func (c *conn) serve(ctx context.Context) error {
	if err := c.ok("mailgate POP3 server ready"); err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_ = c.nc.SetReadDeadline(time.Now().Add(c.timeout))
		line, err := c.tp.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read command: %w", err)
		}
		cmd, args := parseCommand(line)
		if cmd == "" {
			continue
		}
		if cmd == "PASS" {
			c.log.Debug("command", "cmd", cmd)
		} else {
			c.log.Debug("command", "cmd", cmd, "args", args)
		}
		err = c.dispatch(ctx, cmd, args)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func parseCommand(line string) (string, []string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToUpper(fields[0]), fields[1:]
}

func (c *conn) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "CAPA":
		return c.multi("Capability list follows", []string{"USER", "TOP", "UIDL", "RESP-CODES", "IMPLEMENTATION mailgate"})
	case "QUIT":
		return c.quit(ctx)
	case "NOOP":
		if c.state != stateTransaction {
			return c.err("command not valid in this state")
		}
		return c.ok("")
	}

	if c.state == stateAuthorization {
		switch cmd {
		case "USER":
			return c.userCmd(args)
		case "PASS":
			return c.passCmd(ctx, args)
		case "STAT", "LIST", "UIDL", "RETR", "TOP", "DELE", "RSET":
			return c.err("command not valid in this state")
		}
		return c.err("unknown command")
	}

	switch cmd {
	case "STAT":
		n, size := c.stat()
		return c.ok(fmt.Sprintf("%d %d", n, size))
	case "LIST":
		return c.listCmd(args)
	case "UIDL":
		return c.uidlCmd(args)
	case "RETR":
		return c.retrCmd(ctx, args)
	case "TOP":
		return c.topCmd(ctx, args)
	case "DELE":
		return c.deleCmd(args)
	case "RSET":
		c.deleted = map[int]bool{}
		n, size := c.stat()
		return c.ok(fmt.Sprintf("maildrop has %d messages (%d octets)", n, size))
	case "USER", "PASS":
		return c.err("already authenticated")
	}
	return c.err("unknown command")
}

func (c *conn) userCmd(args []string) error {
	if len(args) != 1 {
		return c.err("USER takes one argument")
	}
	c.user = args[0]
	return c.ok("send PASS")
}

func (c *conn) passCmd(ctx context.Context, args []string) error {
	if c.user == "" {
		return c.err("USER first")
	}
	pass := strings.Join(args, " ")
	if !c.srv.checkCredentials(c.user, pass) {
		c.log.Warn("authentication failed", "user", c.user)
		c.user = ""
		return c.err("[AUTH] invalid username or password")
	}
	drop := c.srv.Open(c.log.With("user", c.user))
	entries, err := drop.ListMessages(ctx)
	if err != nil {
		c.log.Error("could not list maildrop", "error", err)
		return c.err("[SYS/TEMP] unable to list maildrop")
	}
	c.drop = drop
	c.entries = entries
	c.state = stateTransaction
	n, size := c.stat()
	c.log.Info("maildrop opened", "user", c.user, "messages", n, "octets", size)
	return c.ok(fmt.Sprintf("maildrop has %d messages (%d octets)", n, size))
}

func (c *conn) stat() (int, int64) {
	var n int
	var size int64
	for _, e := range c.entries {
		if c.deleted[e.Seq] {
			continue
		}
		n++
		size += e.Summary.Size
	}
	return n, size
}

// entry looks up a live message by its argument form.
func (c *conn) entry(arg string) (mailbox.Entry, error) {
	seq, err := strconv.Atoi(arg)
	if err != nil {
		return mailbox.Entry{}, fmt.Errorf("invalid message number %q", arg)
	}
	if seq < 1 || seq > len(c.entries) {
		return mailbox.Entry{}, errors.New("no such message")
	}
	if c.deleted[seq] {
		return mailbox.Entry{}, fmt.Errorf("message %d already deleted", seq)
	}
	return c.entries[seq-1], nil
}

func (c *conn) listCmd(args []string) error {
	if len(args) > 0 {
		e, err := c.entry(args[0])
		if err != nil {
			return c.err(err.Error())
		}
		return c.ok(fmt.Sprintf("%d %d", e.Seq, e.Summary.Size))
	}
	n, size := c.stat()
	lines := make([]string, 0, n)
	for _, e := range c.entries {
		if !c.deleted[e.Seq] {
			lines = append(lines, fmt.Sprintf("%d %d", e.Seq, e.Summary.Size))
		}
	}
	return c.multi(fmt.Sprintf("%d messages (%d octets)", n, size), lines)
}

func (c *conn) uidlCmd(args []string) error {
	if len(args) > 0 {
		e, err := c.entry(args[0])
		if err != nil {
			return c.err(err.Error())
		}
		return c.ok(fmt.Sprintf("%d %s", e.Seq, e.Summary.ID))
	}
	var lines []string
	for _, e := range c.entries {
		if !c.deleted[e.Seq] {
			lines = append(lines, fmt.Sprintf("%d %s", e.Seq, e.Summary.ID))
		}
	}
	return c.multi("unique-id listing follows", lines)
}

func (c *conn) retrCmd(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return c.err("RETR takes one argument")
	}
	e, err := c.entry(args[0])
	if err != nil {
		return c.err(err.Error())
	}
	data, err := c.drop.GetMessage(ctx, e.Seq)
	if err != nil {
		return c.err("[SYS/TEMP] unable to retrieve message")
	}
	return c.body(fmt.Sprintf("%d octets", len(data)), data)
}

func (c *conn) topCmd(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return c.err("TOP takes two arguments")
	}
	e, err := c.entry(args[0])
	if err != nil {
		return c.err(err.Error())
	}
	n, err := strconv.Atoi(args[1])
	if err != nil || n < 0 {
		return c.err("invalid line count")
	}
	data, err := c.drop.GetMessage(ctx, e.Seq)
	if err != nil {
		return c.err("[SYS/TEMP] unable to retrieve message")
	}
	return c.body("top of message follows", topLines(data, n))
}

// topLines returns the header block, the separating blank line and the
// first n lines of the body.
func topLines(data []byte, n int) []byte {
	sep := []byte("\r\n\r\n")
	idx := bytes.Index(data, sep)
	if idx < 0 {
		sep = []byte("\n\n")
		idx = bytes.Index(data, sep)
	}
	if idx < 0 {
		return data
	}
	cut := idx + len(sep)
	rest := data[cut:]
	for i := 0; i < n && len(rest) > 0; i++ {
		nl := bytes.IndexByte(rest, '\n')
		if nl < 0 {
			cut += len(rest)
			break
		}
		cut += nl + 1
		rest = rest[nl+1:]
	}
	return data[:cut]
}

func (c *conn) deleCmd(args []string) error {
	if len(args) != 1 {
		return c.err("DELE takes one argument")
	}
	e, err := c.entry(args[0])
	if err != nil {
		return c.err(err.Error())
	}
	c.deleted[e.Seq] = true
	return c.ok(fmt.Sprintf("message %d deleted", e.Seq))
}

// quit commits marked deletions when leaving the transaction state. A failed
// trash is reported to the client but the remaining marks are still tried.
func (c *conn) quit(ctx context.Context) error {
	if c.state != stateTransaction {
		_ = c.ok("mailgate POP3 server signing off")
		return errQuit
	}
	var failed, removed int
	for _, e := range c.entries {
		if !c.deleted[e.Seq] {
			continue
		}
		if err := c.drop.DeleteMessage(ctx, e.Summary.ID); err != nil {
			failed++
			continue
		}
		removed++
	}
	c.log.Info("session committed", "removed", removed, "failed", failed)
	if failed > 0 {
		_ = c.err(fmt.Sprintf("[SYS/TEMP] %d of %d deleted messages not removed", failed, failed+removed))
		return errQuit
	}
	n, _ := c.stat()
	_ = c.ok(fmt.Sprintf("mailgate POP3 server signing off (%d messages left)", n))
	return errQuit
}

func (c *conn) ok(msg string) error {
	if msg == "" {
		return c.tp.PrintfLine("+OK")
	}
	return c.tp.PrintfLine("+OK %s", msg)
}

func (c *conn) err(msg string) error {
	return c.tp.PrintfLine("-ERR %s", msg)
}

func (c *conn) multi(status string, lines []string) error {
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteString("\r\n")
	}
	return c.body(status, buf.Bytes())
}

// body writes a positive status followed by data, dot-stuffed and
// terminated with a lone dot.
func (c *conn) body(status string, data []byte) error {
	if err := c.ok(status); err != nil {
		return err
	}
	w := c.tp.DotWriter()
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write body: %w", err)
	}
	return w.Close()
}
