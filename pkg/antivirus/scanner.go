// Package antivirus streams uploaded objects to a clamd daemon over its
// INSTREAM protocol and publishes per-object verdicts in the KV store. A
// bounded in-memory queue decouples scanning from the upload path.
package antivirus

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cloudrove/cloudrove/pkg/bufpool"
)

// Scan chunking and protocol framing.
const (
	// instreamCmd is clamd's null-terminated streaming command.
	instreamCmd = "zINSTREAM\x00"

	// chunkBytes is the INSTREAM chunk payload size. clamd rejects chunks
	// above its StreamMaxLength, so stay well under common configs.
	chunkBytes = 64 << 10
)

// Verdict is the outcome of scanning one stream.
type Verdict struct {
	Clean     bool
	Signature string
}

// Scanner is a clamd INSTREAM client. The zero value is not usable; use
// NewScanner or set a custom dial function for tests.
type Scanner struct {
	dial    func(ctx context.Context) (net.Conn, error)
	timeout time.Duration
}

// NewScanner creates a scanner for the daemon at host:port. timeout is
// the per-read/write socket inactivity bound (default 60s).
func NewScanner(host string, port int, timeout time.Duration) *Scanner {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Scanner{
		dial: func(ctx context.Context) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		},
		timeout: timeout,
	}
}

// NewScannerWithDialer creates a scanner over a custom transport.
func NewScannerWithDialer(dial func(ctx context.Context) (net.Conn, error), timeout time.Duration) *Scanner {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Scanner{dial: dial, timeout: timeout}
}

// Scan streams r to the daemon: the INSTREAM command, then chunks each
// prefixed with a 4-byte big-endian length, then a zero-length terminator.
// The reply ends with "OK" for clean streams and "FOUND" for detections.
func (s *Scanner) Scan(ctx context.Context, r io.Reader) (Verdict, error) {
	conn, err := s.dial(ctx)
	if err != nil {
		return Verdict{}, fmt.Errorf("dial antivirus daemon: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := s.send(conn, []byte(instreamCmd)); err != nil {
		return Verdict{}, err
	}

	buf := bufpool.Get(chunkBytes)
	defer bufpool.Put(buf)
	prefix := make([]byte, 4)
	for {
		if err := ctx.Err(); err != nil {
			return Verdict{}, err
		}
		n, readErr := r.Read(buf)
		if n > 0 {
			binary.BigEndian.PutUint32(prefix, uint32(n))
			if err := s.send(conn, prefix); err != nil {
				return Verdict{}, err
			}
			if err := s.send(conn, buf[:n]); err != nil {
				return Verdict{}, err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return Verdict{}, fmt.Errorf("read scan stream: %w", readErr)
		}
	}
	binary.BigEndian.PutUint32(prefix, 0)
	if err := s.send(conn, prefix); err != nil {
		return Verdict{}, err
	}

	reply, err := s.readReply(conn)
	if err != nil {
		return Verdict{}, err
	}
	return parseReply(reply)
}

func (s *Scanner) send(conn net.Conn, p []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
		return err
	}
	if _, err := conn.Write(p); err != nil {
		return fmt.Errorf("write to antivirus daemon: %w", err)
	}
	return nil
}

func (s *Scanner) readReply(conn net.Conn) (string, error) {
	if err := conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
		return "", err
	}
	// z-style replies are null-terminated; tolerate daemons that just
	// close the connection after writing.
	reply, err := bufio.NewReader(conn).ReadString('\x00')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read antivirus reply: %w", err)
	}
	return strings.Trim(reply, "\x00\n "), nil
}

// errUnknownReply distinguishes protocol surprises from transport errors.
type errUnknownReply struct{ reply string }

func (e *errUnknownReply) Error() string {
	return fmt.Sprintf("unexpected antivirus reply %q", e.reply)
}

func parseReply(reply string) (Verdict, error) {
	switch {
	case strings.HasSuffix(reply, "OK"):
		return Verdict{Clean: true}, nil
	case strings.HasSuffix(reply, "FOUND"):
		sig := strings.TrimSuffix(reply, "FOUND")
		if i := strings.Index(sig, ":"); i >= 0 {
			sig = sig[i+1:]
		}
		return Verdict{Signature: strings.TrimSpace(sig)}, nil
	default:
		return Verdict{}, &errUnknownReply{reply: reply}
	}
}
