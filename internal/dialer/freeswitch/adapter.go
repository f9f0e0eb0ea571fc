package freeswitch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/acme/pbx-autodialer/internal/config"
	"github.com/acme/pbx-autodialer/internal/dialer"
	apperrors "github.com/acme/pbx-autodialer/pkg/errors"
)

// Adapter places calls through the FreeSWITCH event socket. Each
// origination opens a fresh connection bounded by the configured
// timeout; the exchange is a handful of line-oriented MIME-style
// frames.
type Adapter struct {
	addr     string
	password string
	timeout  time.Duration
}

// NewAdapter constructs the event-socket adapter.
func NewAdapter(cfg config.DialerConfig) *Adapter {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Adapter{
		addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		password: cfg.Password,
		timeout:  timeout,
	}
}

// Originate sends the bgapi originate command and parses the reply.
// Timeouts and connection errors are adapter failures, treated the
// same as an origination rejection by callers.
func (a *Adapter) Originate(ctx context.Context, req dialer.OriginationRequest) (string, error) {
	dctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dctx, "tcp", a.addr)
	if err != nil {
		return "", fmt.Errorf("%w: dial event socket: %v", apperrors.ErrAdapterFailure, err)
	}
	defer conn.Close()

	deadline, ok := dctx.Deadline()
	if ok {
		_ = conn.SetDeadline(deadline)
	}

	rd := bufio.NewReader(conn)

	if err := a.authenticate(conn, rd); err != nil {
		return "", err
	}

	if _, err := fmt.Fprintf(conn, "%s\n\n", req.Command()); err != nil {
		return "", fmt.Errorf("%w: send originate: %v", apperrors.ErrAdapterFailure, err)
	}

	body, err := readFrame(rd)
	if err != nil {
		return "", fmt.Errorf("%w: read originate reply: %v", apperrors.ErrAdapterFailure, err)
	}

	return dialer.ParseOriginateReply(body)
}

func (a *Adapter) authenticate(conn net.Conn, rd *bufio.Reader) error {
	headers, _, err := readHeaders(rd)
	if err != nil {
		return fmt.Errorf("%w: read auth request: %v", apperrors.ErrAdapterFailure, err)
	}
	if headers["Content-Type"] != "auth/request" {
		return fmt.Errorf("%w: unexpected greeting %q", apperrors.ErrAdapterFailure, headers["Content-Type"])
	}

	if _, err := fmt.Fprintf(conn, "auth %s\n\n", a.password); err != nil {
		return fmt.Errorf("%w: send auth: %v", apperrors.ErrAdapterFailure, err)
	}

	headers, _, err = readHeaders(rd)
	if err != nil {
		return fmt.Errorf("%w: read auth reply: %v", apperrors.ErrAdapterFailure, err)
	}
	if !strings.HasPrefix(headers["Reply-Text"], "+OK") {
		return fmt.Errorf("%w: auth rejected: %s", apperrors.ErrAdapterFailure, headers["Reply-Text"])
	}
	return nil
}

// readFrame reads one event-socket frame and returns its reply text:
// either the Reply-Text header or the Content-Length body.
func readFrame(rd *bufio.Reader) (string, error) {
	headers, body, err := readHeaders(rd)
	if err != nil {
		return "", err
	}
	if body != "" {
		return body, nil
	}
	return headers["Reply-Text"], nil
}

func readHeaders(rd *bufio.Reader) (map[string]string, string, error) {
	headers := make(map[string]string)
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			return nil, "", err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if key, value, found := strings.Cut(line, ":"); found {
			headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}

	var body string
	if lengthStr, ok := headers["Content-Length"]; ok {
		length, err := strconv.Atoi(lengthStr)
		if err != nil || length < 0 {
			return nil, "", fmt.Errorf("bad content length %q", lengthStr)
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(rd, buf); err != nil {
			return nil, "", err
		}
		body = strings.TrimSpace(string(buf))
	}

	return headers, body, nil
}
