package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/autodarkmode/adm-updater/internal/logging"
)

var log = logging.L("ipc")

// Commands understood by the service.
const (
	CommandAlive        = "--alive"
	CommandExit         = "--exit"
	CommandUpdateFailed = "--update-failed"
)

const (
	requestNamespace  = "admpipe_request"
	responseNamespace = "admpipe_response"

	// connectInterval is the pause between connection attempts while the
	// peer is not yet listening or busy with another client.
	connectInterval = 100 * time.Millisecond
)

// ChannelError is returned by SendAndWait. IsTimeout is true only when no
// connection could be established before the deadline, meaning nobody is
// listening. Failures after a connection was made have IsTimeout false.
type ChannelError struct {
	Message   string
	IsTimeout bool
	Err       error
}

func (e *ChannelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a *ChannelError caused by an unreachable peer.
func IsTimeout(err error) bool {
	var chErr *ChannelError
	return errors.As(err, &chErr) && chErr.IsTimeout
}

// DialFunc opens a connection to a channel address.
type DialFunc func(ctx context.Context, address string) (net.Conn, error)

// Client talks to the service over a pair of named channels: a well-known
// request channel and a fresh response channel per call.
type Client struct {
	socketDir string
	dial      DialFunc
	newID     func() string
}

// NewClient returns a client using the platform transport. socketDir is only
// used where channels are unix sockets; empty selects the default directory.
func NewClient(socketDir string) *Client {
	if socketDir == "" {
		socketDir = defaultSocketDir()
	}
	return &Client{
		socketDir: socketDir,
		dial:      dialChannel,
		newID:     newResponseID,
	}
}

// RequestAddress is where the service listens for commands on channel.
func (c *Client) RequestAddress(channel string) string {
	return c.address(requestNamespace, strings.ToLower(channel))
}

// ResponseAddress is where the service delivers the reply for responseID.
func (c *Client) ResponseAddress(responseID string) string {
	return c.address(responseNamespace, responseID)
}

// SendAndWait sends command to the service listening on channel and waits
// for its reply. Each connection phase and the read are bounded by timeout.
func (c *Client) SendAndWait(ctx context.Context, command string, timeout time.Duration, channel string) (ApiResponse, error) {
	responseID := c.newID()

	if err := c.send(ctx, command, timeout, channel, responseID); err != nil {
		return ApiResponse{}, err
	}
	return c.receive(ctx, responseID, timeout)
}

func (c *Client) send(ctx context.Context, command string, timeout time.Duration, channel, responseID string) error {
	conn, err := c.connect(ctx, c.RequestAddress(channel), timeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	if _, err := io.WriteString(conn, command+"\n"+responseID); err != nil {
		return &ChannelError{Message: "write request", Err: err}
	}
	return nil
}

func (c *Client) receive(ctx context.Context, responseID string, timeout time.Duration) (ApiResponse, error) {
	conn, err := c.connect(ctx, c.ResponseAddress(responseID), timeout)
	if err != nil {
		return ApiResponse{}, err
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	buf, err := io.ReadAll(conn)
	if err != nil {
		return ApiResponse{}, &ChannelError{Message: "read response", Err: err}
	}
	if !utf8.Valid(buf) {
		return ApiResponse{}, &ChannelError{Message: "response is not valid utf-8"}
	}
	return DecodeResponse(string(buf)), nil
}

// connect retries at a fixed interval until a connection succeeds or timeout
// elapses.
func (c *Client) connect(ctx context.Context, address string, timeout time.Duration) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attempts := 0
	conn, err := backoff.RetryWithData(func() (net.Conn, error) {
		attempts++
		return c.dial(dialCtx, address)
	}, backoff.WithContext(backoff.NewConstantBackOff(connectInterval), dialCtx))
	if err == nil {
		log.Debug("connected", "address", address, "attempts", attempts)
		return conn, nil
	}

	// Cancellation by the caller is not the peer being absent.
	if ctx.Err() != nil {
		return nil, &ChannelError{Message: "connect to " + address + " cancelled", Err: ctx.Err()}
	}
	return nil, &ChannelError{
		Message:   fmt.Sprintf("no listener on %s after %s", address, timeout),
		IsTimeout: true,
		Err:       err,
	}
}

func newResponseID() string {
	return "go_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
