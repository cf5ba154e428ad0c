//go:build !windows

package ipc

import (
	"context"
	"net"
	"os"
	"path/filepath"
)

func defaultSocketDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}
	return os.TempDir()
}

func (c *Client) address(namespace, name string) string {
	return filepath.Join(c.socketDir, namespace+"_"+name)
}

func dialChannel(ctx context.Context, address string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", address)
}
