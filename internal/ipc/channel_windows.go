//go:build windows

package ipc

import (
	"context"
	"net"

	"github.com/Microsoft/go-winio"
)

func defaultSocketDir() string {
	return ""
}

func (c *Client) address(namespace, name string) string {
	return `\\.\pipe\` + namespace + "_" + name
}

func dialChannel(ctx context.Context, address string) (net.Conn, error) {
	return winio.DialPipeContext(ctx, address)
}
