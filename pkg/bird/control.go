package bird

import (
	"context"
	"fmt"
	"io"
	"net"
)

const reconfigureCommand = "configure\n"

// Reconfigure asks the BIRD daemon behind sockPath to reload its configuration
// and returns the raw response, read until the daemon closes the stream.
func Reconfigure(ctx context.Context, sockPath string) (string, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", sockPath)
	if err != nil {
		return "", fmt.Errorf("dial control socket %s: %w", sockPath, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := io.WriteString(conn, reconfigureCommand); err != nil {
		return "", fmt.Errorf("write control command: %w", err)
	}
	resp, err := io.ReadAll(conn)
	if err != nil {
		return string(resp), fmt.Errorf("read control response: %w", err)
	}
	return string(resp), nil
}
