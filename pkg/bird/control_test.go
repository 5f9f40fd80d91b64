package bird

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBird accepts control connections, records each command line and
// replies with resp before closing.
func fakeBird(t *testing.T, resp string) (sock string, commands <-chan string) {
	t.Helper()
	sock = filepath.Join(t.TempDir(), "bird.ctl")
	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	ch := make(chan string, 16)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			line, _ := bufio.NewReader(conn).ReadString('\n')
			ch <- line
			_, _ = conn.Write([]byte(resp))
			conn.Close()
		}
	}()
	return sock, ch
}

func TestReconfigure(t *testing.T) {
	sock, commands := fakeBird(t, "0003 Reconfigured\n")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := Reconfigure(ctx, sock)
	require.NoError(t, err)
	assert.Equal(t, "0003 Reconfigured\n", resp)
	assert.Equal(t, "configure\n", <-commands)
}

func TestReconfigureDialFailure(t *testing.T) {
	_, err := Reconfigure(context.Background(), filepath.Join(t.TempDir(), "missing.ctl"))
	assert.Error(t, err)
}
