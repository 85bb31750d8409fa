package supervisor

import (
	"fmt"
	"net"
	"time"
)

// dialTCP reports whether something is listening on the given local port.
func dialTCP(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
