package upstream

import (
	"context"
	"net"
	"os"
	"strings"

	utls "github.com/refraction-networking/utls"
)

// fingerprintEnabled reports whether the outbound transport should mimic
// a known browser/editor TLS client-hello instead of Go's default,
// controlled by COPILOT_TLS_FINGERPRINT. Off by default: the stock
// net/http transport is sufficient for normal operation.
func fingerprintEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("COPILOT_TLS_FINGERPRINT")))
	switch v {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// utlsDialTLSContext returns a DialTLSContext that performs the TCP dial
// via the supplied base dialer (so proxy routing is preserved) and then
// completes the TLS handshake with a uTLS client-hello matching a recent
// Chrome release, instead of Go's distinctive default fingerprint.
func utlsDialTLSContext(base func(ctx context.Context, network, addr string) (net.Conn, error)) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		dial := base
		if dial == nil {
			var d net.Dialer
			dial = d.DialContext
		}
		rawConn, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}

		uConn := utls.UClient(rawConn, &utls.Config{ServerName: host}, utls.HelloChrome_Auto)
		if err := uConn.HandshakeContext(ctx); err != nil {
			_ = rawConn.Close()
			return nil, err
		}
		return uConn, nil
	}
}
