package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// DialerFunc dials a TCP connection, optionally routed through a proxy.
type DialerFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// NewDialer builds a DialerFunc for proxyURL, one of "", "http://...",
// "socks4://..." or "socks5://..." (spec.md §4.4 "Proxy"). An empty
// proxyURL dials directly with connectTimeout. Grounded on the teacher's
// remote.Socks5Group.Dialer, generalized to also cover the plain and
// http-CONNECT cases.
func NewDialer(proxyURL string, connectTimeout time.Duration) (DialerFunc, error) {
	direct := &net.Dialer{Timeout: connectTimeout}

	if proxyURL == "" {
		return direct.DialContext, nil
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("parsing proxy url: %w", err)
	}

	switch u.Scheme {
	case "http":
		return httpConnectDialer(u, direct), nil
	case "socks4":
		return socks4Dialer(u, direct)
	case "socks5":
		return socks5Dialer(u, direct)
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
}

// socks5Dialer wraps golang.org/x/net/proxy.SOCKS5, forwarding through
// direct so the proxy connection itself still honors connectTimeout.
func socks5Dialer(u *url.URL, direct *net.Dialer) (DialerFunc, error) {
	var auth *proxy.Auth
	if u.User != nil {
		password, _ := u.User.Password()
		auth = &proxy.Auth{User: u.User.Username(), Password: password}
	}

	d, err := proxy.SOCKS5("tcp", u.Host, auth, direct)
	if err != nil {
		return nil, fmt.Errorf("building socks5 dialer: %w", err)
	}

	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 dialer does not implement proxy.ContextDialer")
	}
	return cd.DialContext, nil
}

// socks4Dialer implements the SOCKS4 CONNECT handshake directly since
// golang.org/x/net/proxy only ships a SOCKS5 client.
func socks4Dialer(u *url.URL, direct *net.Dialer) (DialerFunc, error) {
	user := ""
	if u.User != nil {
		user = u.User.Username()
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := direct.DialContext(ctx, network, u.Host)
		if err != nil {
			return nil, fmt.Errorf("dialing socks4 proxy: %w", err)
		}
		if err := socks4Handshake(conn, addr, user); err != nil {
			conn.Close()
			return nil, err
		}
		return conn, nil
	}, nil
}

func socks4Handshake(conn net.Conn, targetAddr, user string) error {
	host, portStr, err := net.SplitHostPort(targetAddr)
	if err != nil {
		return fmt.Errorf("invalid target address %q: %w", targetAddr, err)
	}

	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return fmt.Errorf("invalid target port %q: %w", portStr, err)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return fmt.Errorf("resolving socks4 target %q: %w", host, err)
		}
		ip = ips[0]
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return fmt.Errorf("socks4 requires an ipv4 target, got %s", ip)
	}

	req := make([]byte, 0, 9+len(user)+1)
	req = append(req, 0x04, 0x01, byte(port>>8), byte(port))
	req = append(req, ip4...)
	req = append(req, []byte(user)...)
	req = append(req, 0x00)

	if _, err := conn.Write(req); err != nil {
		return fmt.Errorf("writing socks4 request: %w", err)
	}

	resp := make([]byte, 8)
	if _, err := conn.Read(resp); err != nil {
		return fmt.Errorf("reading socks4 response: %w", err)
	}
	if resp[1] != 0x5a {
		return fmt.Errorf("socks4 proxy rejected connection, status 0x%02x", resp[1])
	}
	return nil
}

// httpConnectDialer tunnels through an HTTP proxy's CONNECT method.
func httpConnectDialer(u *url.URL, direct *net.Dialer) DialerFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := direct.DialContext(ctx, network, u.Host)
		if err != nil {
			return nil, fmt.Errorf("dialing http proxy: %w", err)
		}

		req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n", addr, addr)
		if u.User != nil {
			password, _ := u.User.Password()
			req += "Proxy-Authorization: Basic " + basicAuth(u.User.Username(), password) + "\r\n"
		}
		req += "\r\n"

		if _, err := conn.Write([]byte(req)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("writing CONNECT request: %w", err)
		}

		if err := readConnectResponse(conn); err != nil {
			conn.Close()
			return nil, err
		}
		return conn, nil
	}
}

func readConnectResponse(conn net.Conn) error {
	buf := make([]byte, 4096)
	total := 0
	for {
		n, err := conn.Read(buf[total:])
		if err != nil {
			return fmt.Errorf("reading CONNECT response: %w", err)
		}
		total += n
		if total >= 4 {
			for i := 0; i <= total-4; i++ {
				if buf[i] == '\r' && buf[i+1] == '\n' && buf[i+2] == '\r' && buf[i+3] == '\n' {
					return parseConnectStatus(buf[:total])
				}
			}
		}
		if total == len(buf) {
			return fmt.Errorf("CONNECT response headers too large")
		}
	}
}

func parseConnectStatus(resp []byte) error {
	line := string(resp)
	if len(line) < 12 || line[:5] != "HTTP/" {
		return fmt.Errorf("malformed CONNECT response")
	}
	status := line[9:12]
	if status[0] != '2' {
		return fmt.Errorf("http proxy CONNECT failed: %s", status)
	}
	return nil
}

func basicAuth(user, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
}
