package endpoint

import (
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
)

var ErrNoTarget = errors.New("no dialable endpoint")

func Scheme(scheme string, insecure bool) string {
	if insecure {
		return scheme
	}
	return scheme + "s"
}

func NewEndpoint(scheme, host string) *url.URL {
	return &url.URL{Scheme: scheme, Host: host}
}

// ParseValidAddr returns the host of the first endpoint using scheme.
func ParseValidAddr(addr []string, scheme string) (string, error) {
	for _, v := range addr {
		u, err := url.Parse(v)
		if err != nil {
			return "", err
		}
		if u.Scheme == scheme {
			return u.Host, nil
		}
	}
	return "", errors.New("scheme not found")
}

// Target picks the first endpoint that is a bare host:port or uses one of
// schemes, and returns it as host:port.
func Target(endpoints []string, schemes ...string) (string, error) {
	for _, e := range endpoints {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.Contains(e, "://") {
			if _, _, err := net.SplitHostPort(e); err == nil {
				return e, nil
			}
			continue
		}
		u, err := url.Parse(e)
		if err != nil || u.Host == "" {
			continue
		}
		for _, s := range schemes {
			if u.Scheme == s {
				return u.Host, nil
			}
		}
	}
	return "", ErrNoTarget
}

// ParseAddr resolves the advertised host:port of a listener bound to address.
// Unspecified hosts are replaced by the first global unicast interface address.
func ParseAddr(ln net.Listener, address string) (string, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil && ln == nil {
		return "", err
	}
	if ln != nil {
		tcpAddr, ok := ln.Addr().(*net.TCPAddr)
		if !ok {
			return "", errors.New("parse addr error")
		}
		port = strconv.Itoa(tcpAddr.Port)
	}
	if ip := net.ParseIP(host); host != "" && (ip == nil || !ip.IsUnspecified()) {
		return net.JoinHostPort(host, port), nil
	}

	is, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	index := int(^uint(0) >> 1)
	ips := make([]net.IP, 0)
	for _, i := range is {
		if (i.Flags & net.FlagUp) == 0 {
			continue
		}
		if i.Index >= index && len(ips) != 0 {
			continue
		}

		addr, e := i.Addrs()
		if e != nil {
			continue
		}
		for _, a := range addr {
			var ip net.IP
			switch at := a.(type) {
			case *net.IPAddr:
				ip = at.IP
			case *net.IPNet:
				ip = at.IP
			default:
				continue
			}
			if !ip.IsGlobalUnicast() || ip.IsInterfaceLocalMulticast() {
				continue
			}
			index = i.Index
			ips = append(ips, ip)
			if ip.To4() != nil {
				break
			}
		}
	}
	if len(ips) == 0 {
		return net.JoinHostPort("127.0.0.1", port), nil
	}
	return net.JoinHostPort(ips[len(ips)-1].String(), port), nil
}
