package replication

import (
	"context"
	"net"
	"net/url"
)

// NetworkProbe reports whether the device can reach the network at all.
type NetworkProbe interface {
	Online(ctx context.Context, endpoint *url.URL) bool
}

// InterfaceProbe considers the device online when a non-loopback interface
// is up and the endpoint's host name resolves. Loopback endpoints are always
// reachable.
type InterfaceProbe struct{}

// Online implements NetworkProbe.
func (InterfaceProbe) Online(ctx context.Context, endpoint *url.URL) bool {
	host := endpoint.Hostname()
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return true
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	up := false
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if addrs, err := iface.Addrs(); err == nil && len(addrs) > 0 {
			up = true
			break
		}
	}
	if !up {
		return false
	}

	if net.ParseIP(host) != nil {
		return true
	}
	_, err = net.DefaultResolver.LookupHost(ctx, host)
	return err == nil
}
