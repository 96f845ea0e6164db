// Package discovery advertises the relay on the local network over mDNS so
// clients on the same LAN can find a board server without configuration.
package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/hashicorp/mdns"
)

const ServiceType = "_waveboard._tcp"

// Advertiser keeps the mDNS responder alive until Shutdown.
type Advertiser struct {
	server *mdns.Server
}

// Advertise announces instance on port. An empty instance uses the host name.
func Advertise(instance string, port int) (*Advertiser, error) {
	service, err := newService(instance, "", port, nil)
	if err != nil {
		return nil, err
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("start mDNS server: %w", err)
	}
	return &Advertiser{server: server}, nil
}

func (a *Advertiser) Shutdown() error {
	return a.server.Shutdown()
}

func newService(instance, host string, port int, ips []net.IP) (*mdns.MDNSService, error) {
	if instance == "" {
		h, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("could not get hostname: %w", err)
		}
		instance = h
	}
	service, err := mdns.NewMDNSService(instance, ServiceType, "", host, port, ips, []string{"waveboard relay", "path=/ws"})
	if err != nil {
		return nil, fmt.Errorf("create mDNS service: %w", err)
	}
	return service, nil
}

// Browse collects relays answering within timeout as host:port strings.
func Browse(ctx context.Context, timeout time.Duration) ([]string, error) {
	entries := make(chan *mdns.ServiceEntry, 8)
	done := make(chan []string)
	go func() {
		var found []string
		for e := range entries {
			if addr, ok := entryAddr(e); ok {
				found = append(found, addr)
			}
		}
		done <- found
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true

	err := mdns.QueryContext(ctx, params)
	close(entries)
	found := <-done
	if err != nil {
		return found, fmt.Errorf("mDNS lookup: %w", err)
	}
	return found, nil
}

func entryAddr(e *mdns.ServiceEntry) (string, bool) {
	if e == nil || e.AddrV4 == nil || e.Port == 0 {
		return "", false
	}
	return net.JoinHostPort(e.AddrV4.String(), fmt.Sprint(e.Port)), true
}
