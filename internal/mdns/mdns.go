// Package mdns finds rtl_tcp servers announced over multicast DNS and
// announces the built-in mock server.
package mdns

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

// DefaultService is the DNS-SD service type rtl_tcp servers are announced as.
const DefaultService = "_rtl_tcp._tcp"

const domain = "local."

// Server represents a discovered rtl_tcp endpoint.
type Server struct {
	Instance  string // Advertised name: "rtl_tcp on shack"
	Hostname  string // DNS hostname: "shack.local."
	Addresses []net.IP
	Port      int
	TXT       []string
}

// Address returns host:port, preferring an IPv4 address over the hostname.
func (s Server) Address() string {
	host := strings.TrimSuffix(s.Hostname, ".")
	for _, ip := range s.Addresses {
		if ip.To4() != nil {
			host = ip.String()
			break
		}
	}
	if host == "" && len(s.Addresses) > 0 {
		host = s.Addresses[0].String()
	}
	return net.JoinHostPort(host, strconv.Itoa(s.Port))
}

// Discover browses for service (DefaultService when empty) until timeout or
// ctx ends and returns the deduplicated servers sorted by instance name.
func Discover(ctx context.Context, service string, timeout time.Duration) ([]Server, error) {
	if service == "" {
		service = DefaultService
	}
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("resolver error: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	resultMap := make(map[string]Server)

	// Consumer goroutine
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				if e == nil {
					continue
				}
				s := fromEntry(e)
				resultMap[fmt.Sprintf("%s|%d", s.Hostname, s.Port)] = s
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		return nil, fmt.Errorf("browse error: %w", err)
	}

	<-done // wait for results

	out := make([]Server, 0, len(resultMap))
	for _, s := range resultMap {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Instance != out[j].Instance {
			return out[i].Instance < out[j].Instance
		}
		return out[i].Port < out[j].Port
	})
	return out, nil
}

func fromEntry(e *zeroconf.ServiceEntry) Server {
	// Consolidate IPs (both v4 and v6)
	addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	addrs = append(addrs, e.AddrIPv4...)
	addrs = append(addrs, e.AddrIPv6...)
	return Server{
		Instance:  cleanInstance(e.Instance),
		Hostname:  e.HostName,
		Addresses: addrs,
		Port:      e.Port,
		TXT:       append([]string{}, e.Text...),
	}
}

// Announcement is a running service registration.
type Announcement struct {
	srv *zeroconf.Server
}

// Announce registers instance on port under service (DefaultService when
// empty) until Shutdown.
func Announce(instance, service string, port int, txt []string) (*Announcement, error) {
	if service == "" {
		service = DefaultService
	}
	srv, err := zeroconf.Register(instance, service, domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", service, err)
	}
	return &Announcement{srv: srv}, nil
}

// Shutdown withdraws the announcement.
func (a *Announcement) Shutdown() {
	if a != nil && a.srv != nil {
		a.srv.Shutdown()
	}
}

// cleanInstance removes Zeroconf escape sequences: "\ " => " "
func cleanInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}
