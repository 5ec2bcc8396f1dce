// ABOUTME: mDNS service discovery for the stagesound control endpoint
// ABOUTME: Advertises the daemon and browses for daemons on the local network
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the DNS-SD service type of the control endpoint
const ServiceType = "_stagesound._tcp"

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
	Path        string // advertised as the path TXT record (default /stagesound)
	Logger      *slog.Logger
}

// Manager handles mDNS operations
type Manager struct {
	config Config
	logger *slog.Logger

	mu     sync.Mutex
	server *mdns.Server
}

// ServerInfo describes a discovered daemon
type ServerInfo struct {
	Name string
	Host string
	Port int
	Path string
}

// Addr returns host:port
func (s ServerInfo) Addr() string {
	return net.JoinHostPort(s.Host, fmt.Sprint(s.Port))
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	if config.Path == "" {
		config.Path = "/stagesound"
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Manager{
		config: config,
		logger: config.Logger.With("module", "discovery"),
	}
}

// Advertise announces the control endpoint via mDNS until Stop
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		[]string{"path=" + m.config.Path},
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	m.mu.Lock()
	m.server = server
	m.mu.Unlock()

	m.logger.Info("advertising service", "name", m.config.ServiceName, "port", m.config.Port, "type", ServiceType)
	return nil
}

// Browse queries the network for daemons until timeout or ctx is done
func (m *Manager) Browse(ctx context.Context, timeout time.Duration) ([]ServerInfo, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true

	var servers []ServerInfo
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for entry := range entries {
			info, ok := toServerInfo(entry)
			if !ok {
				continue
			}
			m.logger.Debug("discovered server", "name", info.Name, "addr", info.Addr())
			servers = append(servers, info)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- mdns.Query(params)
		close(entries)
	}()

	select {
	case err := <-errCh:
		<-collected
		if err != nil {
			return servers, fmt.Errorf("mdns query: %w", err)
		}
		return servers, nil
	case <-ctx.Done():
		// The query finishes on its own timeout
		return nil, ctx.Err()
	}
}

func toServerInfo(entry *mdns.ServiceEntry) (ServerInfo, bool) {
	if entry == nil || entry.AddrV4 == nil {
		return ServerInfo{}, false
	}
	info := ServerInfo{
		Name: strings.TrimSuffix(entry.Name, "."+ServiceType+".local."),
		Host: entry.AddrV4.String(),
		Port: entry.Port,
		Path: "/stagesound",
	}
	for _, field := range entry.InfoFields {
		if path, ok := strings.CutPrefix(field, "path="); ok {
			info.Path = path
		}
	}
	return info, true
}

// Stop stops advertising
func (m *Manager) Stop() {
	m.mu.Lock()
	server := m.server
	m.server = nil
	m.mu.Unlock()

	if server != nil {
		if err := server.Shutdown(); err != nil {
			m.logger.Debug("mdns shutdown", "error", err)
		}
	}
}

// getLocalIPs returns local IPv4 addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
