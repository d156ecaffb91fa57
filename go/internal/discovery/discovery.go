// Package discovery finds relays on the local network over mDNS.
package discovery

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog/log"
)

const (
	ServiceType = "_drawwithfriends._tcp"

	// TXT keys.
	pathKey    = "path"
	versionKey = "version"

	protocolVersion = "1"
)

// Relay is one relay found on the network.
type Relay struct {
	Instance string
	Host     string
	IP       net.IP
	Port     int
	Path     string
}

// URL is the relay's WebSocket endpoint.
func (r Relay) URL() string {
	return "ws://" + net.JoinHostPort(r.IP.String(), strconv.Itoa(r.Port)) + r.Path
}

// Advertiser keeps a relay registered until Shutdown.
type Advertiser struct {
	server *mdns.Server
}

// Advertise registers a relay listening on port with the WebSocket endpoint
// at path.
func Advertise(instance string, port int, path string) (*Advertiser, error) {
	info := []string{pathKey + "=" + path, versionKey + "=" + protocolVersion}

	service, err := mdns.NewMDNSService(
		instance,
		ServiceType,
		"", // .local
		"", // OS hostname
		port,
		nil, // auto-detect IPs
		info,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}

	log.Info().
		Str("instance", instance).
		Str("service", ServiceType).
		Int("port", port).
		Msg("advertising relay over mDNS")
	return &Advertiser{server: server}, nil
}

func (a *Advertiser) Shutdown() error {
	return a.server.Shutdown()
}

// Browse queries the network for timeout and returns the relays found,
// sorted by instance name.
func Browse(timeout time.Duration) ([]Relay, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	found := make(map[string]Relay)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			r, ok := relayFromEntry(e)
			if !ok {
				continue
			}
			found[r.URL()] = r
		}
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true
	err := mdns.Query(params)
	close(entries)
	<-done
	if err != nil {
		return nil, fmt.Errorf("mDNS query: %w", err)
	}

	relays := make([]Relay, 0, len(found))
	for _, r := range found {
		relays = append(relays, r)
	}
	sort.Slice(relays, func(i, j int) bool {
		if relays[i].Instance != relays[j].Instance {
			return relays[i].Instance < relays[j].Instance
		}
		return relays[i].URL() < relays[j].URL()
	})
	return relays, nil
}

// relayFromEntry keeps entries that speak our protocol and have an IPv4
// address.
func relayFromEntry(e *mdns.ServiceEntry) (Relay, bool) {
	if e == nil || e.AddrV4 == nil || e.Port == 0 {
		return Relay{}, false
	}
	fields := parseInfo(e.InfoFields)
	if v, ok := fields[versionKey]; ok && v != protocolVersion {
		return Relay{}, false
	}
	path := fields[pathKey]
	if path == "" {
		path = "/ws"
	}
	return Relay{
		Instance: instanceName(e.Name),
		Host:     e.Host,
		IP:       e.AddrV4,
		Port:     e.Port,
		Path:     path,
	}, true
}

func parseInfo(fields []string) map[string]string {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}

// instanceName strips the service and domain from a full entry name such
// as "studio._drawwithfriends._tcp.local.".
func instanceName(name string) string {
	if i := strings.Index(name, "."+ServiceType); i >= 0 {
		return name[:i]
	}
	return strings.TrimSuffix(name, ".")
}
