package discovery

import (
	"net"
	"testing"

	"github.com/hashicorp/mdns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayFromEntry(t *testing.T) {
	r, ok := relayFromEntry(&mdns.ServiceEntry{
		Name:       "studio._drawwithfriends._tcp.local.",
		Host:       "studio.local.",
		AddrV4:     net.IPv4(192, 168, 1, 20),
		Port:       8080,
		InfoFields: []string{"path=/ws", "version=1"},
	})
	require.True(t, ok)
	assert.Equal(t, "studio", r.Instance)
	assert.Equal(t, "ws://192.168.1.20:8080/ws", r.URL())
}

func TestRelayFromEntryDefaultsPath(t *testing.T) {
	r, ok := relayFromEntry(&mdns.ServiceEntry{
		Name:   "kitchen._drawwithfriends._tcp.local.",
		AddrV4: net.IPv4(10, 0, 0, 2),
		Port:   9000,
	})
	require.True(t, ok)
	assert.Equal(t, "/ws", r.Path)
}

func TestRelayFromEntryRejects(t *testing.T) {
	tests := []struct {
		name  string
		entry *mdns.ServiceEntry
	}{
		{"nil", nil},
		{"no ipv4", &mdns.ServiceEntry{Name: "a", Port: 80}},
		{"no port", &mdns.ServiceEntry{Name: "a", AddrV4: net.IPv4(10, 0, 0, 1)}},
		{"other version", &mdns.ServiceEntry{Name: "a", AddrV4: net.IPv4(10, 0, 0, 1), Port: 80, InfoFields: []string{"version=2"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := relayFromEntry(tt.entry)
			assert.False(t, ok)
		})
	}
}

func TestInstanceName(t *testing.T) {
	assert.Equal(t, "studio", instanceName("studio._drawwithfriends._tcp.local."))
	assert.Equal(t, "plain", instanceName("plain."))
}
