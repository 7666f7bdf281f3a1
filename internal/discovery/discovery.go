/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package discovery advertises a running redologd instance on the local
network via mDNS, so an operator's redologctl can find it without being
told a host:port up front. This is ambient daemon-lifecycle plumbing,
not part of the log engine's durability contract: a redologd with
discovery disabled behaves identically on the write path.

Service Type:
=============

redologd advertises itself as: _redologd._tcp.local.

Each instance publishes:
  - Instance name: <node-id>._redologd._tcp.local.
  - Port: the metrics/control HTTP port
  - TXT records: node_id, home_dir, version
*/
package discovery

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the mDNS service type redologd advertises under.
const ServiceType = "_redologd._tcp"

// DefaultLookupTimeout bounds how long a redologctl client waits for
// mDNS responses before giving up.
const DefaultLookupTimeout = 3 * time.Second

// Config describes the instance being advertised.
type Config struct {
	NodeID      string
	MetricsAddr string // host:port the metrics/control HTTP server listens on
	HomeDir     string
	Version     string
	Enabled     bool
}

// Advertiser owns the mDNS server advertising this redologd instance,
// and can be stopped cleanly on shutdown.
type Advertiser struct {
	mu      sync.Mutex
	server  *mdns.Server
	running bool
}

// NewAdvertiser starts advertising cfg over mDNS. Returns a no-op,
// already-stopped Advertiser (not an error) if cfg.Enabled is false, so
// callers can unconditionally defer Stop.
func NewAdvertiser(cfg Config) (*Advertiser, error) {
	a := &Advertiser{}
	if !cfg.Enabled {
		return a, nil
	}

	host, portStr, err := net.SplitHostPort(cfg.MetricsAddr)
	if err != nil {
		return nil, fmt.Errorf("discovery: invalid metrics address %q: %w", cfg.MetricsAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("discovery: invalid metrics port %q: %w", portStr, err)
	}

	var ips []net.IP
	if host == "" || host == "0.0.0.0" {
		ips = localIPs()
	} else if ip := net.ParseIP(host); ip != nil {
		ips = []net.IP{ip}
	}

	txt := []string{
		"node_id=" + cfg.NodeID,
		"home_dir=" + cfg.HomeDir,
		"version=" + cfg.Version,
	}

	service, err := mdns.NewMDNSService(cfg.NodeID, ServiceType, "", "", port, ips, txt)
	if err != nil {
		return nil, fmt.Errorf("discovery: build mDNS service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("discovery: start mDNS server: %w", err)
	}

	a.server = server
	a.running = true
	return a, nil
}

// Stop shuts down the mDNS server, if one was started.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return
	}
	a.server.Shutdown()
	a.running = false
}

// Instance is a redologd instance found on the network.
type Instance struct {
	NodeID      string
	MetricsAddr string
	HomeDir     string
	Version     string
}

// Lookup queries the local network for redologd instances, waiting up
// to timeout for responses.
func Lookup(timeout time.Duration) ([]Instance, error) {
	if timeout == 0 {
		timeout = DefaultLookupTimeout
	}

	entries := make(chan *mdns.ServiceEntry, 16)
	var found []Instance
	var mu sync.Mutex

	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			mu.Lock()
			found = append(found, parseEntry(entry))
			mu.Unlock()
		}
	}()

	params := &mdns.QueryParam{
		Service:             ServiceType,
		Domain:              "local",
		Timeout:             timeout,
		Entries:             entries,
		WantUnicastResponse: true,
	}
	if err := mdns.Query(params); err != nil {
		close(entries)
		return nil, fmt.Errorf("discovery: mDNS query failed: %w", err)
	}
	close(entries)
	<-done

	return found, nil
}

func parseEntry(entry *mdns.ServiceEntry) Instance {
	inst := Instance{MetricsAddr: fmt.Sprintf("%s:%d", entry.AddrV4, entry.Port)}
	for _, field := range entry.InfoFields {
		k, v, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch k {
		case "node_id":
			inst.NodeID = v
		case "home_dir":
			inst.HomeDir = v
		case "version":
			inst.Version = v
		}
	}
	return inst
}

func localIPs() []net.IP {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	var ips []net.IP
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			ips = append(ips, ip4)
		}
	}
	return ips
}
