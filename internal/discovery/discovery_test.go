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

package discovery

import (
	"net"
	"testing"

	"github.com/hashicorp/mdns"
)

func TestParseEntryExtractsTxtFields(t *testing.T) {
	entry := &mdns.ServiceEntry{
		AddrV4: net.ParseIP("10.0.0.5"),
		Port:   9187,
		InfoFields: []string{
			"node_id=node-a",
			"home_dir=/var/lib/redolog",
			"version=1.0.0",
		},
	}

	inst := parseEntry(entry)

	if inst.NodeID != "node-a" {
		t.Errorf("NodeID = %q, want %q", inst.NodeID, "node-a")
	}
	if inst.HomeDir != "/var/lib/redolog" {
		t.Errorf("HomeDir = %q, want %q", inst.HomeDir, "/var/lib/redolog")
	}
	if inst.Version != "1.0.0" {
		t.Errorf("Version = %q, want %q", inst.Version, "1.0.0")
	}
	if inst.MetricsAddr != "10.0.0.5:9187" {
		t.Errorf("MetricsAddr = %q, want %q", inst.MetricsAddr, "10.0.0.5:9187")
	}
}

func TestParseEntryIgnoresMalformedFields(t *testing.T) {
	entry := &mdns.ServiceEntry{
		AddrV4:     net.ParseIP("127.0.0.1"),
		Port:       9187,
		InfoFields: []string{"not-a-key-value-pair", "node_id=node-b"},
	}

	inst := parseEntry(entry)
	if inst.NodeID != "node-b" {
		t.Errorf("NodeID = %q, want %q", inst.NodeID, "node-b")
	}
}

func TestNewAdvertiserDisabledIsNoopAndStoppable(t *testing.T) {
	a, err := NewAdvertiser(Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewAdvertiser: %v", err)
	}
	// Must not panic even though no server was started.
	a.Stop()
}

func TestNewAdvertiserRejectsUnparsableMetricsAddr(t *testing.T) {
	_, err := NewAdvertiser(Config{Enabled: true, NodeID: "node-a", MetricsAddr: "not-a-host-port"})
	if err == nil {
		t.Fatal("expected an error for an unparsable metrics address")
	}
}
