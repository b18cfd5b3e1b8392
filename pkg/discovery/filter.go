/*
 * Copyright 2025 Carver Automation Corporation.
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
	"net/netip"
	"strings"
)

// Router addresses that are never a companion device.
var commonInfraAddrs = []string{
	"192.168.1.1",
	"192.168.0.1",
	"192.168.1.254",
	"10.0.0.1",
}

// normalizeHost lower-cases a hostname and strips trailing dots and the
// .local/.home suffixes, so mDNS and reverse-DNS spellings of the same
// device resolve to one identity.
func normalizeHost(host string) string {
	h := strings.ToLower(strings.TrimSpace(host))
	h = strings.TrimSuffix(h, ".")
	h = strings.TrimSuffix(h, ".local")
	h = strings.TrimSuffix(h, ".home")

	return h
}

// matchesNamePattern reports whether a normalized hostname fits the device
// naming convention: equal to a pattern, or pattern followed by "-" or "_".
func matchesNamePattern(host string, patterns []string) bool {
	if host == "" {
		return false
	}

	for _, p := range patterns {
		p = strings.ToLower(p)
		if host == p || strings.HasPrefix(host, p+"-") || strings.HasPrefix(host, p+"_") {
			return true
		}
	}

	return false
}

// buildIgnoredAddrs collects addresses that must never be admitted as
// sightings: the host machine's own addresses, likely gateways of each local
// subnet, and well-known router addresses. Infrastructure gear answering on
// the probe port would otherwise show up as a phantom device.
func buildIgnoredAddrs() map[string]struct{} {
	ignored := make(map[string]struct{})

	for _, addr := range commonInfraAddrs {
		ignored[addr] = struct{}{}
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return ignored
	}

	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}

		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if ok && ipNet.IP.To4() != nil {
				ignored[ipNet.IP.String()] = struct{}{}

				// The .1 and .254 of every directly attached subnet
				// are assumed to be infrastructure.
				if prefix, err := prefixFromIPNet(ipNet); err == nil {
					base := prefix.Masked().Addr().As4()
					base[3] = 1
					ignored[netip.AddrFrom4(base).String()] = struct{}{}
					base[3] = 254
					ignored[netip.AddrFrom4(base).String()] = struct{}{}
				}
			}
		}
	}

	return ignored
}

// localNetworks returns the IPv4 prefixes of the machine's non-loopback
// interfaces, clamped to /24 to keep probe sweeps bounded on wide subnets.
func localNetworks() []netip.Prefix {
	var out []netip.Prefix

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	for i := range ifaces {
		if ifaces[i].Flags&net.FlagLoopback != 0 || ifaces[i].Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}

		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok || ipNet.IP.To4() == nil {
				continue
			}

			prefix, err := prefixFromIPNet(ipNet)
			if err != nil {
				continue
			}

			if prefix.Bits() < 24 {
				addr := prefix.Addr()
				prefix = netip.PrefixFrom(addr, 24)
			}

			out = append(out, prefix.Masked())
		}
	}

	return out
}

func prefixFromIPNet(ipNet *net.IPNet) (netip.Prefix, error) {
	addr, err := netip.ParseAddr(ipNet.IP.String())
	if err != nil {
		return netip.Prefix{}, err
	}

	ones, _ := ipNet.Mask.Size()

	return netip.PrefixFrom(addr, ones), nil
}

// hostsInPrefix enumerates the usable host addresses of an IPv4 prefix,
// excluding the network and broadcast addresses.
func hostsInPrefix(prefix netip.Prefix) []string {
	if !prefix.Addr().Is4() {
		return nil
	}

	var out []string

	first := prefix.Masked().Addr()
	for addr := first.Next(); prefix.Contains(addr); addr = addr.Next() {
		out = append(out, addr.String())
	}

	// Drop the broadcast address.
	if len(out) > 0 {
		out = out[:len(out)-1]
	}

	return out
}
