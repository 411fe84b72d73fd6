package device

import (
	"errors"
	"net"
	"os"
	"runtime"
	"sort"
	"strings"
)

// Source names used by DefaultSources.
const (
	SourceMachineID = "machine-id"
	SourceMAC       = "mac"
	SourceCPU       = "cpu"
)

// Attribute keys set on Info.Attributes.
const (
	AttrHostname  = "hostname"
	AttrOSVersion = "os_version"
	AttrArch      = "arch"
)

var errNoMAC = errors.New("no hardware address found")

// virtualPrefixes are interface names that appear and disappear with
// containers, VPNs and hypervisors.
var virtualPrefixes = []string{
	"docker", "veth", "br-", "virbr", "vmnet", "vboxnet", "utun", "tun", "tap", "zt", "wg",
}

// DefaultSources returns the signal sources for the current platform.
func DefaultSources() []Source {
	return []Source{
		NewSource(SourceMachineID, machineID),
		NewSource(SourceMAC, primaryMAC),
		NewSource(SourceCPU, cpuModel),
	}
}

// primaryMAC returns the lowest sorted globally administered hardware address
// of a non-loopback, non-virtual interface.
func primaryMAC() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	var macs []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || isVirtual(iface.Name) {
			continue
		}
		hw := iface.HardwareAddr
		if len(hw) == 0 || isZero(hw) || hw[0]&0x02 != 0 {
			continue
		}
		macs = append(macs, hw.String())
	}
	if len(macs) == 0 {
		return "", errNoMAC
	}
	sort.Strings(macs)
	return macs[0], nil
}

func isVirtual(name string) bool {
	name = strings.ToLower(name)
	for _, prefix := range virtualPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func isZero(hw net.HardwareAddr) bool {
	for _, b := range hw {
		if b != 0 {
			return false
		}
	}
	return true
}

// gatherAttributes collects display metadata. Each lookup is independent.
func gatherAttributes() map[string]string {
	attrs := map[string]string{AttrArch: runtime.GOARCH}
	if hostname, err := os.Hostname(); err == nil && strings.TrimSpace(hostname) != "" {
		attrs[AttrHostname] = strings.TrimSpace(hostname)
	}
	if v, err := osVersion(); err == nil && v != "" {
		attrs[AttrOSVersion] = v
	}
	return attrs
}
