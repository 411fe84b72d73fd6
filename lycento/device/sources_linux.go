package device

import (
	"bufio"
	"bytes"
	"errors"
	"os"
	"strings"
)

var machineIDPaths = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}

func machineID() (string, error) {
	var lastErr error
	for _, path := range machineIDPaths {
		raw, err := os.ReadFile(path)
		if err != nil {
			lastErr = err
			continue
		}
		if id := strings.TrimSpace(string(raw)); id != "" {
			return id, nil
		}
	}
	if lastErr == nil {
		lastErr = errors.New("machine-id is empty")
	}
	return "", lastErr
}

func cpuModel() (string, error) {
	raw, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		return "", err
	}
	return parseCPUInfo(raw)
}

// parseCPUInfo returns the first model line of /proc/cpuinfo. ARM kernels
// report "Hardware" or "CPU part" instead of "model name".
func parseCPUInfo(raw []byte) (string, error) {
	keys := []string{"model name", "Hardware", "cpu model", "CPU part"}
	found := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		k, v, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if _, seen := found[k]; !seen {
			found[k] = strings.TrimSpace(v)
		}
	}
	for _, k := range keys {
		if v := found[k]; v != "" {
			return v, nil
		}
	}
	return "", errors.New("no cpu model in /proc/cpuinfo")
}

func osVersion() (string, error) {
	if raw, err := os.ReadFile("/etc/os-release"); err == nil {
		if v := parseOSRelease(raw); v != "" {
			return v, nil
		}
	}
	raw, err := os.ReadFile("/proc/sys/kernel/osrelease")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func parseOSRelease(raw []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		k, v, ok := strings.Cut(sc.Text(), "=")
		if ok && k == "PRETTY_NAME" {
			return strings.Trim(strings.TrimSpace(v), `"`)
		}
	}
	return ""
}
