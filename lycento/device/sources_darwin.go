package device

import (
	"context"
	"errors"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

const commandTimeout = 2 * time.Second

var platformUUIDPattern = regexp.MustCompile(`"IOPlatformUUID"\s*=\s*"([^"]+)"`)

func run(name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func machineID() (string, error) {
	out, err := run("ioreg", "-rd1", "-c", "IOPlatformExpertDevice")
	if err != nil {
		return "", err
	}
	m := platformUUIDPattern.FindStringSubmatch(out)
	if m == nil {
		return "", errors.New("IOPlatformUUID not found")
	}
	return m[1], nil
}

func cpuModel() (string, error) {
	return run("sysctl", "-n", "machdep.cpu.brand_string")
}

func osVersion() (string, error) {
	v, err := run("sw_vers", "-productVersion")
	if err != nil {
		return "", err
	}
	return "macOS " + v, nil
}
