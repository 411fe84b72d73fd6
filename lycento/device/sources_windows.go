package device

import (
	"errors"
	"os"
	"strings"

	"golang.org/x/sys/windows/registry"
)

func readRegistryString(path, name string) (string, error) {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, path, registry.QUERY_VALUE|registry.WOW64_64KEY)
	if err != nil {
		return "", err
	}
	defer k.Close()
	v, _, err := k.GetStringValue(name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(v), nil
}

func machineID() (string, error) {
	return readRegistryString(`SOFTWARE\Microsoft\Cryptography`, "MachineGuid")
}

func cpuModel() (string, error) {
	if v, err := readRegistryString(`HARDWARE\DESCRIPTION\System\CentralProcessor\0`, "ProcessorNameString"); err == nil && v != "" {
		return v, nil
	}
	if v := strings.TrimSpace(os.Getenv("PROCESSOR_IDENTIFIER")); v != "" {
		return v, nil
	}
	return "", errors.New("no processor identifier")
}

func osVersion() (string, error) {
	const key = `SOFTWARE\Microsoft\Windows NT\CurrentVersion`
	name, err := readRegistryString(key, "ProductName")
	if err != nil {
		return "", err
	}
	if build, err := readRegistryString(key, "CurrentBuild"); err == nil && build != "" {
		return name + " (build " + build + ")", nil
	}
	return name, nil
}
