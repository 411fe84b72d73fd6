// Package device derives a stable, privacy-conscious identifier for the
// current machine.
//
// The id is a SHA-256 hex digest over several local signals: the OS machine
// id (/etc/machine-id, IOPlatformUUID or the Windows MachineGuid), the primary
// hardware address and the CPU model. A missing signal changes the id but does
// not fail derivation; only when every source is unavailable does ID return
// ErrUnavailable. Derivation never touches the network and needs no privileges.
//
//	id, err := device.ID()
//	info, err := device.Current()
//	fmt.Println(info.Name(), info.Platform)
//
// Set LYCENTO_DEVICE_ID to pin the id explicitly, e.g. in containers.
package device
