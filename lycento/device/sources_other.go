//go:build !linux && !darwin && !windows

package device

import (
	"errors"
	"runtime"
)

var errUnsupported = errors.New("not supported on " + runtime.GOOS)

func machineID() (string, error) { return "", errUnsupported }

func cpuModel() (string, error) { return "", errUnsupported }

func osVersion() (string, error) { return "", errUnsupported }
