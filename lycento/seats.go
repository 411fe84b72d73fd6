package lycento

import "fmt"

// SeatUsage is the activation budget of a license. A Limit of 0 means
// unlimited.
type SeatUsage struct {
	Limit int
	Used  int
}

// NewSeatUsage reads the activation counters of info.
func NewSeatUsage(info *LicenseInfo) SeatUsage {
	if info == nil {
		return SeatUsage{}
	}
	return SeatUsage{Limit: info.ActivationLimit, Used: info.ActivationCount}
}

// Unlimited reports whether the license has no activation limit.
func (s SeatUsage) Unlimited() bool {
	return s.Limit <= 0
}

// Remaining returns the number of free activations, or -1 when unlimited.
func (s SeatUsage) Remaining() int {
	if s.Unlimited() {
		return -1
	}
	if s.Used >= s.Limit {
		return 0
	}
	return s.Limit - s.Used
}

func (s SeatUsage) String() string {
	if s.Unlimited() {
		return fmt.Sprintf("%d/unlimited", s.Used)
	}
	return fmt.Sprintf("%d/%d", s.Used, s.Limit)
}

// CheckSeats returns an ActivationError with ActivationLimitExceeded when
// info has no free activation. Returns nil for unlimited licenses. The check
// is advisory; the service remains the authority.
func CheckSeats(info *LicenseInfo) error {
	usage := NewSeatUsage(info)
	if usage.Remaining() != 0 {
		return nil
	}
	return &ActivationError{
		Code:   ActivationLimitExceeded,
		Reason: fmt.Sprintf("%d of %d activations in use", usage.Used, usage.Limit),
	}
}
