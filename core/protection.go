package core

// FaultCause records why the supervisor tripped. Several causes can be
// latched at once.
type FaultCause uint8

const (
	CauseFaultLine FaultCause = 1 << 0 // hardware fault line asserted
	CauseRange     FaultCause = 1 << 1 // persistent out-of-range voltage
	CauseOverload  FaultCause = 1 << 2 // duty pinned at a limit too long
	CauseNone      FaultCause = 0
)

// String returns a short name for logs and the host link.
func (c FaultCause) String() string {
	if c == CauseNone {
		return "none"
	}
	s := ""
	if c&CauseFaultLine != 0 {
		s += "+fault_line"
	}
	if c&CauseRange != 0 {
		s += "+range"
	}
	if c&CauseOverload != 0 {
		s += "+overload"
	}
	return s[1:]
}

// Supervisor evaluates the safety conditions once per control tick,
// alongside the regulator. It only latches and reports: the hardware fault
// line has already disabled the outputs by the time software sees it, and
// the mode machine performs the transition to Fault.
type Supervisor struct {
	limits ProtectionLimits

	ctRange uint16
	latched FaultCause
}

// NewSupervisor creates a supervisor with clear counters.
func NewSupervisor(limits ProtectionLimits) *Supervisor {
	return &Supervisor{limits: limits}
}

// CheckFaultLine latches a hardware fault while the line is asserted.
func (s *Supervisor) CheckFaultLine(asserted bool) bool {
	if asserted {
		s.latched |= CauseFaultLine
	}
	return asserted
}

// CheckRange counts out-of-range samples. The counter rises on every bad
// sample and decays on every good one, so transient noise is tolerated and
// only MaxRange net bad samples trip.
func (s *Supervisor) CheckRange(sample Sample) bool {
	l := s.limits
	if sample.VinMilliVolts < l.VinMin || sample.VinMilliVolts > l.VinMax || sample.VoutMilliVolts > l.VoutMax {
		if s.ctRange < 0xFFFF {
			s.ctRange++
		}
	} else if s.ctRange > 0 {
		s.ctRange--
	}
	if s.ctRange >= l.MaxRange {
		s.latched |= CauseRange
		return true
	}
	return false
}

// CheckSaturation trips when either regulator saturation counter reaches
// MaxOverload: the converter cannot reach its target.
func (s *Supervisor) CheckSaturation(ctMax, ctMin uint16) bool {
	if ctMax >= s.limits.MaxOverload || ctMin >= s.limits.MaxOverload {
		s.latched |= CauseOverload
		return true
	}
	return false
}

// Latched reports whether any fault cause is latched.
func (s *Supervisor) Latched() bool {
	return s.latched != CauseNone
}

// Cause returns the latched causes.
func (s *Supervisor) Cause() FaultCause {
	return s.latched
}

// RangeCount returns CTRange.
func (s *Supervisor) RangeCount() uint16 {
	return s.ctRange
}

// Clear drops the latch and the range counter. Called only when an
// operator acknowledgement has been accepted.
func (s *Supervisor) Clear() {
	s.latched = CauseNone
	s.ctRange = 0
}
