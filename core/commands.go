package core

import (
	"sync/atomic"

	"buckboost/protocol"
)

// FirmwareVersion is reported in the link dictionary.
const FirmwareVersion = "buckboost-0.1.0"

// Sender is the outbound half of the link transport.
type Sender interface {
	SendCommand(cmdID uint16, args func(output protocol.OutputBuffer))
}

// Link exposes a Converter to a host over the framed protocol. Handlers run
// in the background loop, next to Converter.Background, and only use the
// converter's request API.
type Link struct {
	conv *Converter
	reg  *CommandRegistry
	dict *Dictionary
	out  Sender

	idIdentifyResponse uint16
	idConfig           uint16
	idStatus           uint16
	idEvent            uint16
	idEventsDone       uint16

	sched          Scheduler
	report         Timer
	reportInterval uint32

	resetPending uint32
	resetHandler func()
}

// NewLink registers the converter commands. Registration order is part of
// the protocol: identify_response must be ID 0 and identify ID 1.
func NewLink(conv *Converter, mcu string, clockFreq uint32) *Link {
	l := &Link{conv: conv, reg: NewCommandRegistry()}
	l.dict = NewDictionary(l.reg, FirmwareVersion)

	l.idIdentifyResponse = l.reg.RegisterResponse("identify_response", "offset=%u data=%.*s")
	l.reg.Register("identify", "offset=%u count=%c", l.handleIdentify)

	l.reg.Register("get_config", "", l.handleGetConfig)
	l.reg.Register("get_status", "", l.handleGetStatus)
	l.reg.Register("get_events", "", l.handleGetEvents)
	l.reg.Register("set_target", "millivolts=%u", l.handleSetTarget)
	l.reg.Register("request_mode", "mode=%c", l.handleRequestMode)
	l.reg.Register("advance_mode", "", l.handleAdvanceMode)
	l.reg.Register("start_converter", "", l.handleStart)
	l.reg.Register("stop_converter", "", l.handleStop)
	l.reg.Register("ack_fault", "held=%c", l.handleAckFault)
	l.reg.Register("report_status", "interval=%u", l.handleReportStatus)
	l.reg.Register("reset", "", l.handleReset)

	l.idConfig = l.reg.RegisterResponse("config",
		"period=%u deadtime_rising=%u deadtime_falling=%u repetition=%c vin_min=%u vin_max=%u vout_max=%u")
	l.idStatus = l.reg.RegisterResponse("status",
		"mode=%c running=%c cause=%c vin=%u vout=%u target=%u duty=%u integral=%i"+
			" ct_max=%hu ct_min=%hu ct_range=%hu overruns=%u transitions=%u ticks=%u")
	l.idEvent = l.reg.RegisterResponse("event", "kind=%c mode=%c tick=%u value=%u")
	l.idEventsDone = l.reg.RegisterResponse("events_done", "count=%u")

	l.dict.AddConstant("MCU", mcu)
	l.dict.AddConstantUint("CLOCK_FREQ", clockFreq)
	l.dict.AddConstantUint("ADC_MAX", ADCMax)
	l.dict.AddConstantUint("PERIOD", conv.Config().Geometry.Period)
	l.dict.AddConstant("PROTOCOL", protocol.Version)

	l.report.Handler = l.sendReport
	return l
}

// SetSender attaches the transport used for responses.
func (l *Link) SetSender(s Sender) {
	l.out = s
}

// SetResetHandler installs the platform reset, run by CheckPendingReset.
func (l *Link) SetResetHandler(handler func()) {
	l.resetHandler = handler
}

// Registry returns the command registry.
func (l *Link) Registry() *CommandRegistry {
	return l.reg
}

// Dictionary returns the dictionary served to hosts.
func (l *Link) Dictionary() *Dictionary {
	return l.dict
}

// Dispatch is the transport's command handler.
func (l *Link) Dispatch(cmdID uint16, data *[]byte) error {
	return l.reg.Dispatch(cmdID, data)
}

// Background sends periodic status reports when enabled.
func (l *Link) Background(now uint32) {
	l.sched.Dispatch(now)
}

// HostReset drops per-session state after the host restarts its sequence.
func (l *Link) HostReset() {
	l.sched.Remove(&l.report)
	l.reportInterval = 0
}

// CheckPendingReset performs a requested reset. Call it after the ACK for
// the reset command has been flushed.
func (l *Link) CheckPendingReset() {
	if atomic.LoadUint32(&l.resetPending) != 0 && l.resetHandler != nil {
		l.resetHandler()
	}
}

func (l *Link) send(id uint16, args func(output protocol.OutputBuffer)) {
	if l.out != nil {
		l.out.SendCommand(id, args)
	}
}

func (l *Link) handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	chunk := l.dict.Chunk(offset, uint8(count))
	l.send(l.idIdentifyResponse, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQBytes(output, chunk)
	})
	return nil
}

func (l *Link) handleGetConfig(data *[]byte) error {
	cfg := l.conv.Config()
	g, p := cfg.Geometry, cfg.Protection
	l.send(l.idConfig, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, g.Period)
		protocol.EncodeVLQUint(output, g.DeadtimeRising)
		protocol.EncodeVLQUint(output, g.DeadtimeFalling)
		protocol.EncodeVLQUint(output, uint32(g.RepetitionPeriods))
		protocol.EncodeVLQUint(output, p.VinMin)
		protocol.EncodeVLQUint(output, p.VinMax)
		protocol.EncodeVLQUint(output, p.VoutMax)
	})
	return nil
}

func (l *Link) handleGetStatus(data *[]byte) error {
	l.sendStatus()
	return nil
}

func (l *Link) sendStatus() {
	s := l.conv.Status()
	running := uint32(0)
	if s.Running {
		running = 1
	}
	l.send(l.idStatus, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(s.Mode))
		protocol.EncodeVLQUint(output, running)
		protocol.EncodeVLQUint(output, uint32(s.Cause))
		protocol.EncodeVLQUint(output, s.VinMilliVolts)
		protocol.EncodeVLQUint(output, s.VoutMilliVolts)
		protocol.EncodeVLQUint(output, s.TargetMilliVolts)
		protocol.EncodeVLQUint(output, s.Duty)
		protocol.EncodeVLQInt(output, s.Integral)
		protocol.EncodeVLQUint(output, uint32(s.CTMax))
		protocol.EncodeVLQUint(output, uint32(s.CTMin))
		protocol.EncodeVLQUint(output, uint32(s.CTRange))
		protocol.EncodeVLQUint(output, s.Overruns)
		protocol.EncodeVLQUint(output, s.Transitions)
		protocol.EncodeVLQUint(output, s.Ticks)
	})
}

func (l *Link) handleGetEvents(data *[]byte) error {
	events := l.conv.Events()
	for _, evt := range events {
		l.send(l.idEvent, func(output protocol.OutputBuffer) {
			protocol.EncodeVLQUint(output, uint32(evt.Kind))
			protocol.EncodeVLQUint(output, uint32(evt.Mode))
			protocol.EncodeVLQUint(output, evt.Tick)
			protocol.EncodeVLQUint(output, evt.Value)
		})
	}
	l.send(l.idEventsDone, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(len(events)))
	})
	return nil
}

func (l *Link) handleSetTarget(data *[]byte) error {
	mv, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	return l.conv.SetTarget(mv)
}

func (l *Link) handleRequestMode(data *[]byte) error {
	mode, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	if mode >= uint32(modeCount) {
		return ErrUnknownMode
	}
	return l.conv.RequestMode(ConverterMode(mode))
}

func (l *Link) handleAdvanceMode(data *[]byte) error {
	l.conv.RequestAdvance()
	return nil
}

func (l *Link) handleStart(data *[]byte) error {
	l.conv.Start()
	return nil
}

func (l *Link) handleStop(data *[]byte) error {
	l.conv.Stop()
	return nil
}

func (l *Link) handleAckFault(data *[]byte) error {
	held, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	l.conv.SetAcknowledge(held != 0)
	return nil
}

// handleReportStatus enables periodic status messages every interval clock
// ticks; 0 disables them.
func (l *Link) handleReportStatus(data *[]byte) error {
	interval, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	l.sched.Remove(&l.report)
	l.reportInterval = interval
	if interval != 0 {
		l.report.WakeTime = l.sched.Now() + interval
		l.sched.Add(&l.report)
	}
	return nil
}

func (l *Link) sendReport(t *Timer) uint8 {
	l.sendStatus()
	t.WakeTime += l.reportInterval
	if timerBefore(t.WakeTime, l.sched.Now()) {
		t.WakeTime = l.sched.Now() + l.reportInterval
	}
	return SF_RESCHEDULE
}

// handleReset defers the reset so the ACK still reaches the host.
func (l *Link) handleReset(data *[]byte) error {
	atomic.StoreUint32(&l.resetPending, 1)
	return nil
}
