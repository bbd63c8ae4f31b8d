// Package motor translates EPICS motor record status into the compact
// status word the beamline GUI consumes.
//
// The motor record reports hardware state through its MSTA field, a
// 32-bit mask set by the driver. The GUI works with a much smaller
// vocabulary (error, running, hardstops, position achieved), so this
// package maps the one onto the other and keeps a device group's status
// word current from a monitor subscription.
package motor

import (
	"github.com/beamworks/pvgate/internal/pv"
)

// GUI status word bits.
const (
	StatusError        uint32 = 0x1  // fault or unknown state
	StatusRunning      uint32 = 0x2  // axis moving
	StatusHighHardstop uint32 = 0x4  // plus limit switch hit
	StatusLowHardstop  uint32 = 0x8  // minus limit switch hit
	StatusAchieved     uint32 = 0x10 // target position reached
)

// MSTA bit positions, per the motor record reference.
const (
	mstaDone      = 1 << 1
	mstaPlusLS    = 1 << 2
	mstaSlipStall = 1 << 6
	mstaHome      = 1 << 7
	mstaProblem   = 1 << 9
	mstaMoving    = 1 << 10
	mstaCommErr   = 1 << 12
	mstaMinusLS   = 1 << 13
	mstaHomed     = 1 << 14
)

// TranslateMSTA maps a raw MSTA mask to a GUI status word. The first
// recognised bit wins. A mask with none of them set reads as an error.
func TranslateMSTA(msta uint32) uint32 {
	switch {
	case msta&mstaDone != 0:
		return StatusAchieved
	case msta&mstaPlusLS != 0:
		return StatusHighHardstop
	case msta&mstaSlipStall != 0:
		return StatusRunning
	case msta&mstaHome != 0:
		return StatusAchieved
	case msta&mstaProblem != 0:
		return StatusError
	case msta&mstaMoving != 0:
		return StatusRunning
	case msta&mstaCommErr != 0:
		return StatusError
	case msta&mstaMinusLS != 0:
		return StatusLowHardstop
	case msta&mstaHomed != 0:
		return StatusAchieved
	default:
		return StatusError
	}
}

// StatusMonitor is a monitor callback that keeps a proxy's status word
// current. Register it against a motor's MSTA field with the owning
// *pv.Proxy as the user data. IOCs publish MSTA as a double, so the
// value is widened before the mask is read.
func StatusMonitor(userData any, ev pv.Event) {
	p, ok := userData.(*pv.Proxy)
	if !ok || !ev.Connected {
		return
	}
	d, err := ev.Value.Float64()
	if err != nil {
		return
	}
	p.SetStatus(TranslateMSTA(uint32(d)))
}

// WatchStatus subscribes StatusMonitor on the named field and seeds the
// status word from a first read, so the proxy reports a real state
// before the IOC posts its first update.
func WatchStatus(p *pv.Proxy, field string) (pv.SubscriptionID, error) {
	id, err := p.AddMonitor(field, p, StatusMonitor)
	if err != nil {
		return 0, err
	}
	v, err := p.ReadPVValue(field)
	if err != nil {
		return id, err
	}
	if d, err := v.Float64(); err == nil {
		p.SetStatus(TranslateMSTA(uint32(d)))
	}
	return id, nil
}
