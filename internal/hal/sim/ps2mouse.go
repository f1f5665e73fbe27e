package sim

const (
	ps2CmdReset            = 0xff
	ps2CmdResend           = 0xfe
	ps2CmdSetDefaults      = 0xf6
	ps2CmdDisableReporting = 0xf5
	ps2CmdEnableReporting  = 0xf4
	ps2CmdSetSampleRate    = 0xf3
	ps2CmdIdentify         = 0xf2
	ps2CmdStatusRequest    = 0xe9
	ps2CmdSetResolution    = 0xe8

	ps2ResponseAck      = 0xfa
	ps2ResponseResend   = 0xfe
	ps2ResponseTestPass = 0xaa
	ps2MouseID          = 0x00

	defaultSampleRate = 100
	defaultResolution = 2

	packetAlwaysOne = 1 << 3
	packetXSign     = 1 << 4
	packetYSign     = 1 << 5
)

// Mouse buttons as reported in the first packet byte.
const (
	ButtonLeft   byte = 1 << 0
	ButtonRight  byte = 1 << 1
	ButtonMiddle byte = 1 << 2
)

// PS2Mouse models a standard three button PS/2 mouse in stream mode.
type PS2Mouse struct {
	controller *I8042

	reporting  bool
	sampleRate byte
	resolution byte
	buttons    byte

	expectingSampleRate bool
	expectingResolution bool

	// SampleRates records every rate the driver programmed, in order.
	SampleRates []byte
	packets     uint64

	// delivered runs after every packet or injected byte so the CPU can
	// drain the controller before its buffer fills.
	delivered func()
}

// NewPS2Mouse returns a mouse attached to ctrl's auxiliary port.
func NewPS2Mouse(ctrl *I8042) *PS2Mouse {
	m := &PS2Mouse{controller: ctrl}
	m.reset()
	ctrl.AttachAux(m)
	return m
}

func (m *PS2Mouse) reset() {
	m.reporting = false
	m.sampleRate = defaultSampleRate
	m.resolution = defaultResolution
	m.expectingSampleRate = false
	m.expectingResolution = false
}

func (m *PS2Mouse) send(b byte) {
	m.controller.QueueAuxData(b)
}

// HandleCommand processes a byte forwarded by the controller's 0xD4 command.
func (m *PS2Mouse) HandleCommand(cmd byte) {
	if m.expectingSampleRate {
		m.expectingSampleRate = false
		m.sampleRate = cmd
		m.SampleRates = append(m.SampleRates, cmd)
		m.send(ps2ResponseAck)
		return
	}
	if m.expectingResolution {
		m.expectingResolution = false
		m.resolution = cmd & 0x3
		m.send(ps2ResponseAck)
		return
	}

	switch cmd {
	case ps2CmdReset:
		m.reset()
		m.send(ps2ResponseAck)
		m.send(ps2ResponseTestPass)
		m.send(ps2MouseID)
	case ps2CmdResend:
		m.send(ps2ResponseResend)
	case ps2CmdSetDefaults:
		m.reset()
		m.send(ps2ResponseAck)
	case ps2CmdDisableReporting:
		m.reporting = false
		m.send(ps2ResponseAck)
	case ps2CmdEnableReporting:
		m.reporting = true
		m.send(ps2ResponseAck)
	case ps2CmdSetSampleRate:
		m.expectingSampleRate = true
		m.send(ps2ResponseAck)
	case ps2CmdSetResolution:
		m.expectingResolution = true
		m.send(ps2ResponseAck)
	case ps2CmdIdentify:
		m.send(ps2ResponseAck)
		m.send(ps2MouseID)
	case ps2CmdStatusRequest:
		m.send(ps2ResponseAck)
		status := m.buttons & 0x7
		if m.reporting {
			status |= 1 << 5
		}
		m.send(status)
		m.send(m.resolution)
		m.send(m.sampleRate)
	default:
		m.send(ps2ResponseResend)
	}
}

// SetDeliveryHook installs the function run after every packet.
func (m *PS2Mouse) SetDeliveryHook(fn func()) {
	m.delivered = fn
}

func (m *PS2Mouse) deliver() {
	if m.delivered != nil {
		m.delivered()
	}
}

// Reporting reports whether the driver enabled data reporting.
func (m *PS2Mouse) Reporting() bool { return m.reporting }

// SampleRate returns the last programmed sample rate.
func (m *PS2Mouse) SampleRate() byte { return m.sampleRate }

// Packets returns the number of movement packets sent.
func (m *PS2Mouse) Packets() uint64 { return m.packets }

// Buttons returns the buttons currently held.
func (m *PS2Mouse) Buttons() byte { return m.buttons }

// Move reports a relative motion with the current buttons held. dy is
// positive when the pointer moves up. Motions beyond the signed byte range
// are split into several packets.
func (m *PS2Mouse) Move(dx, dy int) {
	for {
		sx, sy := clampDelta(dx), clampDelta(dy)
		m.sendPacket(sx, sy)
		dx -= sx
		dy -= sy
		if dx == 0 && dy == 0 {
			return
		}
	}
}

// Press holds buttons down and reports the change.
func (m *PS2Mouse) Press(buttons byte) {
	m.buttons |= buttons & 0x7
	m.sendPacket(0, 0)
}

// Release lets buttons go and reports the change.
func (m *PS2Mouse) Release(buttons byte) {
	m.buttons &^= buttons & 0x7
	m.sendPacket(0, 0)
}

// Hold reports n packets without motion, as the device does at its sample
// rate while buttons are held.
func (m *PS2Mouse) Hold(n int) {
	for i := 0; i < n; i++ {
		m.sendPacket(0, 0)
	}
}

// Inject places raw bytes on the wire, bypassing packet framing.
func (m *PS2Mouse) Inject(raw ...byte) {
	for _, b := range raw {
		m.send(b)
		m.deliver()
	}
}

func (m *PS2Mouse) sendPacket(dx, dy int) {
	if !m.reporting {
		return
	}
	flags := byte(packetAlwaysOne) | m.buttons&0x7
	if dx < 0 {
		flags |= packetXSign
	}
	if dy < 0 {
		flags |= packetYSign
	}
	m.send(flags)
	m.send(byte(int8(dx)))
	m.send(byte(int8(dy)))
	m.packets++
	m.deliver()
}

func clampDelta(v int) int {
	switch {
	case v > 127:
		return 127
	case v < -128:
		return -128
	}
	return v
}
