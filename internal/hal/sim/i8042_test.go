package sim

import (
	"testing"
)

func writeAux(t *testing.T, m *Machine, cmd byte) byte {
	t.Helper()
	m.OutByte(i8042CommandPort, i8042CommandWriteAuxDevice)
	m.OutByte(i8042DataPort, cmd)
	if m.InByte(i8042CommandPort)&i8042StatusOutputFull == 0 {
		t.Fatalf("no response to mouse command %#x", cmd)
	}
	return m.InByte(i8042DataPort)
}

func TestAuxPortDisabledDropsBytes(t *testing.T) {
	m, _, _ := bootMachine(t)
	m.OutByte(i8042CommandPort, i8042CommandWriteAuxDevice)
	m.OutByte(i8042DataPort, ps2CmdEnableReporting)
	if m.InByte(i8042CommandPort)&i8042StatusOutputFull != 0 {
		t.Fatalf("response delivered with the aux clock disabled")
	}
	if m.Controller().Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", m.Controller().Dropped())
	}
}

func TestMouseCommandProtocol(t *testing.T) {
	m, _, _ := bootMachine(t)
	m.OutByte(i8042CommandPort, i8042CommandEnableAuxPort)
	if !m.Controller().AuxEnabled() {
		t.Fatalf("aux port not enabled")
	}

	if got := writeAux(t, m, ps2CmdSetDefaults); got != ps2ResponseAck {
		t.Fatalf("set defaults = %#x", got)
	}
	for _, rate := range []byte{200, 100, 80} {
		if got := writeAux(t, m, ps2CmdSetSampleRate); got != ps2ResponseAck {
			t.Fatalf("set sample rate = %#x", got)
		}
		if got := writeAux(t, m, rate); got != ps2ResponseAck {
			t.Fatalf("rate %d = %#x", rate, got)
		}
	}
	if got := writeAux(t, m, ps2CmdEnableReporting); got != ps2ResponseAck {
		t.Fatalf("enable reporting = %#x", got)
	}
	mouse := m.Mouse()
	if !mouse.Reporting() || mouse.SampleRate() != 80 {
		t.Fatalf("reporting=%v rate=%d", mouse.Reporting(), mouse.SampleRate())
	}
	if got := mouse.SampleRates; len(got) != 3 || got[0] != 200 || got[1] != 100 || got[2] != 80 {
		t.Fatalf("sample rates = %v", got)
	}
}

func TestMousePacketBytes(t *testing.T) {
	m, _, _ := bootMachine(t)
	m.OutByte(i8042CommandPort, i8042CommandEnableAuxPort)
	writeAux(t, m, ps2CmdEnableReporting)

	m.Mouse().Press(ButtonLeft)
	m.Mouse().Move(5, -3)

	want := []byte{0x09, 0, 0, 0x29, 5, 0xfd}
	for i, w := range want {
		status := m.InByte(i8042CommandPort)
		if status&i8042StatusAuxData == 0 {
			t.Fatalf("byte %d: status %#x lacks aux data bit", i, status)
		}
		if got := m.InByte(i8042DataPort); got != w {
			t.Fatalf("byte %d = %#x, want %#x", i, got, w)
		}
	}
	if m.InByte(i8042CommandPort)&i8042StatusOutputFull != 0 {
		t.Fatalf("extra bytes queued")
	}
}

func TestLargeMoveSplitsIntoPackets(t *testing.T) {
	m, _, _ := bootMachine(t)
	m.OutByte(i8042CommandPort, i8042CommandEnableAuxPort)
	writeAux(t, m, ps2CmdEnableReporting)

	m.Mouse().Move(300, 0)
	if got := m.Mouse().Packets(); got != 3 {
		t.Fatalf("packets = %d, want 3", got)
	}
	var total int
	for i := 0; i < 3; i++ {
		m.InByte(i8042DataPort)
		total += int(int8(m.InByte(i8042DataPort)))
		m.InByte(i8042DataPort)
	}
	if total != 300 {
		t.Fatalf("total dx = %d", total)
	}
}

func TestAuxIRQRaisedWhenEnabled(t *testing.T) {
	m, _, _ := bootMachine(t)
	m.OutByte(i8042CommandPort, i8042CommandEnableAuxPort)
	writeAux(t, m, ps2CmdEnableReporting)

	m.OutByte(i8042CommandPort, i8042CommandReadCommandByte)
	cb := m.InByte(i8042DataPort)
	m.OutByte(i8042CommandPort, i8042CommandWriteCommandByte)
	m.OutByte(i8042DataPort, cb|i8042CommandByteAuxIRQ)

	m.Mouse().Move(1, 1)
	if got := m.PIC().Requests(); got&(1<<12) == 0 {
		t.Fatalf("IRQ12 not requested: irr=%#x", got)
	}
}
