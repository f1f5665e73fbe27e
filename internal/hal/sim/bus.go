package sim

import (
	"fmt"
	"sort"
)

// PortDevice serves a set of I/O ports on the simulated bus.
type PortDevice interface {
	IOPorts() []uint16
	ReadIOPort(port uint16, data []byte) error
	WriteIOPort(port uint16, data []byte) error
}

// BusBuilder registers devices and their ports before creating a Bus.
type BusBuilder struct {
	devices map[string]PortDevice
	ports   map[uint16]PortDevice
}

// NewBusBuilder returns an empty BusBuilder.
func NewBusBuilder() *BusBuilder {
	return &BusBuilder{
		devices: make(map[string]PortDevice),
		ports:   make(map[uint16]PortDevice),
	}
}

// Register adds a device and claims its ports.
func (b *BusBuilder) Register(name string, dev PortDevice) error {
	if name == "" {
		return fmt.Errorf("device name is empty")
	}
	if dev == nil {
		return fmt.Errorf("device %q is nil", name)
	}
	if _, exists := b.devices[name]; exists {
		return fmt.Errorf("device %q already registered", name)
	}
	for _, port := range dev.IOPorts() {
		if _, exists := b.ports[port]; exists {
			return fmt.Errorf("device %q: port 0x%x already registered", name, port)
		}
	}
	for _, port := range dev.IOPorts() {
		b.ports[port] = dev
	}
	b.devices[name] = dev
	return nil
}

// Build finalizes the port map.
func (b *BusBuilder) Build() *Bus {
	ports := make(map[uint16]PortDevice, len(b.ports))
	for port, dev := range b.ports {
		ports[port] = dev
	}
	names := make([]string, 0, len(b.devices))
	for name := range b.devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return &Bus{ports: ports, names: names}
}

// Bus dispatches port accesses to the device that claimed the port.
type Bus struct {
	ports map[uint16]PortDevice
	names []string
}

// Read performs a read access. Unclaimed ports float high.
func (b *Bus) Read(port uint16, data []byte) error {
	dev, ok := b.ports[port]
	if !ok {
		for i := range data {
			data[i] = 0xff
		}
		return fmt.Errorf("sim: no device on I/O port 0x%04x", port)
	}
	return dev.ReadIOPort(port, data)
}

// Write performs a write access.
func (b *Bus) Write(port uint16, data []byte) error {
	dev, ok := b.ports[port]
	if !ok {
		return fmt.Errorf("sim: no device on I/O port 0x%04x", port)
	}
	return dev.WriteIOPort(port, data)
}

// Devices lists the registered device names in order.
func (b *Bus) Devices() []string {
	return append([]string(nil), b.names...)
}

// postPort absorbs writes to the POST diagnostic port used as a settle delay.
type postPort struct {
	writes uint64
	last   byte
}

func (p *postPort) IOPorts() []uint16 { return []uint16{0x80} }

func (p *postPort) ReadIOPort(port uint16, data []byte) error {
	for i := range data {
		data[i] = p.last
	}
	return nil
}

func (p *postPort) WriteIOPort(port uint16, data []byte) error {
	p.writes += uint64(len(data))
	if len(data) > 0 {
		p.last = data[len(data)-1]
	}
	return nil
}
