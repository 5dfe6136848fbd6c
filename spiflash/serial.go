package spiflash

import (
	"fmt"
	"io"
	"log"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// USB serial bridges known to speak the SPI bridge framing. Devices not in
// this table still work when addressed by explicit port name.
var BridgeVidPidTable = map[string]string{
	"VID:PID=0403:6014": "FTDI FT232H",
	"VID:PID=0403:6010": "FTDI FT2232H",
	"VID:PID=0403:6011": "FTDI FT4232H",
	"VID:PID=1A86:55DB": "WCH CH347",
	"VID:PID=04D8:00DD": "Microchip MCP2221",
}

const DefaultBridgeBaudRate = 1000000

// Bridge protocol framing. One byte of command, big-endian lengths, and a
// single ack byte on control commands. Kept dumb on purpose so tiny MCU
// firmware can implement it.
const (
	bridgeCmdTransceive = 'X' // 'X' len16 payload -> payload (same length)
	bridgeCmdSelect     = 'S' // -> ack
	bridgeCmdDeselect   = 'D' // -> ack
	bridgeCmdClock      = 'C' // 'C' hz32 -> ack
	bridgeAck           = 0x06
	bridgeMaxFrame      = 0xFFFF
)

type BridgeInfo struct {
	Port    string
	VidPid  string
	Product string
	Bridge  string
}

// ScanBridges lists serial ports that look like known USB-SPI bridges.
func ScanBridges() ([]BridgeInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	var found []BridgeInfo
	for _, port := range ports {
		if !port.IsUSB {
			continue
		}
		vidpid := fmt.Sprintf("VID:PID=%s:%s",
			strings.ToUpper(port.VID), strings.ToUpper(port.PID))
		bridge, known := BridgeVidPidTable[vidpid]
		if !known {
			continue
		}
		found = append(found, BridgeInfo{
			Port:    port.Name,
			VidPid:  vidpid,
			Product: port.Product,
			Bridge:  bridge,
		})
	}
	return found, nil
}

// SerialTransport drives a chip through a USB serial bridge speaking the
// framing above.
type SerialTransport struct {
	port io.ReadWriteCloser
}

// OpenSerialTransport opens the named port at the default bridge baud rate.
func OpenSerialTransport(portName string) (*SerialTransport, error) {
	mode := &serial.Mode{BaudRate: DefaultBridgeBaudRate}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("couldn't open %s: %w", portName, err)
	}
	return &SerialTransport{port: port}, nil
}

// NewSerialTransport wraps an already-open stream. Tests feed a scripted
// bridge through here.
func NewSerialTransport(port io.ReadWriteCloser) *SerialTransport {
	return &SerialTransport{port: port}
}

func (t *SerialTransport) writeFull(data []byte) error {
	for len(data) > 0 {
		n, err := t.port.Write(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func (t *SerialTransport) control(frame []byte) error {
	if err := t.writeFull(frame); err != nil {
		return err
	}
	var ack [1]byte
	if _, err := io.ReadFull(t.port, ack[:]); err != nil {
		return err
	}
	if ack[0] != bridgeAck {
		return fmt.Errorf("bridge nak 0x%02X for command %q", ack[0], frame[0])
	}
	return nil
}

func (t *SerialTransport) Transceive(out []byte) ([]byte, error) {
	if len(out) > bridgeMaxFrame {
		return nil, fmt.Errorf("exchange of %d bytes exceeds bridge frame limit", len(out))
	}
	frame := make([]byte, 3+len(out))
	frame[0] = bridgeCmdTransceive
	frame[1] = byte(len(out) >> 8)
	frame[2] = byte(len(out))
	copy(frame[3:], out)
	if err := t.writeFull(frame); err != nil {
		return nil, err
	}
	in := make([]byte, len(out))
	if _, err := io.ReadFull(t.port, in); err != nil {
		return nil, err
	}
	return in, nil
}

func (t *SerialTransport) SelectChip() error {
	return t.control([]byte{bridgeCmdSelect})
}

func (t *SerialTransport) DeselectChip() error {
	return t.control([]byte{bridgeCmdDeselect})
}

func (t *SerialTransport) ConfigureClock(hz uint32) error {
	return t.control([]byte{bridgeCmdClock,
		byte(hz >> 24), byte(hz >> 16), byte(hz >> 8), byte(hz)})
}

func (t *SerialTransport) Close() error { return t.port.Close() }

// OpenDevice resolves a device URL to a transport:
//
//	any        first detected USB-SPI bridge
//	sim:16M    simulated chip of the given capacity
//	<port>     explicit serial port path or name
func OpenDevice(url string) (Transport, error) {
	if strings.HasPrefix(url, "sim:") {
		size, err := ParseSize(url[len("sim:"):])
		if err != nil {
			return nil, fmt.Errorf("bad sim capacity: %w", err)
		}
		g := SimGeometry(uint32(size))
		if err := RegisterChip(g); err != nil {
			return nil, err
		}
		log.Printf("Using simulated %s chip\n", FormatSize(size))
		return NewSimTransport(g), nil
	}
	if url == "any" || url == "" {
		bridges, err := ScanBridges()
		if err != nil {
			return nil, err
		}
		if len(bridges) == 0 {
			return nil, fmt.Errorf("no USB-SPI bridge found")
		}
		log.Printf("Using %s on %s\n", bridges[0].Bridge, bridges[0].Port)
		return OpenSerialTransport(bridges[0].Port)
	}
	return OpenSerialTransport(url)
}
