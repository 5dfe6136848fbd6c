package spiflash

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// scriptedBridge plays the other end of the bridge framing: everything the
// transport writes lands in sent, reads come from the queued answers.
type scriptedBridge struct {
	sent    bytes.Buffer
	answers bytes.Buffer
	closed  bool
}

func (b *scriptedBridge) Write(p []byte) (int, error) { return b.sent.Write(p) }
func (b *scriptedBridge) Read(p []byte) (int, error)  { return b.answers.Read(p) }
func (b *scriptedBridge) Close() error                { b.closed = true; return nil }

func TestSerialTransceiveFraming(t *testing.T) {
	bridge := &scriptedBridge{}
	bridge.answers.Write([]byte{0x11, 0x22, 0x33})
	tr := NewSerialTransport(bridge)
	in, err := tr.Transceive([]byte{0xAA, 0xBB, 0xCC})
	if err != nil {
		t.Fatalf("Transceive failed: %s", err)
	}
	expected := []byte{'X', 0x00, 0x03, 0xAA, 0xBB, 0xCC}
	if !bytes.Equal(bridge.sent.Bytes(), expected) {
		t.Fatalf("Bad frame on the wire: % X", bridge.sent.Bytes())
	}
	if !bytes.Equal(in, []byte{0x11, 0x22, 0x33}) {
		t.Fatalf("Bad answer: % X", in)
	}
}

func TestSerialTransceiveFrameLimit(t *testing.T) {
	tr := NewSerialTransport(&scriptedBridge{})
	if _, err := tr.Transceive(make([]byte, bridgeMaxFrame+1)); err == nil {
		t.Fatalf("Oversized exchange should fail before touching the wire")
	}
}

func TestSerialControlCommands(t *testing.T) {
	bridge := &scriptedBridge{}
	bridge.answers.Write([]byte{bridgeAck, bridgeAck, bridgeAck})
	tr := NewSerialTransport(bridge)
	if err := tr.SelectChip(); err != nil {
		t.Fatalf("Select failed: %s", err)
	}
	if err := tr.DeselectChip(); err != nil {
		t.Fatalf("Deselect failed: %s", err)
	}
	if err := tr.ConfigureClock(50_000_000); err != nil {
		t.Fatalf("ConfigureClock failed: %s", err)
	}
	expected := []byte{'S', 'D', 'C', 0x02, 0xFA, 0xF0, 0x80}
	if !bytes.Equal(bridge.sent.Bytes(), expected) {
		t.Fatalf("Bad control frames: % X", bridge.sent.Bytes())
	}
}

func TestSerialControlNak(t *testing.T) {
	bridge := &scriptedBridge{}
	bridge.answers.Write([]byte{0x15})
	tr := NewSerialTransport(bridge)
	err := tr.SelectChip()
	if err == nil || !strings.Contains(err.Error(), "nak") {
		t.Fatalf("Expected nak error, got %v", err)
	}
}

func TestSerialClosePropagates(t *testing.T) {
	bridge := &scriptedBridge{}
	tr := NewSerialTransport(bridge)
	if err := tr.Close(); err != nil {
		t.Fatalf("Close failed: %s", err)
	}
	if !bridge.closed {
		t.Fatalf("Close didn't reach the port")
	}
}

func TestOpenDeviceSim(t *testing.T) {
	tr, err := OpenDevice("sim:1M")
	if err != nil {
		t.Fatalf("Couldn't open sim device: %s", err)
	}
	defer tr.Close()
	session, err := NewSession(tr, nil)
	if err != nil {
		t.Fatalf("Couldn't identify sim chip: %s", err)
	}
	if session.Capacity() != 1<<20 {
		t.Fatalf("Expected 1 MiB, got %d", session.Capacity())
	}
}

func TestOpenDeviceBadSimSize(t *testing.T) {
	for _, url := range []string{"sim:huge", "sim:-4K", "sim:0"} {
		if _, err := OpenDevice(url); err == nil {
			t.Fatalf("Expected error for %q", url)
		}
	}
}

// Drive a full identify against the scripted bridge to prove the framing
// composes with the command layer.
func TestSerialIdentifyOverBridge(t *testing.T) {
	bridge := &scriptedBridge{}
	// select ack, 4 byte JEDEC answer, deselect ack
	bridge.answers.Write([]byte{bridgeAck})
	bridge.answers.Write([]byte{0x00, 0xEF, 0x40, 0x16})
	bridge.answers.Write([]byte{bridgeAck})
	tr := NewSerialTransport(bridge)
	g, err := Identify(tr)
	if err != nil {
		t.Fatalf("Identify over bridge failed: %s", err)
	}
	if g.Name != "W25Q32" {
		t.Fatalf("Expected W25Q32, got %s", g.Name)
	}
	var readErr *ReadError
	if _, err := Identify(tr); !errors.As(err, &readErr) {
		t.Fatalf("Exhausted bridge should fail identify, got %v", err)
	}
}
