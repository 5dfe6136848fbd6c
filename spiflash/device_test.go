package spiflash

import (
	"sort"
	"strings"
	"testing"
)

func TestLookupChip(t *testing.T) {
	g, ok := LookupChip(ChipID{0xEF, 0x40, 0x18})
	if !ok {
		t.Fatalf("W25Q128 missing from registry")
	}
	if g.Name != "W25Q128" || g.Capacity != 16<<20 {
		t.Fatalf("Bad W25Q128 entry: %s", g.String())
	}
	if g.MinEraseSize() != 4096 || g.MaxEraseSize() != 65536 {
		t.Fatalf("Bad erase bounds: %d/%d", g.MinEraseSize(), g.MaxEraseSize())
	}
	if _, ok := LookupChip(ChipID{0x00, 0x00, 0x01}); ok {
		t.Fatalf("Lookup invented a chip")
	}
}

func TestRegistryInvariants(t *testing.T) {
	for _, g := range KnownChips() {
		if g.Capacity%g.PageSize != 0 {
			t.Errorf("%s: page size doesn't divide capacity", g.Name)
		}
		if !sort.SliceIsSorted(g.EraseBlocks, func(i, j int) bool {
			return g.EraseBlocks[i].Size < g.EraseBlocks[j].Size
		}) {
			t.Errorf("%s: erase blocks not ascending", g.Name)
		}
		for _, b := range g.EraseBlocks {
			if g.Capacity%b.Size != 0 {
				t.Errorf("%s: erase size %d doesn't divide capacity", g.Name, b.Size)
			}
			if b.Typical == 0 {
				t.Errorf("%s: erase size %d has no typical duration", g.Name, b.Size)
			}
		}
	}
}

func TestKnownChipsSorted(t *testing.T) {
	chips := KnownChips()
	if len(chips) < 5 {
		t.Fatalf("Registry suspiciously small: %d chips", len(chips))
	}
	names := make([]string, len(chips))
	for i, g := range chips {
		names[i] = g.Name
	}
	if !sort.StringsAreSorted(names) {
		t.Fatalf("KnownChips not sorted: %v", names)
	}
}

func TestLoadChipRegistry(t *testing.T) {
	doc := `
[[chip]]
name = "AT25SF041"
id = [0x1F, 0x84, 0x01]
capacity = "512K"
max_clock_hz = 85000000
page_program_ms = 2
chip_erase_ms = 4000

[[chip.erase]]
size = "4K"
opcode = 0x20
typical_ms = 50

[[chip.erase]]
size = "64K"
opcode = 0xD8
typical_ms = 500
`
	count, err := LoadChipRegistry(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Load failed: %s", err)
	}
	if count != 1 {
		t.Fatalf("Expected 1 chip loaded, got %d", count)
	}
	g, ok := LookupChip(ChipID{0x1F, 0x84, 0x01})
	if !ok {
		t.Fatalf("Loaded chip missing from registry")
	}
	if g.Capacity != 512*1024 {
		t.Fatalf("Expected 512K capacity, got %d", g.Capacity)
	}
	if g.PageSize != 256 {
		t.Fatalf("Page size default didn't apply: %d", g.PageSize)
	}
	if len(g.EraseBlocks) != 2 || g.EraseBlocks[1].Size != 65536 {
		t.Fatalf("Bad erase blocks: %v", g.EraseBlocks)
	}
	if g.Manufacturer() != "Adesto(Atmel)" {
		t.Fatalf("Expected Adesto, got %s", g.Manufacturer())
	}
}

func TestLoadChipRegistry_BadEntries(t *testing.T) {
	cases := map[string]string{
		"short id":     "[[chip]]\nname = \"x\"\nid = [1, 2]\ncapacity = \"1M\"\n",
		"bad capacity": "[[chip]]\nname = \"x\"\nid = [1, 2, 3]\ncapacity = \"lots\"\n",
		"no erase":     "[[chip]]\nname = \"x\"\nid = [1, 2, 3]\ncapacity = \"1M\"\n",
		"bad toml":     "[[chip\n",
	}
	for label, doc := range cases {
		if _, err := LoadChipRegistry(strings.NewReader(doc)); err == nil {
			t.Errorf("%s: expected error", label)
		}
	}
}

func TestSimGeometryDistinctIDs(t *testing.T) {
	small := SimGeometry(1 << 20)
	big := SimGeometry(16 << 20)
	if small.ID == big.ID {
		t.Fatalf("Sim geometries share an ID: %s", small.ID)
	}
	if small.Capacity%small.MinEraseSize() != 0 {
		t.Fatalf("Sim erase size doesn't divide capacity")
	}
}

func TestManufacturerName(t *testing.T) {
	if ManufacturerName(0xC2) != "Macronix" {
		t.Fatalf("Expected Macronix")
	}
	if name := ManufacturerName(0x42); !strings.Contains(name, "0x42") {
		t.Fatalf("Unknown manufacturer should carry the ID, got %s", name)
	}
}
