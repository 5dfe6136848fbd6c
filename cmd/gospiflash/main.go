package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/xingxinonline/gospiflash/spiflash"
)

const (
	AppVersion = "0.3.0"
)

// Quick way to fail on error, since most commands are "doing" something on
// behalf of something else.
func fatalIfErr(subject string, doing string, err error) {
	if err != nil {
		log.Fatalf("%s - Couldn't %s: %s", subject, doing, err)
	}
}

func connectSession(device string, autoUnlock bool, chunkSize string) (spiflash.Transport, *spiflash.Session) {
	chunk := 0
	if chunkSize != "" {
		size, err := spiflash.ParseSize(chunkSize)
		fatalIfErr(chunkSize, "parse chunk size", err)
		chunk = int(size)
	}
	tr, err := spiflash.OpenDevice(device)
	fatalIfErr(device, "open device", err)
	session, err := spiflash.NewSession(tr, &spiflash.Options{
		ChunkSize:  chunk,
		AutoUnlock: autoUnlock,
		Progress:   logProgress(),
	})
	if err != nil {
		tr.Close()
		fatalIfErr(device, "identify chip", err)
	}
	return tr, session
}

// Progress callback that logs at most every 10%, so long operations show
// life without flooding the output.
func logProgress() spiflash.ProgressFunc {
	lastDecile := -1
	return func(done int, total int) {
		if total <= 0 {
			return
		}
		decile := done * 10 / total
		if decile > lastDecile {
			lastDecile = decile
			log.Printf("  %d%% (%d / %d bytes)\n", done*100/total, done, total)
		}
	}
}

// Load a file destined for flash. Intel HEX files carry their own base
// address; raw binaries use the one given.
func loadImage(fp string, address uint32) (uint32, []byte) {
	file, err := os.Open(fp)
	fatalIfErr(fp, "open read file", err)
	defer file.Close()
	if strings.EqualFold(filepath.Ext(fp), ".hex") {
		base, data, err := spiflash.LoadHexFile(file)
		fatalIfErr(fp, "parse hex file", err)
		log.Printf("Hex file %s carries base address 0x%X\n", fp, base)
		return base, data
	}
	data, err := os.ReadFile(fp)
	fatalIfErr(fp, "read file", err)
	return address, data
}

func forceCreate(fp string, overwrite bool) *os.File {
	if !overwrite {
		if _, err := os.Stat(fp); err == nil {
			log.Fatalf("%s - File exists (use --force to overwrite)\n", fp)
		}
	}
	f, err := os.Create(fp)
	fatalIfErr(fp, "create write file", err)
	return f
}

func parseAddressArg(s string) uint32 {
	address, err := spiflash.ParseAddress(s)
	fatalIfErr(s, "parse address", err)
	return address
}

// **********************************
// *       DEVICE COMMANDS          *
// **********************************

// Scan command
type ScanCmd struct {
}

func (c *ScanCmd) Run() error {
	bridges, err := spiflash.ScanBridges()
	fatalIfErr("scan", "pull serial ports", err)
	log.Printf("Scan found %d viable bridges\n", len(bridges))
	PrintJson(bridges)
	return nil
}

// Info command
type InfoCmd struct {
	Device string `arg:"" default:"any" help:"The device to query (use 'any' for first bridge, 'sim:SIZE' for a simulator)"`
}

func (c *InfoCmd) Run() error {
	tr, session := connectSession(c.Device, false, "")
	defer tr.Close()
	g := session.Geometry()
	result := make(map[string]interface{})
	result["Id"] = g.ID.String()
	result["Manufacturer"] = g.Manufacturer()
	result["Name"] = g.Name
	result["Capacity"] = g.Capacity
	result["CapacityHuman"] = spiflash.FormatSize(int64(g.Capacity))
	result["PageSize"] = g.PageSize
	eraseSizes := make([]uint32, 0, len(g.EraseBlocks))
	for _, b := range g.EraseBlocks {
		eraseSizes = append(eraseSizes, b.Size)
	}
	result["EraseSizes"] = eraseSizes
	result["MaxClockHz"] = g.MaxClockHz
	PrintJson(result)
	return nil
}

// **********************************
// *        FLASH COMMANDS          *
// **********************************

// Flash read command
type FlashReadCmd struct {
	Device    string `arg:"" default:"any" help:"The device to read from"`
	Outfile   string `type:"path" short:"o" help:"File to write (default: flash_<datetime>.bin, .hex gets Intel HEX)"`
	Address   string `short:"a" default:"0" help:"Start address (decimal or 0x hex)"`
	Length    string `short:"l" default:"" help:"Bytes to read (default: whole chip)"`
	ChunkSize string `help:"Transfer chunk size (default: 4096)"`
	Force     bool   `help:"Overwrite existing output file"`
}

func (c *FlashReadCmd) Run() error {
	if c.Outfile == "" {
		c.Outfile = fmt.Sprintf("flash_%s.bin", FileSafeDateTime())
	}
	address := parseAddressArg(c.Address)
	tr, session := connectSession(c.Device, false, c.ChunkSize)
	defer tr.Close()
	length := int(session.Capacity()) - int(address)
	if c.Length != "" {
		size, err := spiflash.ParseSize(c.Length)
		fatalIfErr(c.Length, "parse length", err)
		length = int(size)
	}
	data, err := session.Read(address, length)
	fatalIfErr(c.Device, "read flash", err)
	log.Printf("Read %d bytes from %s\n", len(data), session.Geometry().Name)
	file := forceCreate(c.Outfile, c.Force)
	defer file.Close()
	if strings.EqualFold(filepath.Ext(c.Outfile), ".hex") {
		err = spiflash.SaveHexFile(file, address, data)
	} else {
		_, err = file.Write(data)
	}
	fatalIfErr(c.Outfile, "write output file", err)
	log.Printf("Wrote flash contents to file %s\n", c.Outfile)
	result := make(map[string]interface{})
	result["Filename"] = c.Outfile
	result["Address"] = address
	result["Length"] = len(data)
	result["MD5"] = spiflash.Md5String(data)
	result["ErasedBytes"] = spiflash.CountErased(data)
	PrintJson(result)
	return nil
}

// Flash write command
type FlashWriteCmd struct {
	Device    string `arg:"" default:"any" help:"The device to write to"`
	Infile    string `arg:"" help:"File to write (.hex parsed as Intel HEX, anything else raw)"`
	Address   string `short:"a" default:"0" help:"Start address (ignored for hex files carrying their own)"`
	ChunkSize string `help:"Transfer chunk size (default: 4096)"`
	NoErase   bool   `help:"Skip the covering erase (data must land on erased flash)"`
	NoVerify  bool   `help:"Skip the readback verify"`
	Lock      bool   `help:"Restore write protection when done"`
}

func (c *FlashWriteCmd) Run() error {
	address, data := loadImage(c.Infile, parseAddressArg(c.Address))
	tr, session := connectSession(c.Device, true, c.ChunkSize)
	defer tr.Close()
	log.Printf("Writing %d bytes at 0x%X to %s\n", len(data), address, session.Geometry().Name)
	wresult, err := session.Write(address, data, spiflash.WriteOptions{
		NoErase:  c.NoErase,
		NoVerify: c.NoVerify,
	})
	fatalIfErr(c.Device, "write flash", err)
	if c.Lock {
		err = session.Lock()
		fatalIfErr(c.Device, "restore write protection", err)
	}
	result := make(map[string]interface{})
	result["Filename"] = c.Infile
	result["Address"] = address
	result["Written"] = wresult.Bytes
	result["Elapsed"] = wresult.Elapsed.String()
	result["Verify"] = wresult.Verify.String()
	result["MD5"] = spiflash.Md5String(data)
	PrintJson(result)
	return nil
}

// Flash erase command
type FlashEraseCmd struct {
	Device       string `arg:"" default:"any" help:"The device to erase"`
	Address      string `short:"a" default:"0" help:"Start address (must be erase block aligned)"`
	Length       string `short:"l" required:"" help:"Bytes to erase (must be coverable by erase blocks)"`
	VerifyErased bool   `help:"Read the range back and check every byte is 0xFF"`
	Lock         bool   `help:"Restore write protection when done"`
}

func (c *FlashEraseCmd) Run() error {
	address := parseAddressArg(c.Address)
	size, err := spiflash.ParseSize(c.Length)
	fatalIfErr(c.Length, "parse length", err)
	tr, session := connectSession(c.Device, true, "")
	defer tr.Close()
	eresult, err := session.Erase(address, uint32(size))
	fatalIfErr(c.Device, "erase flash", err)
	if c.VerifyErased {
		data, err := session.Read(address, int(size))
		fatalIfErr(c.Device, "read back erased range", err)
		if erased := spiflash.CountErased(data); erased != len(data) {
			log.Fatalf("%s - Erase verify FAILED: %d of %d bytes not erased\n",
				c.Device, len(data)-erased, len(data))
		}
		log.Printf("Erase verify passed (%d bytes all 0xFF)\n", len(data))
	}
	if c.Lock {
		err = session.Lock()
		fatalIfErr(c.Device, "restore write protection", err)
	}
	log.Printf("Erased %d bytes at 0x%X in %s\n", eresult.Bytes, address, eresult.Elapsed)
	result := make(map[string]interface{})
	result["Address"] = address
	result["Erased"] = eresult.Bytes
	result["Elapsed"] = eresult.Elapsed.String()
	PrintJson(result)
	return nil
}

// Flash eraseall command
type FlashEraseAllCmd struct {
	Device string `arg:"" default:"any" help:"The device to wipe"`
	Yes    bool   `help:"Skip the confirmation prompt"`
}

func (c *FlashEraseAllCmd) Run() error {
	tr, session := connectSession(c.Device, true, "")
	defer tr.Close()
	if !c.Yes {
		fmt.Printf("This wipes the ENTIRE %s (%s). Type 'yes' to continue: ",
			session.Geometry().Name, spiflash.FormatSize(int64(session.Capacity())))
		var answer string
		fmt.Scanln(&answer)
		if answer != "yes" {
			log.Fatalln("Aborted")
		}
	}
	log.Printf("Chip erase on %s, this can take minutes...\n", session.Geometry().Name)
	eresult, err := session.EraseAll()
	fatalIfErr(c.Device, "erase chip", err)
	log.Printf("Erased %d bytes in %s\n", eresult.Bytes, eresult.Elapsed)
	return nil
}

// Flash verify command
type FlashVerifyCmd struct {
	Device  string `arg:"" default:"any" help:"The device to check"`
	Infile  string `arg:"" help:"File holding the expected contents"`
	Address string `short:"a" default:"0" help:"Start address"`
}

func (c *FlashVerifyCmd) Run() error {
	address, data := loadImage(c.Infile, parseAddressArg(c.Address))
	tr, session := connectSession(c.Device, false, "")
	defer tr.Close()
	offset, err := session.Verify(address, data)
	fatalIfErr(c.Device, "verify flash", err)
	result := make(map[string]interface{})
	result["Filename"] = c.Infile
	result["Address"] = address
	result["Length"] = len(data)
	result["Match"] = offset < 0
	if offset >= 0 {
		result["FirstMismatch"] = fmt.Sprintf("0x%X", address+uint32(offset))
		PrintJson(result)
		log.Fatalf("%s - Verify FAILED at offset %d\n", c.Device, offset)
	}
	log.Printf("Verify passed (%d bytes)\n", len(data))
	PrintJson(result)
	return nil
}

// Flash dump command
type FlashDumpCmd struct {
	Device  string `arg:"" default:"any" help:"The device to dump from"`
	Address string `short:"a" default:"0" help:"Start address"`
	Length  string `short:"l" default:"256" help:"Bytes to dump"`
}

func (c *FlashDumpCmd) Run() error {
	address := parseAddressArg(c.Address)
	size, err := spiflash.ParseSize(c.Length)
	fatalIfErr(c.Length, "parse length", err)
	tr, session := connectSession(c.Device, false, "")
	defer tr.Close()
	data, err := session.Read(address, int(size))
	fatalIfErr(c.Device, "read flash", err)
	fmt.Print(spiflash.HexDump(data, address))
	return nil
}

// **********************************
// *       SCRIPT COMMANDS          *
// **********************************

// Script run command
type ScriptRunCmd struct {
	Infile    string   `arg:"" help:"The lua script to run"`
	Arguments []string `arg:"" optional:"" help:"Arguments passed through to the script"`
	Datadir   string   `type:"path" short:"d" help:"Folder scripts read and write files in (default: script's folder)"`
}

func (c *ScriptRunCmd) Run() error {
	script, err := os.ReadFile(c.Infile)
	fatalIfErr(c.Infile, "read script file", err)
	if c.Datadir == "" {
		c.Datadir = filepath.Dir(c.Infile)
	}
	logs, err := spiflash.RunLuaFlashScript(string(script), c.Arguments, c.Datadir, spiflash.OpenDevice)
	fatalIfErr(c.Infile, "run script", err)
	result := make(map[string]interface{})
	result["Filename"] = c.Infile
	result["Logs"] = logs
	PrintJson(result)
	return nil
}

var cli struct {
	Device struct {
		Scan ScanCmd `cmd:"" help:"Search for USB-SPI bridges and return basic information on them"`
		Info InfoCmd `cmd:"" help:"Identify the chip behind a device and report its geometry"`
	} `cmd:"" help:"Commands which retrieve information about devices and chips"`
	Flash struct {
		Read     FlashReadCmd     `cmd:"" help:"Read flash contents to a file (.bin or .hex)"`
		Write    FlashWriteCmd    `cmd:"" help:"Write a file to flash (erase, program, verify)"`
		Erase    FlashEraseCmd    `cmd:"" help:"Erase a block aligned range"`
		Eraseall FlashEraseAllCmd `cmd:"" help:"Erase the entire chip with the dedicated chip erase command"`
		Verify   FlashVerifyCmd   `cmd:"" help:"Compare flash contents against a file"`
		Dump     FlashDumpCmd     `cmd:"" help:"Hexdump a region of flash to stdout"`
	} `cmd:"" help:"Commands which read and change flash contents"`
	Script struct {
		Run ScriptRunCmd `cmd:"" help:"Run a lua flash automation script"`
	} `cmd:"" help:"Commands for scripted flash workflows"`
	Chips   string           `type:"path" help:"TOML file with extra chip definitions to merge into the registry"`
	Version kong.VersionFlag `help:"Show version information"`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("gospiflash"),
		kong.ShortUsageOnError(),
		kong.Description("A set of tools for programming SPI NOR flash chips"),
		kong.Vars{
			"version": AppVersion,
		},
	)
	if cli.Chips != "" {
		file, err := os.Open(cli.Chips)
		fatalIfErr(cli.Chips, "open chip registry", err)
		count, err := spiflash.LoadChipRegistry(file)
		file.Close()
		fatalIfErr(cli.Chips, "load chip registry", err)
		log.Printf("Loaded %d extra chip definitions from %s\n", count, cli.Chips)
	}
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
