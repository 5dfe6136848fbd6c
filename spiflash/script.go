package spiflash

// Lua automation surface over a flash session. Scripts look like the
// interactive workflows people run against these chips: connect, unlock,
// erase, write, verify, dump.

import (
	"encoding/base64"
	"encoding/hex"
	"log"
	"os"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// DeviceOpener resolves a device URL for a script's connect(). The CLI
// passes OpenDevice; tests pass something that hands back a sim.
type DeviceOpener func(url string) (Transport, error)

// ScriptState tracks the one session a script drives plus its captured log
// output.
type ScriptState struct {
	FileDirectory string
	opener        DeviceOpener
	arguments     []string
	transport     Transport
	session       *Session
	logs          strings.Builder
}

// Get full path to a file requested by the script; the host can pin scripts
// to a working directory.
func (state *ScriptState) FilePath(path string) string {
	if state.FileDirectory == "" {
		return path
	}
	return filepath.Join(state.FileDirectory, path)
}

// Add a function to the lua state that carries our state along. Lua
// functions don't otherwise accept extra go parameters.
func (state *ScriptState) AddFunction(name string, f func(*lua.LState, *ScriptState) int, L *lua.LState) {
	L.SetGlobal(name, L.NewFunction(func(L *lua.LState) int { return f(L, state) }))
}

func (state *ScriptState) CloseAll() {
	if state.transport != nil {
		if err := state.transport.Close(); err != nil {
			log.Printf("ERROR: Couldn't close script transport: %s", err)
		}
		state.transport = nil
		state.session = nil
	}
}

// Raise a script error unless connect() has been called.
func (state *ScriptState) need(L *lua.LState) *Session {
	if state.session == nil {
		L.RaiseError("no device connected; call connect(url) first")
	}
	return state.session
}

func luaConnect(L *lua.LState, state *ScriptState) int {
	url := L.ToString(1)
	if state.session != nil {
		L.RaiseError("already connected")
		return 0
	}
	tr, err := state.opener(url)
	if err != nil {
		L.RaiseError("couldn't open device %s: %s", url, err)
		return 0
	}
	session, err := NewSession(tr, nil)
	if err != nil {
		tr.Close()
		L.RaiseError("couldn't start session on %s: %s", url, err)
		return 0
	}
	state.transport = tr
	state.session = session
	g := session.Geometry()
	L.Push(lua.LString(g.String()))
	return 1
}

func luaCapacity(L *lua.LState, state *ScriptState) int {
	L.Push(lua.LNumber(state.need(L).Capacity()))
	return 1
}

func luaGeometry(L *lua.LState, state *ScriptState) int {
	g := state.need(L).Geometry()
	table := L.NewTable()
	table.RawSetString("name", lua.LString(g.Name))
	table.RawSetString("manufacturer", lua.LString(g.Manufacturer()))
	table.RawSetString("capacity", lua.LNumber(g.Capacity))
	table.RawSetString("page_size", lua.LNumber(g.PageSize))
	blocks := L.NewTable()
	for i, b := range g.EraseBlocks {
		blocks.RawSetInt(i+1, lua.LNumber(b.Size))
	}
	table.RawSetString("erase_sizes", blocks)
	L.Push(table)
	return 1
}

func luaUnlock(L *lua.LState, state *ScriptState) int {
	if err := state.need(L).Unlock(); err != nil {
		L.RaiseError("unlock failed: %s", err)
	}
	return 0
}

func luaLock(L *lua.LState, state *ScriptState) int {
	if err := state.need(L).Lock(); err != nil {
		L.RaiseError("lock failed: %s", err)
	}
	return 0
}

func luaRead(L *lua.LState, state *ScriptState) int {
	address := uint32(L.ToInt64(1))
	length := int(L.ToInt64(2))
	data, err := state.need(L).Read(address, length)
	if err != nil {
		L.RaiseError("read failed: %s", err)
		return 0
	}
	L.Push(lua.LString(string(data)))
	return 1
}

func luaWrite(L *lua.LState, state *ScriptState) int {
	address := uint32(L.ToInt64(1))
	data := []byte(L.ToString(2))
	opts := WriteOptions{}
	if table := L.ToTable(3); table != nil {
		if v, ok := table.RawGetString("no_erase").(lua.LBool); ok {
			opts.NoErase = bool(v)
		}
		if v, ok := table.RawGetString("no_verify").(lua.LBool); ok {
			opts.NoVerify = bool(v)
		}
	}
	result, err := state.need(L).Write(address, data, opts)
	if err != nil {
		L.RaiseError("write failed: %s", err)
		return 0
	}
	L.Push(lua.LNumber(result.Bytes))
	return 1
}

func luaErase(L *lua.LState, state *ScriptState) int {
	address := uint32(L.ToInt64(1))
	length := uint32(L.ToInt64(2))
	if _, err := state.need(L).Erase(address, length); err != nil {
		L.RaiseError("erase failed: %s", err)
	}
	return 0
}

func luaEraseAll(L *lua.LState, state *ScriptState) int {
	if _, err := state.need(L).EraseAll(); err != nil {
		L.RaiseError("erase_all failed: %s", err)
	}
	return 0
}

func luaVerify(L *lua.LState, state *ScriptState) int {
	address := uint32(L.ToInt64(1))
	expected := []byte(L.ToString(2))
	offset, err := state.need(L).Verify(address, expected)
	if err != nil {
		L.RaiseError("verify failed: %s", err)
		return 0
	}
	L.Push(lua.LNumber(offset))
	return 1
}

func luaHexDump(L *lua.LState, state *ScriptState) int {
	data := []byte(L.ToString(1))
	base := uint32(L.ToInt64(2))
	L.Push(lua.LString(HexDump(data, base)))
	return 1
}

func luaReadFile(L *lua.LState, state *ScriptState) int {
	path := state.FilePath(L.ToString(1))
	data, err := os.ReadFile(path)
	if err != nil {
		L.RaiseError("couldn't read %s: %s", path, err)
		return 0
	}
	L.Push(lua.LString(string(data)))
	return 1
}

func luaWriteFile(L *lua.LState, state *ScriptState) int {
	path := state.FilePath(L.ToString(1))
	data := []byte(L.ToString(2))
	if err := os.WriteFile(path, data, 0644); err != nil {
		L.RaiseError("couldn't write %s: %s", path, err)
	}
	return 0
}

func luaLog(L *lua.LState, state *ScriptState) int {
	parts := make([]string, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts[i-1] = L.ToStringMeta(L.Get(i)).String()
	}
	line := strings.Join(parts, "\t")
	state.logs.WriteString(line)
	state.logs.WriteByte('\n')
	log.Printf("SCRIPT: %s\n", line)
	return 0
}

func luaArguments(L *lua.LState, state *ScriptState) int {
	for _, arg := range state.arguments {
		L.Push(lua.LString(arg))
	}
	return len(state.arguments)
}

// Function for lua scripts that lets you parse hex
func luaHex(L *lua.LState) int {
	decoded, err := hex.DecodeString(L.ToString(1))
	if err != nil {
		L.RaiseError("Error decoding hex in lua script: %s", err)
		return 0
	}
	L.Push(lua.LString(string(decoded)))
	return 1
}

// Function for lua scripts that lets you parse base64
func luaBase64(L *lua.LState) int {
	decoded, err := base64.StdEncoding.DecodeString(L.ToString(1))
	if err != nil {
		L.RaiseError("Error decoding base64 in lua script: %s", err)
		return 0
	}
	L.Push(lua.LString(string(decoded)))
	return 1
}

// RunLuaFlashScript executes a flash automation script and returns whatever
// it logged. The opener decides what connect() URLs mean.
func RunLuaFlashScript(script string, arguments []string, dir string, opener DeviceOpener) (string, error) {
	state := ScriptState{
		FileDirectory: dir,
		opener:        opener,
		arguments:     arguments,
	}
	defer state.CloseAll()

	L := lua.NewState()
	defer L.Close()

	L.SetGlobal("hex", L.NewFunction(luaHex))
	L.SetGlobal("base64", L.NewFunction(luaBase64))
	state.AddFunction("connect", luaConnect, L)
	state.AddFunction("capacity", luaCapacity, L)
	state.AddFunction("geometry", luaGeometry, L)
	state.AddFunction("unlock", luaUnlock, L)
	state.AddFunction("lock", luaLock, L)
	state.AddFunction("read", luaRead, L)
	state.AddFunction("write", luaWrite, L)
	state.AddFunction("erase", luaErase, L)
	state.AddFunction("erase_all", luaEraseAll, L)
	state.AddFunction("verify", luaVerify, L)
	state.AddFunction("hexdump", luaHexDump, L)
	state.AddFunction("readfile", luaReadFile, L)
	state.AddFunction("writefile", luaWriteFile, L)
	state.AddFunction("log", luaLog, L)
	state.AddFunction("arguments", luaArguments, L)

	if err := L.DoString(script); err != nil {
		return state.logs.String(), err
	}
	return state.logs.String(), nil
}
