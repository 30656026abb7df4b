package memory

import (
	"fmt"
	"log/slog"

	"github.com/hollowpixel/gbcore/gbcore/addr"
	"github.com/hollowpixel/gbcore/gbcore/audio"
	"github.com/hollowpixel/gbcore/gbcore/bit"
	"github.com/hollowpixel/gbcore/gbcore/serial"
)

type memRegion uint8

const (
	regionROM memRegion = iota
	regionVRAM
	regionExtRAM
	regionWRAM
	regionEcho
	regionOAM
	regionUnused
	regionIO
	regionHRAM
)

// JoypadKey represents a key on the Gameboy joypad
type JoypadKey uint8

const (
	JoypadRight JoypadKey = iota
	JoypadLeft
	JoypadUp
	JoypadDown
	JoypadA
	JoypadB
	JoypadSelect
	JoypadStart
)

// SerialPort is the minimal interface for a serial device connected to SB/SC.
// Implementations MUST only accept reads/writes to addr.SB and addr.SC.
type SerialPort interface {
	Write(address uint16, value byte)
	Read(address uint16) byte
	Tick(cycles int)
	Reset()
}

// MMU allows access to all memory mapped I/O and data/registers
type MMU struct {
	cart      *Cartridge
	mbc       MBC
	memory    []byte
	APU       *audio.APU
	regionMap [256]memRegion

	joypadButtons uint8 // Actual state of buttons A/B/Start/Select, mapped to low bits of P1
	joypadDpad    uint8 // Actual state of d-pad directions, mapped to low bits of P1

	serial SerialPort
	timer  Timer

	// cgbMode gates every CGB-only register below: on a DMG-mode bus these
	// all read 0xFF and ignore writes, matching real DMG hardware lacking
	// the registers entirely.
	cgbMode bool

	vram     [2][0x2000]byte // VRAM banks 0/1, switched by VBK
	vramBank uint8

	wram     [8][0x1000]byte // WRAM banks 0-7; bank 0 is always C000-CFFF
	wramBank uint8           // D000-DFFF bank, 1-7 (0 reads back as 1)

	bgPalette   [64]byte // BCPS/BCPD-addressed background palette RAM
	bgPalIndex  uint8    // raw BCPS value (bit7 auto-increment, bits0-5 index)
	objPalette  [64]byte // OCPS/OCPD-addressed object palette RAM
	objPalIndex uint8    // raw OCPS value

	hdmaSrcHi, hdmaSrcLo uint8
	hdmaDstHi, hdmaDstLo uint8
	hdmaActive           bool
	hdmaHBlankMode       bool
	hdmaRemaining        uint8 // remaining 16-byte blocks - 1, valid while hdmaActive

	// ArmSpeedSwitch/SpeedArmed/IsDoubleSpeed bridge KEY1 to the CPU, which
	// owns the canonical double-speed state (STOP performs the actual
	// toggle). The façade wires these; left nil on a DMG-only bus, KEY1
	// reads back as if no switch were ever armed.
	ArmSpeedSwitch func(armed bool)
	SpeedArmed     func() bool
	IsDoubleSpeed  func() bool

	// WakeCPU is called on any joypad press transition, which on real
	// hardware also ends a STOP. The façade wires this to the CPU's
	// Resume method; left nil, a STOPped CPU driven through tests that
	// poke the bus directly without a CPU simply stays stopped.
	WakeCPU func()
}

// New creates a new memory unity with default data, i.e. nothing cartridge loaded.
// Equivalent to turning on a Gameboy without a cartridge in.
func New() *MMU {
	mmu := &MMU{
		memory:        make([]byte, 0x10000),
		cart:          NewCartridge(),
		APU:           audio.New(),
		joypadButtons: 0x0F,
		joypadDpad:    0x0F,
		wramBank:      1,
	}
	mmu.serial = serial.NewLogSink(func() { mmu.RequestInterrupt(addr.SerialInterrupt) })
	mmu.timer.TimerInterruptHandler = func() { mmu.RequestInterrupt(addr.TimerInterrupt) }
	initRegionMap(mmu)
	return mmu
}

// EnableCGB switches the bus into CGB mode, unlocking the second VRAM bank,
// WRAM banking (SVBK), the CGB palette RAM (BCPS/BCPD, OCPS/OCPD), HDMA, and
// the KEY1 speed switch. The default (false, set by New) is plain DMG
// behavior: those registers read 0xFF and ignore writes.
func (m *MMU) EnableCGB(enable bool) {
	m.cgbMode = enable
}

// Tick advances any i/o that needs it, if any.
func (m *MMU) Tick(cycles int) {
	m.timer.Tick(cycles)
	if m.serial != nil {
		m.serial.Tick(cycles)
	}
	if m.APU != nil {
		m.APU.Tick(cycles)
	}
}

// SetTimerSeed initializes the internal timer divider seed and DIV register.
func (m *MMU) SetTimerSeed(seed uint16) {
	m.timer.SetSeed(seed)
}

// NewWithCartridge creates a new memory unit with the provided cartridge data loaded.
// Equivalent to turning on a Gameboy with a cartridge in.
func NewWithCartridge(cart *Cartridge) *MMU {
	mmu := New()
	mmu.cart = cart

	switch cart.mbcType {
	case NoMBCType:
		mmu.mbc = NewNoMBC(cart.data)
	case MBC1Type:
		mmu.mbc = NewMBC1(cart.data, cart.hasBattery, cart.ramBankCount)
	case MBC1MultiType:
		mmu.mbc = NewMBC1(cart.data, cart.hasBattery, cart.ramBankCount) // FIXME: add support for multicart
	case MBC2Type:
		mmu.mbc = NewMBC2(cart.data, cart.hasBattery)
	case MBC3Type:
		mmu.mbc = NewMBC3(cart.data, cart.ramBankCount, cart.hasRTC, cart.hasBattery)
	case MBC5Type:
		mmu.mbc = NewMBC5(cart.data, cart.hasRumble, cart.hasBattery, cart.ramBankCount)
	case MBCUnknownType:
		panic("unsupported MBC type: unknown")
	default:
		panic(fmt.Sprintf("unsupported MBC type: %d", cart.mbcType))
	}

	return mmu
}

// BatteryBacked is implemented by MBCs whose external RAM (and RTC, if
// present) survives power-off and should be persisted to a save file.
type BatteryBacked interface {
	Battery() bool
	SaveRAM() []byte
	LoadRAM(data []byte)
}

// SaveRAM returns the cartridge's battery-backed RAM (and RTC state, if
// any) for persisting to a save file. Returns nil if the loaded cartridge
// has no battery.
func (m *MMU) SaveRAM() []byte {
	if bb, ok := m.mbc.(BatteryBacked); ok && bb.Battery() {
		return bb.SaveRAM()
	}
	return nil
}

// LoadRAM restores previously saved battery-backed RAM (and RTC state).
// No-op if the loaded cartridge has no battery.
func (m *MMU) LoadRAM(data []byte) {
	if bb, ok := m.mbc.(BatteryBacked); ok && bb.Battery() {
		bb.LoadRAM(data)
	}
}

// readWRAM/writeWRAM address C000-DFFF: bank 0 is fixed at C000-CFFF, the
// switchable bank (1-7 on CGB, always 1 on DMG) covers D000-DFFF.
func (m *MMU) readWRAM(address uint16) byte {
	if address < 0xD000 {
		return m.wram[0][address-0xC000]
	}
	return m.wram[m.effectiveWRAMBank()][address-0xD000]
}

func (m *MMU) writeWRAM(address uint16, value byte) {
	if address < 0xD000 {
		m.wram[0][address-0xC000] = value
		return
	}
	m.wram[m.effectiveWRAMBank()][address-0xD000] = value
}

func (m *MMU) effectiveWRAMBank() uint8 {
	if !m.cgbMode {
		return 1
	}
	return m.wramBank
}

// CGBMode reports whether this bus is running in CGB (as opposed to plain
// DMG) mode.
func (m *MMU) CGBMode() bool {
	return m.cgbMode
}

// VRAMBank returns the raw byte contents of a VRAM bank (0 or 1), for the
// PPU to read tile data, tile maps, and (in CGB mode) the bank-1 BG map
// attribute bytes directly without going through the blocking Read path.
func (m *MMU) VRAMBank(bank uint8) *[0x2000]byte {
	return &m.vram[bank&0x01]
}

// BGColor returns the raw 15-bit little-endian CGB background palette
// color at the given palette (0-7) and color index (0-3).
func (m *MMU) BGColor(palette, index uint8) uint16 {
	base := (palette&0x07)*8 + (index&0x03)*2
	return uint16(m.bgPalette[base]) | uint16(m.bgPalette[base+1])<<8
}

// OBJColor returns the raw 15-bit little-endian CGB object palette color
// at the given palette (0-7) and color index (0-3).
func (m *MMU) OBJColor(palette, index uint8) uint16 {
	base := (palette&0x07)*8 + (index&0x03)*2
	return uint16(m.objPalette[base]) | uint16(m.objPalette[base+1])<<8
}

func initRegionMap(m *MMU) {
	// ROM: 0x0000-0x7FFF
	for i := 0x00; i <= 0x7F; i++ {
		m.regionMap[i] = regionROM
	}
	// VRAM: 0x8000-0x9FFF
	for i := 0x80; i <= 0x9F; i++ {
		m.regionMap[i] = regionVRAM
	}
	// External RAM: 0xA000-0xBFFF
	for i := 0xA0; i <= 0xBF; i++ {
		m.regionMap[i] = regionExtRAM
	}
	// Work RAM: 0xC000-0xDFFF
	for i := 0xC0; i <= 0xDF; i++ {
		m.regionMap[i] = regionWRAM
	}
	// Echo RAM: 0xE000-0xFDFF
	for i := 0xE0; i <= 0xFD; i++ {
		m.regionMap[i] = regionEcho
	}
	// OAM: 0xFE00-0xFE9F, Unused: 0xFEA0-0xFEFF
	m.regionMap[0xFE] = regionOAM
	// IO + HRAM: 0xFF00-0xFFFF
	m.regionMap[0xFF] = regionIO
}

// RequestInterrupt sets the interrupt flag (IF register) of the chosen interrupt to 1.
func (m *MMU) RequestInterrupt(interrupt addr.Interrupt) {
	interruptFlags := m.Read(addr.IF)

	var bitPos uint8
	switch interrupt {
	case addr.VBlankInterrupt:
		bitPos = 0
	case addr.LCDSTATInterrupt:
		bitPos = 1
	case addr.TimerInterrupt:
		bitPos = 2
	case addr.SerialInterrupt:
		bitPos = 3
	case addr.JoypadInterrupt:
		bitPos = 4
	default:
		panic(fmt.Sprintf("Unknown interrupt: 0x%02X", uint8(interrupt)))
	}

	newFlags := bit.Set(bitPos, interruptFlags)

	m.Write(addr.IF, newFlags)
}

func (m *MMU) ReadBit(index uint8, address uint16) bool {
	return bit.IsSet(index, m.Read(address))
}

func (m *MMU) SetBit(index uint8, address uint16, set bool) {
	value := m.Read(address)
	if set {
		value = bit.Set(index, value)
	} else {
		value = bit.Reset(index, value)
	}
	m.Write(address, value)
}

func (m *MMU) Read(address uint16) byte {
	switch m.regionMap[address>>8] {
	case regionROM, regionExtRAM:
		if m.mbc == nil {
			slog.Warn("Reading from ROM/external RAM with no cartridge", "addr", fmt.Sprintf("0x%04X", address))
			return 0xFF
		}
		return m.mbc.Read(address)
	case regionVRAM:
		return m.vram[m.vramBank][address-0x8000]
	case regionWRAM:
		return m.readWRAM(address)
	case regionEcho:
		return m.readWRAM(address - 0x2000)
	case regionOAM:
		if address <= 0xFE9F {
			return m.memory[address]
		}
		// Unused area 0xFEA0-0xFEFF
		return m.memory[address]
	case regionIO:
		if address == addr.SB || address == addr.SC {
			return m.serial.Read(address)
		}
		if address == addr.DIV || address == addr.TIMA || address == addr.TMA || address == addr.TAC {
			return m.timer.Read(address)
		}
		if address >= 0xFF10 && address <= 0xFF3F {
			return m.APU.ReadRegister(address)
		}
		// Just in case, we always read the upper 3 bits of IF as 1.
		// They're not used, but have caused me some headaches when checking for
		// when the halt bug triggers (IF != 0).
		if address == addr.IF {
			return m.memory[address] | 0xE0
		}
		if v, ok := m.readCGBRegister(address); ok {
			return v
		}
		if address >= 0xFF80 {
			// HRAM
			return m.memory[address]
		}
		// Other IO registers
		return m.memory[address]
	default:
		panic(fmt.Sprintf("Attempted read at unmapped address: 0x%X", address))
	}
}

// readCGBRegister handles the CGB-only registers (KEY1, VBK, HDMA1-5,
// BCPS/BCPD, OCPS/OCPD, SVBK). On a DMG bus (cgbMode false) they all read
// 0xFF, matching hardware that doesn't implement the register at all.
func (m *MMU) readCGBRegister(address uint16) (byte, bool) {
	switch address {
	case addr.KEY1:
		if !m.cgbMode {
			return 0xFF, true
		}
		var v uint8 = 0x7E // bits 1-6 unused, read as 1
		if m.IsDoubleSpeed != nil && m.IsDoubleSpeed() {
			v |= 0x80
		}
		if m.SpeedArmed != nil && m.SpeedArmed() {
			v |= 0x01
		}
		return v, true
	case addr.VBK:
		if !m.cgbMode {
			return 0xFF, true
		}
		return m.vramBank | 0xFE, true
	case addr.SVBK:
		if !m.cgbMode {
			return 0xFF, true
		}
		return m.wramBank | 0xF8, true
	case addr.BCPS:
		if !m.cgbMode {
			return 0xFF, true
		}
		return m.bgPalIndex | 0x40, true
	case addr.BCPD:
		if !m.cgbMode {
			return 0xFF, true
		}
		return m.bgPalette[m.bgPalIndex&0x3F], true
	case addr.OCPS:
		if !m.cgbMode {
			return 0xFF, true
		}
		return m.objPalIndex | 0x40, true
	case addr.OCPD:
		if !m.cgbMode {
			return 0xFF, true
		}
		return m.objPalette[m.objPalIndex&0x3F], true
	case addr.HDMA5:
		if !m.cgbMode {
			return 0xFF, true
		}
		if !m.hdmaActive {
			return 0xFF, true
		}
		return m.hdmaRemaining, true
	case addr.HDMA1, addr.HDMA2, addr.HDMA3, addr.HDMA4:
		// write-only on real hardware
		return 0xFF, true
	case addr.RP, addr.BootROMDisable:
		return 0xFF, true
	}
	return 0, false
}

// writeCGBRegister handles writes to the CGB-only registers. Reports
// whether it claimed the address; on a DMG bus every write here is a no-op
// but still claimed, matching hardware that has no such register to write.
func (m *MMU) writeCGBRegister(address uint16, value byte) bool {
	switch address {
	case addr.KEY1:
		if m.cgbMode && m.ArmSpeedSwitch != nil {
			m.ArmSpeedSwitch(value&0x01 != 0)
		}
		return true
	case addr.VBK:
		if m.cgbMode {
			m.vramBank = value & 0x01
		}
		return true
	case addr.SVBK:
		if m.cgbMode {
			bank := value & 0x07
			if bank == 0 {
				bank = 1
			}
			m.wramBank = bank
		}
		return true
	case addr.BCPS:
		if m.cgbMode {
			m.bgPalIndex = value & 0xBF
		}
		return true
	case addr.BCPD:
		if m.cgbMode {
			idx := m.bgPalIndex & 0x3F
			m.bgPalette[idx] = value
			if m.bgPalIndex&0x80 != 0 {
				m.bgPalIndex = (m.bgPalIndex & 0xC0) | ((idx + 1) & 0x3F)
			}
		}
		return true
	case addr.OCPS:
		if m.cgbMode {
			m.objPalIndex = value & 0xBF
		}
		return true
	case addr.OCPD:
		if m.cgbMode {
			idx := m.objPalIndex & 0x3F
			m.objPalette[idx] = value
			if m.objPalIndex&0x80 != 0 {
				m.objPalIndex = (m.objPalIndex & 0xC0) | ((idx + 1) & 0x3F)
			}
		}
		return true
	case addr.HDMA1:
		if m.cgbMode {
			m.hdmaSrcHi = value
		}
		return true
	case addr.HDMA2:
		if m.cgbMode {
			m.hdmaSrcLo = value
		}
		return true
	case addr.HDMA3:
		if m.cgbMode {
			m.hdmaDstHi = value
		}
		return true
	case addr.HDMA4:
		if m.cgbMode {
			m.hdmaDstLo = value
		}
		return true
	case addr.HDMA5:
		if m.cgbMode {
			m.startHDMA(value)
		}
		return true
	case addr.RP, addr.BootROMDisable:
		return true
	}
	return false
}

// startHDMA begins a VRAM DMA transfer as specified by a write to HDMA5.
// Source/dest come from HDMA1-4 (low 4 bits of each low byte and the top 3
// bits of the dest high byte are ignored by hardware, forcing 16-byte/VRAM
// alignment). Bit 7 of the written value selects HBlank-mode (one 16-byte
// block copied per HBlank) vs general-purpose (whole transfer at once).
//
// HBlank-mode timing isn't modeled: both modes copy the full block count
// immediately. Nothing in this tree yet drives per-HBlank chunking from the
// PPU, so matching the general-purpose case exactly and approximating
// HBlank-mode is the accurate subset of this register's behavior available
// today.
func (m *MMU) startHDMA(value byte) {
	length := (uint16(value&0x7F) + 1) * 16
	src := uint16(m.hdmaSrcHi)<<8 | uint16(m.hdmaSrcLo&0xF0)
	dst := 0x8000 | uint16(m.hdmaDstHi&0x1F)<<8 | uint16(m.hdmaDstLo&0xF0)

	for i := uint16(0); i < length; i++ {
		m.vram[m.vramBank][(dst+i-0x8000)&0x1FFF] = m.Read(src + i)
	}

	m.hdmaHBlankMode = value&0x80 != 0
	m.hdmaActive = false
	m.hdmaRemaining = 0xFF
}

func (m *MMU) Write(address uint16, value byte) {
	switch m.regionMap[address>>8] {
	case regionROM:
		if m.mbc == nil {
			slog.Warn("Writing to ROM with no cartridge", "addr", fmt.Sprintf("0x%04X", address), "value", fmt.Sprintf("0x%02X", value))
			return
		}
		m.mbc.Write(address, value)
	case regionVRAM:
		m.vram[m.vramBank][address-0x8000] = value
	case regionExtRAM:
		if m.mbc == nil {
			slog.Warn("Writing to external RAM with no cartridge", "addr", fmt.Sprintf("0x%04X", address), "value", fmt.Sprintf("0x%02X", value))
			return
		}
		m.mbc.Write(address, value)
	case regionWRAM:
		m.writeWRAM(address, value)
	case regionEcho:
		m.writeWRAM(address-0x2000, value)
	case regionOAM:
		if address <= 0xFE9F {
			m.memory[address] = value
		} else {
			// Unused area 0xFEA0-0xFEFF
			m.memory[address] = value
		}
	case regionIO:
		if address == addr.P1 {
			m.writeJoypad(value)
			return
		}
		if address == addr.SB || address == addr.SC {
			m.serial.Write(address, value)
			return
		}
		if address == addr.DIV || address == addr.TIMA || address == addr.TMA || address == addr.TAC {
			m.timer.Write(address, value)
			return
		}
		if address >= 0xFF10 && address <= 0xFF3F {
			m.APU.WriteRegister(address, value)
			return
		}
		if address == addr.IF {
			// This goddamn register has its upper 3 bits always set as 1...
			// Beware if you're trying to match halt bug behavior.
			m.memory[address] = value | 0xE0
			return
		}
		if address == addr.DMA {
			sourceAddr := uint16(value) << 8
			// DMA transfer copies 160 bytes from source to OAM
			for i := range uint16(160) {
				m.memory[0xFE00+i] = m.Read(sourceAddr + i)
			}
			m.memory[address] = value
			return
		}
		if m.writeCGBRegister(address, value) {
			return
		}
		if address >= 0xFF80 {
			// HRAM
			m.memory[address] = value
			return
		}
		// Other IO registers
		m.memory[address] = value
	default:
		panic(fmt.Sprintf("Attempted write at unmapped address: 0x%X", address))
	}
}

// updateJoypadRegister sets the joypad register (P1) according to selection bits
// and hardware (buttons) status.
//
// In real hw, this register is actually just a selector (bits 4-5) that control
// to which set of buttons the low bits (0-3) are mapped to.
//
// The mapping (a group is selected when its bit is 0):
//   - if bit 4 is clear, bits 0-3 are mapped to the 4 d-pad directions
//   - if bit 5 is clear, bits 0-3 are mapped to A, B, Start, Select
//   - if both are clear, hw does an AND of both button sets
//   - if neither is clear, return 0x0F (high impedence state)
//
// This function is called whenever:
//   - there is a write to the P1 register (only set bits 4-5)
//   - a button is pressed or released (tracked separately)
//
// Note that 1 -> button released, 0 -> button pressed.
// Bits 6-7 are unused, they always read as 1 on real hardware.
func (m *MMU) updateJoypadRegister() {
	p1 := m.memory[addr.P1]
	result := uint8(0b11000000) // Bits 6-7 are always read as 1
	result |= p1 & 0b00110000   // Keep selection bits 4-5

	// A button group is selected if the corresponding bit is 0
	selectDpad := !bit.IsSet(4, p1)
	selectButtons := !bit.IsSet(5, p1)

	switch {
	case selectButtons && !selectDpad:
		result |= m.joypadButtons & 0x0F
	case selectDpad && !selectButtons:
		result |= m.joypadDpad & 0x0F
	case selectButtons && selectDpad:
		result |= m.joypadButtons & m.joypadDpad & 0x0F
	default:
		// no selection
		result |= 0x0F
	}

	m.memory[addr.P1] = result
}

func (m *MMU) writeJoypad(value uint8) {
	// Only bits 4-5 are writable (selection bits)
	m.memory[addr.P1] = value & 0b00110000
	m.updateJoypadRegister()
}

func (m *MMU) HandleKeyPress(key JoypadKey) {
	oldButtons := m.joypadButtons
	oldDpad := m.joypadDpad

	switch key {
	case JoypadRight:
		m.joypadDpad = bit.Reset(0, m.joypadDpad)
	case JoypadLeft:
		m.joypadDpad = bit.Reset(1, m.joypadDpad)
	case JoypadUp:
		m.joypadDpad = bit.Reset(2, m.joypadDpad)
	case JoypadDown:
		m.joypadDpad = bit.Reset(3, m.joypadDpad)
	case JoypadA:
		m.joypadButtons = bit.Reset(0, m.joypadButtons)
	case JoypadB:
		m.joypadButtons = bit.Reset(1, m.joypadButtons)
	case JoypadSelect:
		m.joypadButtons = bit.Reset(2, m.joypadButtons)
	case JoypadStart:
		m.joypadButtons = bit.Reset(3, m.joypadButtons)
	}

	buttonTransitions := oldButtons & ^m.joypadButtons
	dpadTransitions := oldDpad & ^m.joypadDpad
	if buttonTransitions|dpadTransitions != 0 {
		m.RequestInterrupt(addr.JoypadInterrupt)
		if m.WakeCPU != nil {
			m.WakeCPU()
		}
	}

	m.updateJoypadRegister()
}

func (m *MMU) HandleKeyRelease(key JoypadKey) {
	switch key {
	case JoypadRight:
		m.joypadDpad = bit.Set(0, m.joypadDpad)
	case JoypadLeft:
		m.joypadDpad = bit.Set(1, m.joypadDpad)
	case JoypadUp:
		m.joypadDpad = bit.Set(2, m.joypadDpad)
	case JoypadDown:
		m.joypadDpad = bit.Set(3, m.joypadDpad)
	case JoypadA:
		m.joypadButtons = bit.Set(0, m.joypadButtons)
	case JoypadB:
		m.joypadButtons = bit.Set(1, m.joypadButtons)
	case JoypadSelect:
		m.joypadButtons = bit.Set(2, m.joypadButtons)
	case JoypadStart:
		m.joypadButtons = bit.Set(3, m.joypadButtons)
	}

	m.updateJoypadRegister()
}
