package memory

import (
	"errors"
	"fmt"

	"github.com/hollowpixel/gbcore/gbcore/bit"
)

// Sentinel load-time failure categories, per spec §7. gbcore.LoadError wraps
// these so host callers can errors.Is/errors.As on a stable category instead
// of parsing an error string.
var (
	ErrROMTooSmall              = errors.New("rom image too small to contain a header")
	ErrHeaderChecksumMismatch   = errors.New("header checksum mismatch")
	ErrUnsupportedCartridgeType = errors.New("unsupported cartridge type")
)

const titleLength = 11

// minHeaderSize is the lowest ROM length that exposes the full 0x0100-0x014F
// header range this parser reads.
const minHeaderSize = 0x150

const (
	entryPointAddress       = 0x100
	logoAddress             = 0x104
	titleAddress            = 0x134
	manufacturerCodeAddress = 0x13F
	cgbFlagAddress          = 0x143
	newLicenseCodeAddress   = 0x144
	sgbFlagAddress          = 0x146
	cartridgeTypeAddress    = 0x147
	romSizeAddress          = 0x148
	ramSizeAddress          = 0x149
	destinationCodeAddress  = 0x14A
	oldLicenseCodeAddress   = 0x14B
	versionNumberAddress    = 0x14C
	headerChecksumAddress   = 0x14D
	globalChecksumAddress   = 0x14E
)

// cgbSupport reflects the value at 0x143 (the CGB flag byte).
type cgbSupport uint8

const (
	// cgbUnsupported means the cartridge was built before CGB existed and
	// must run in plain DMG compatibility mode.
	cgbUnsupported cgbSupport = iota
	// cgbEnhanced means the cartridge runs on both DMG and CGB, with extra
	// features unlocked when running on CGB hardware (0x143 == 0x80).
	cgbEnhanced
	// cgbOnly means the cartridge refuses to boot on DMG hardware
	// (0x143 == 0xC0).
	cgbOnly
)

// MBCType identifies which memory bank controller chip a cartridge expects.
type MBCType uint8

const (
	NoMBCType MBCType = iota
	MBC1Type
	MBC1MultiType
	MBC2Type
	MBC3Type
	MBC5Type
	MBCUnknownType
)

type Cartridge struct {
	data           []byte
	title          string
	headerChecksum uint8
	globalChecksum uint16
	version        uint8
	cartType       uint8
	romSize        uint8
	ramSize        uint8
	cgb            cgbSupport

	mbcType      MBCType
	hasBattery   bool
	hasRTC       bool
	hasRumble    bool
	ramBankCount uint8
}

// NewCartridge creates an empty cartridge, useful only for debugging purposes.
func NewCartridge() *Cartridge {
	return &Cartridge{
		data: make([]byte, 0x10000),
	}
}

// NewCartridgeWithData initializes a new Cartridge from a slice of bytes.
// Construction never partially succeeds (spec §7): a ROM too short to hold
// a header, a header checksum mismatch, or an unrecognized cartridge type
// byte all fail the whole call rather than returning a half-built value.
func NewCartridgeWithData(bytes []byte) (*Cartridge, error) {
	if len(bytes) < minHeaderSize {
		return nil, fmt.Errorf("%w: got %d bytes, need at least %d", ErrROMTooSmall, len(bytes), minHeaderSize)
	}

	computed := computeHeaderChecksum(bytes)
	stored := bytes[headerChecksumAddress]
	if computed != stored {
		return nil, fmt.Errorf("%w: computed 0x%02X, header says 0x%02X", ErrHeaderChecksumMismatch, computed, stored)
	}

	titleBytes := bytes[titleAddress : titleAddress+titleLength]

	cartType := bytes[cartridgeTypeAddress]
	ramSize := bytes[ramSizeAddress]

	mbcType, battery, rtc, rumble := decodeCartType(cartType)
	if mbcType == MBCUnknownType {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnsupportedCartridgeType, cartType)
	}

	cart := &Cartridge{
		data:           make([]byte, len(bytes)),
		title:          cleanGameboyTitle(titleBytes),
		headerChecksum: stored,
		globalChecksum: bit.Combine(bytes[globalChecksumAddress], bytes[globalChecksumAddress+1]),
		version:        bytes[versionNumberAddress],
		cartType:       cartType,
		romSize:        bytes[romSizeAddress],
		ramSize:        ramSize,
		cgb:            parseCGBFlag(bytes[cgbFlagAddress]),
		ramBankCount:   ramBankCount(ramSize),
		mbcType:        mbcType,
		hasBattery:     battery,
		hasRTC:         rtc,
		hasRumble:      rumble,
	}

	copy(cart.data, bytes)

	return cart, nil
}

// computeHeaderChecksum follows the documented DMG boot ROM algorithm:
// starting from 0, subtract each header byte and 1, wrapping as a uint8,
// over 0x0134..=0x014C (title through version number).
func computeHeaderChecksum(bytes []byte) uint8 {
	var sum uint8
	for i := titleAddress; i <= versionNumberAddress; i++ {
		sum = sum - bytes[i] - 1
	}
	return sum
}

// decodeCartType maps the 0x147 cartridge type byte to an MBC chip and the
// battery/RTC/rumble features that hang off it, per the standard Game Boy
// cartridge header table.
func decodeCartType(cartType uint8) (mbc MBCType, battery, rtc, rumble bool) {
	switch cartType {
	case 0x00:
		return NoMBCType, false, false, false
	case 0x01:
		return MBC1Type, false, false, false
	case 0x02:
		return MBC1Type, false, false, false
	case 0x03:
		return MBC1Type, true, false, false
	case 0x05:
		return MBC2Type, false, false, false
	case 0x06:
		return MBC2Type, true, false, false
	case 0x0F:
		return MBC3Type, true, true, false
	case 0x10:
		return MBC3Type, true, true, false
	case 0x11:
		return MBC3Type, false, false, false
	case 0x12:
		return MBC3Type, false, false, false
	case 0x13:
		return MBC3Type, true, false, false
	case 0x19:
		return MBC5Type, false, false, false
	case 0x1A:
		return MBC5Type, false, false, false
	case 0x1B:
		return MBC5Type, true, false, false
	case 0x1C:
		return MBC5Type, false, false, true
	case 0x1D:
		return MBC5Type, false, false, true
	case 0x1E:
		return MBC5Type, true, false, true
	default:
		return MBCUnknownType, false, false, false
	}
}

// ramBankCount maps the 0x149 RAM size byte to a count of 8KB banks. MBC2's
// built-in 512x4-bit RAM is handled separately and ignores this field.
func ramBankCount(ramSize uint8) uint8 {
	switch ramSize {
	case 0x00:
		return 0
	case 0x02:
		return 1
	case 0x03:
		return 4
	case 0x04:
		return 16
	case 0x05:
		return 8
	default:
		return 0
	}
}

func parseCGBFlag(flag byte) cgbSupport {
	switch flag {
	case 0xC0:
		return cgbOnly
	case 0x80:
		return cgbEnhanced
	default:
		return cgbUnsupported
	}
}

// SupportsCGB reports whether this cartridge requests or allows CGB mode.
func (c *Cartridge) SupportsCGB() bool {
	return c.cgb != cgbUnsupported
}

// RequiresCGB reports whether the cartridge refuses to run on DMG hardware.
func (c *Cartridge) RequiresCGB() bool {
	return c.cgb == cgbOnly
}

// Title returns the cleaned, printable cartridge title from the header.
func (c *Cartridge) Title() string {
	return c.title
}

// MBCType returns the memory bank controller chip this cartridge expects.
func (c *Cartridge) MBCType() MBCType {
	return c.mbcType
}

// HasBattery reports whether cartridge RAM (and RTC, if present) survives
// power-off and should be persisted to a save file.
func (c *Cartridge) HasBattery() bool {
	return c.hasBattery
}

// HasRTC reports whether this cartridge has an MBC3 real-time clock.
func (c *Cartridge) HasRTC() bool {
	return c.hasRTC
}

// HasRumble reports whether this cartridge has an MBC5 rumble motor.
func (c *Cartridge) HasRumble() bool {
	return c.hasRumble
}

// RAMBankCount returns the number of 8KB external RAM banks, 0 if none.
func (c *Cartridge) RAMBankCount() uint8 {
	return c.ramBankCount
}

// ReadByte reads a byte at the specified address. Does not check bounds, so the caller must make sure the
// address is valid for the cartridge.
func (c Cartridge) ReadByte(addr uint16) uint8 {
	return c.data[addr]
}

// WriteByte does not change the cartridge data; it ignores value and returns
// the byte currently stored at addr.
func (c Cartridge) WriteByte(addr uint16, value uint8) uint8 {
	return c.data[addr]
}
