package gbcore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hollowpixel/gbcore/gbcore/addr"
	"github.com/hollowpixel/gbcore/gbcore/memory"
)

// headerChecksum computes the same DMG boot ROM checksum algorithm as
// memory.computeHeaderChecksum, duplicated here since it's unexported.
func headerChecksum(rom []byte) byte {
	var sum byte
	for i := 0x134; i <= 0x14C; i++ {
		sum = sum - rom[i] - 1
	}
	return sum
}

// validTestROM builds a minimal 32KB NoMBC ROM with a correct header
// checksum, good enough to load but with no meaningful program in it.
func validTestROM() []byte {
	rom := make([]byte, 0x8000)
	copy(rom[0x134:], []byte("TESTROM"))
	rom[0x147] = 0x00 // NoMBC, no battery
	rom[0x148] = 0x00
	rom[0x149] = 0x00
	rom[0x14D] = headerChecksum(rom)
	return rom
}

func writeROM(t *testing.T, rom []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.gb")
	require.NoError(t, os.WriteFile(path, rom, 0o644))
	return path
}

func TestNewRunsWithoutCartridge(t *testing.T) {
	e := New()
	for i := 0; i < 3; i++ {
		e.RunUntilFrame()
	}
	assert.Equal(t, uint64(3), e.GetFrameCount())
}

func TestNewWithFileChecksumMismatch(t *testing.T) {
	rom := validTestROM()
	rom[0x14D] ^= 0xFF
	path := writeROM(t, rom)

	_, err := NewWithFile(path)
	require.Error(t, err)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, LoadErrorChecksum, loadErr.Kind)
}

func TestNewWithFileMissingFile(t *testing.T) {
	_, err := NewWithFile(filepath.Join(t.TempDir(), "does-not-exist.gb"))
	require.Error(t, err)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, LoadErrorIO, loadErr.Kind)
}

func TestRunUntilFrameAdvancesFrameCount(t *testing.T) {
	path := writeROM(t, validTestROM())

	e, err := NewWithFile(path)
	require.NoError(t, err)

	e.RunUntilFrame()
	assert.Equal(t, uint64(1), e.GetFrameCount())
	assert.Greater(t, e.GetInstructionCount(), uint64(0))
}

func TestHandleKeyPressAppliesBeforeNextFrame(t *testing.T) {
	path := writeROM(t, validTestROM())

	e, err := NewWithFile(path)
	require.NoError(t, err)

	e.HandleKeyPress(memory.JoypadA)
	e.RunUntilFrame() // drains the posted event before stepping

	mmu := e.GetMMU()
	mmu.Write(addr.P1, 0x10) // bit4=1 (dpad not selected), bit5=0 (buttons selected)
	pressed := mmu.Read(addr.P1)&0x01 == 0
	assert.True(t, pressed, "A should read as pressed after HandleKeyPress + a frame")
}

func TestWithForceCGBEnablesCGBMode(t *testing.T) {
	path := writeROM(t, validTestROM())

	e, err := NewWithFile(path, WithForceCGB())
	require.NoError(t, err)

	assert.True(t, e.GetMMU().CGBMode())
}
