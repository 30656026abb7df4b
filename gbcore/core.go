package gbcore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/hollowpixel/gbcore/gbcore/audio"
	"github.com/hollowpixel/gbcore/gbcore/cpu"
	"github.com/hollowpixel/gbcore/gbcore/input"
	"github.com/hollowpixel/gbcore/gbcore/memory"
	"github.com/hollowpixel/gbcore/gbcore/video"
)

// DebuggerState represents the current debugger mode
type DebuggerState int

const (
	DebuggerRunning   DebuggerState = iota // Normal execution
	DebuggerPaused                         // Paused, waiting for commands
	DebuggerStep                           // Execute one instruction then pause
	DebuggerStepFrame                      // Execute one frame then pause
)

// LoadErrorKind distinguishes the load-time failure categories of spec §7,
// so a host can errors.As into a LoadError and switch on Kind instead of
// matching an error string.
type LoadErrorKind int

const (
	// LoadErrorIO covers failures reading the ROM (or its save sidecar)
	// from disk.
	LoadErrorIO LoadErrorKind = iota
	// LoadErrorChecksum is a header checksum mismatch (spec §3/§6).
	LoadErrorChecksum
	// LoadErrorUnsupportedCartridge is an unrecognized MBC/cartridge-type byte.
	LoadErrorUnsupportedCartridge
	// LoadErrorSidecarMismatch is a save-file sidecar whose length doesn't
	// match what the loaded cartridge's battery-backed RAM expects.
	LoadErrorSidecarMismatch
)

func (k LoadErrorKind) String() string {
	switch k {
	case LoadErrorIO:
		return "io"
	case LoadErrorChecksum:
		return "checksum"
	case LoadErrorUnsupportedCartridge:
		return "unsupported cartridge"
	case LoadErrorSidecarMismatch:
		return "sidecar mismatch"
	default:
		return "unknown"
	}
}

// LoadError reports why constructing an Emulator from a ROM image failed.
// Construction never partially succeeds: any of these causes returns a nil
// Emulator alongside a *LoadError.
type LoadError struct {
	Kind LoadErrorKind
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load rom: %s: %v", e.Kind, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

func newLoadError(kind LoadErrorKind, err error) *LoadError {
	return &LoadError{Kind: kind, Err: err}
}

// options holds the functional-options configuration for New/NewWithFile.
type options struct {
	sampleRate          int
	audioQueueThreshold int
	forceDMG            bool
	forceCGB            bool
}

func defaultOptions() options {
	return options{
		sampleRate:          44100,
		audioQueueThreshold: 2048,
	}
}

// Option configures an Emulator at construction time. Same functional-
// options shape as serial.LogSinkOption.
type Option func(*options)

// WithSampleRate sets the host audio sample rate GetSamples mixes down to.
func WithSampleRate(hz int) Option {
	return func(o *options) { o.sampleRate = hz }
}

// WithAudioQueueThreshold sets how many buffered stereo sample pairs
// AudioSamples waits for before returning a non-empty slice.
func WithAudioQueueThreshold(n int) Option {
	return func(o *options) { o.audioQueueThreshold = n }
}

// WithForceDMG runs the cartridge in plain DMG mode even if its header
// requests or allows CGB features.
func WithForceDMG() Option {
	return func(o *options) { o.forceDMG = true; o.forceCGB = false }
}

// WithForceCGB runs the cartridge in CGB mode even if its header doesn't
// request it. Has no effect together with WithForceDMG (last option wins).
func WithForceCGB() Option {
	return func(o *options) { o.forceCGB = true; o.forceDMG = false }
}

// Emulator represents the root struct and entry point for running the emulation
type Emulator struct {
	cpu   *cpu.CPU
	gpu   *video.GPU
	mem   *memory.MMU
	input *input.Queue
	opts  options

	savePath string // sidecar path for battery-backed RAM, "" if none

	// Debugger state
	debuggerState    DebuggerState
	debuggerMutex    sync.RWMutex
	stepRequested    bool
	frameRequested   bool
	instructionCount uint64
	frameCount       uint64
}

// cyclesPerFrame is the number of T-cycles in one 59.7Hz DMG frame
// (70224 cycles at 4.194304MHz). On CGB double speed this doubles, since
// the CPU itself runs twice as many T-cycles per real frame.
const cyclesPerFrame = 70224

func (e *Emulator) init(cart *memory.Cartridge, opts options) {
	mem := memory.NewWithCartridge(cart)
	mem.APU = audio.NewWithSampleRate(opts.sampleRate)
	mem.SetTimerSeed(0xABCC)

	cgbMode := cart.SupportsCGB()
	if opts.forceDMG {
		cgbMode = false
	}
	if opts.forceCGB {
		cgbMode = true
	}
	mem.EnableCGB(cgbMode)

	var c *cpu.CPU
	if cgbMode {
		c = cpu.NewCGB(mem)
	} else {
		c = cpu.New(mem)
	}

	mem.ArmSpeedSwitch = c.SetDoubleSpeedArmed
	mem.SpeedArmed = c.SpeedArmed
	mem.IsDoubleSpeed = c.DoubleSpeed
	mem.WakeCPU = c.Resume

	e.cpu = c
	e.gpu = video.NewGpu(mem)
	e.mem = mem
	e.input = input.NewQueue()
	e.opts = opts
}

// New creates a new emulator instance with no cartridge loaded.
func New(opts ...Option) *Emulator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	e := &Emulator{}
	e.init(memory.NewCartridge(), o)
	return e
}

// NewWithFile creates a new emulator instance and loads the ROM at path
// into it, including a battery-backed save sidecar (path+".sav") if the
// cartridge has one and the sidecar exists.
func NewWithFile(path string, opts ...Option) (*Emulator, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newLoadError(LoadErrorIO, err)
	}

	slog.Debug("Loaded ROM data", "size", len(data))

	cart, err := memory.NewCartridgeWithData(data)
	if err != nil {
		switch {
		case errors.Is(err, memory.ErrUnsupportedCartridgeType):
			return nil, newLoadError(LoadErrorUnsupportedCartridge, err)
		case errors.Is(err, memory.ErrHeaderChecksumMismatch):
			return nil, newLoadError(LoadErrorChecksum, err)
		default:
			return nil, newLoadError(LoadErrorIO, err)
		}
	}

	e := &Emulator{}
	e.init(cart, o)

	if cart.HasBattery() {
		e.savePath = path + ".sav"
		if err := e.loadSidecar(e.savePath); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// loadSidecar restores battery-backed RAM from path, if it exists. A
// missing sidecar is not an error (fresh cartridge, no prior save); a
// sidecar whose length doesn't match what this cartridge's MBC expects is.
func (e *Emulator) loadSidecar(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return newLoadError(LoadErrorIO, err)
	}

	expected := len(e.mem.SaveRAM())
	if len(data) != expected {
		return newLoadError(LoadErrorSidecarMismatch, fmt.Errorf("sidecar %q has %d bytes, want %d", path, len(data), expected))
	}

	e.mem.LoadRAM(data)
	return nil
}

// Close flushes battery-backed RAM (and RTC state) to the save sidecar, if
// this cartridge has one. Safe to call even if no cartridge/battery is
// loaded, in which case it's a no-op. Go has no destructors, so a host must
// call this explicitly before discarding the Emulator.
func (e *Emulator) Close() error {
	if e.savePath == "" {
		return nil
	}

	data := e.mem.SaveRAM()
	if data == nil {
		return nil
	}

	return os.WriteFile(e.savePath, data, 0o644)
}

// drainInput applies every joypad event posted since the last call, in
// order, to the bus. Spec §5 requires button_up/down to serialize with the
// main step rather than race it; draining the queue once at the start of
// every RunUntilFrame call is that serialization point.
func (e *Emulator) drainInput() {
	for _, ev := range e.input.Drain() {
		key := memory.JoypadKey(ev.Button)
		if ev.Pressed {
			e.mem.HandleKeyPress(key)
		} else {
			e.mem.HandleKeyRelease(key)
		}
	}
}

// step executes one CPU instruction (or interrupt service / halt tick) and
// advances every other ticked device (timer, serial, APU, PPU) by the same
// number of T-cycles, per the tick-per-step bus architecture.
func (e *Emulator) step() int {
	cycles := e.cpu.Step()
	e.mem.Tick(cycles)
	e.gpu.Tick(cycles)
	e.instructionCount++
	return cycles
}

func (e *Emulator) RunUntilFrame() {
	e.drainInput()

	e.debuggerMutex.RLock()
	state := e.debuggerState
	e.debuggerMutex.RUnlock()

	// Handle paused state - don't execute anything
	if state == DebuggerPaused {
		return
	}

	// Handle step instruction - execute one instruction then pause
	if state == DebuggerStep {
		e.debuggerMutex.Lock()
		if e.stepRequested {
			e.stepRequested = false
			e.debuggerMutex.Unlock()

			oldPC := e.cpu.PC()
			e.step()
			slog.Debug("Step executed", "pc", fmt.Sprintf("0x%04X", oldPC), "new_pc", fmt.Sprintf("0x%04X", e.cpu.PC()))

			e.SetDebuggerState(DebuggerPaused)
		} else {
			e.debuggerMutex.Unlock()
		}
		return
	}

	// Handle step frame - execute one frame then pause
	if state == DebuggerStepFrame {
		e.debuggerMutex.Lock()
		frameRequested := e.frameRequested
		if frameRequested {
			e.frameRequested = false
		}
		e.debuggerMutex.Unlock()

		if frameRequested {
			e.runOneFrame()
			slog.Debug("Frame step completed", "frame", e.frameCount, "instructions", e.instructionCount)
			e.SetDebuggerState(DebuggerPaused)
		}
		return
	}

	// Normal execution (DebuggerRunning)
	e.runOneFrame()
	if e.frameCount%60 == 0 {
		slog.Debug("Frame completed", "frame", e.frameCount, "pc", fmt.Sprintf("0x%04X", e.cpu.PC()))
	}
}

// runOneFrame drives Step until a full frame's worth of T-cycles has been
// spent. On CGB double speed the CPU burns twice as many T-cycles doing the
// same real-time work, so the target doubles too.
func (e *Emulator) runOneFrame() {
	target := cyclesPerFrame
	if e.mem.CGBMode() && e.cpu.DoubleSpeed() {
		target *= 2
	}

	total := 0
	for total < target {
		total += e.step()
	}
	e.frameCount++
}

func (e *Emulator) GetCurrentFrame() *video.FrameBuffer {
	return e.gpu.GetFrameBuffer()
}

// AudioSamples returns max stereo sample pairs (interleaved left/right
// int16, zero-padded when fewer are buffered), or nil if fewer than the
// configured audio queue threshold are buffered yet.
func (e *Emulator) AudioSamples(max int) []int16 {
	if e.mem.APU.AvailableSamples() < e.opts.audioQueueThreshold {
		return nil
	}
	return e.mem.APU.GetSamples(max)
}

func (e *Emulator) HandleKeyPress(key memory.JoypadKey) {
	e.input.Post(input.Event{Button: input.Button(key), Pressed: true})
}

func (e *Emulator) HandleKeyRelease(key memory.JoypadKey) {
	e.input.Post(input.Event{Button: input.Button(key), Pressed: false})
}

func (e *Emulator) GetCPU() *cpu.CPU {
	return e.cpu
}

// Debugger control methods
func (e *Emulator) SetDebuggerState(state DebuggerState) {
	e.debuggerMutex.Lock()
	defer e.debuggerMutex.Unlock()
	e.debuggerState = state
	slog.Debug("Debugger state changed", "state", state)
}

func (e *Emulator) GetDebuggerState() DebuggerState {
	e.debuggerMutex.RLock()
	defer e.debuggerMutex.RUnlock()
	return e.debuggerState
}

func (e *Emulator) DebuggerPause() {
	e.SetDebuggerState(DebuggerPaused)
	slog.Info("Emulator paused")
}

func (e *Emulator) DebuggerResume() {
	e.SetDebuggerState(DebuggerRunning)
	slog.Info("Emulator resumed")
}

func (e *Emulator) DebuggerStepInstruction() {
	e.debuggerMutex.Lock()
	defer e.debuggerMutex.Unlock()
	e.stepRequested = true
	e.debuggerState = DebuggerStep
	slog.Info("Step instruction requested")
}

func (e *Emulator) DebuggerStepFrame() {
	e.debuggerMutex.Lock()
	defer e.debuggerMutex.Unlock()
	e.frameRequested = true
	e.debuggerState = DebuggerStepFrame
	slog.Info("Step frame requested")
}

func (e *Emulator) GetInstructionCount() uint64 {
	return e.instructionCount
}

func (e *Emulator) GetFrameCount() uint64 {
	return e.frameCount
}

func (e *Emulator) GetMMU() *memory.MMU {
	return e.mem
}
