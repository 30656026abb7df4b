package main

import (
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"

	"github.com/urfave/cli"
	"gopkg.in/yaml.v3"

	"github.com/hollowpixel/gbcore/gbcore"
)

// fileConfig is the optional YAML config file shape: sample rate, audio
// queue threshold, log level, and DMG/CGB mode override, applied through
// the same functional options the public API exposes.
type fileConfig struct {
	SampleRate          int    `yaml:"sample_rate"`
	AudioQueueThreshold int    `yaml:"audio_queue_threshold"`
	LogLevel            string `yaml:"log_level"`
	ForceDMG            bool   `yaml:"force_dmg"`
	ForceCGB            bool   `yaml:"force_cgb"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %q: %w", path, err)
	}
	return cfg, nil
}

func (c fileConfig) options() []gbcore.Option {
	var opts []gbcore.Option
	if c.SampleRate > 0 {
		opts = append(opts, gbcore.WithSampleRate(c.SampleRate))
	}
	if c.AudioQueueThreshold > 0 {
		opts = append(opts, gbcore.WithAudioQueueThreshold(c.AudioQueueThreshold))
	}
	if c.ForceDMG {
		opts = append(opts, gbcore.WithForceDMG())
	}
	if c.ForceCGB {
		opts = append(opts, gbcore.WithForceCGB())
	}
	return opts
}

func configureLogging(level string) {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}

func main() {
	app := cli.NewApp()
	app.Name = "gbcore"
	app.Usage = "gbcore [options] <rom-path>"
	app.Description = "A headless Game Boy / Game Boy Color core driver"
	app.Version = "1.0.0"
	app.Flags = []cli.Flag{
		cli.IntFlag{
			Name:  "frames",
			Usage: "number of frames to run before reporting the frame checksum",
			Value: 60,
		},
		cli.StringFlag{
			Name:  "config",
			Usage: "path to an optional YAML config file (sample_rate, audio_queue_threshold, log_level, force_dmg, force_cgb)",
		},
	}
	app.Action = runEmulator

	if err := app.Run(os.Args); err != nil {
		slog.Error("gbcore exited with an error", "error", err)

		var loadErr *gbcore.LoadError
		if errors.As(err, &loadErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// runEmulator is the entire core of the driver: load a ROM, run it
// headless for the requested number of frames, drain audio each frame so
// the buffer doesn't grow unbounded, and report a checksum of the final
// frame buffer. Exit codes per spec §6: 0 clean quit, 1 argument error, 2
// ROM load error.
func runEmulator(c *cli.Context) error {
	if c.NArg() < 1 {
		cli.ShowAppHelp(c)
		return errors.New("no ROM path provided")
	}
	romPath := c.Args().Get(0)

	frames := c.Int("frames")
	if frames <= 0 {
		return errors.New("--frames must be a positive number of frames")
	}

	cfg, err := loadFileConfig(c.String("config"))
	if err != nil {
		return err
	}
	configureLogging(cfg.LogLevel)

	emu, err := gbcore.NewWithFile(romPath, cfg.options()...)
	if err != nil {
		return err
	}
	defer func() {
		if err := emu.Close(); err != nil {
			slog.Error("failed to flush save sidecar", "error", err)
		}
	}()

	for i := 0; i < frames; i++ {
		emu.RunUntilFrame()
		emu.AudioSamples(4096)
	}

	frame := emu.GetCurrentFrame()
	checksum := crc32.ChecksumIEEE(frame.ToBinaryData())

	slog.Info("run complete",
		"frames", frames,
		"instructions", emu.GetInstructionCount(),
		"frame_checksum", fmt.Sprintf("0x%08X", checksum))
	fmt.Printf("0x%08X\n", checksum)

	return nil
}
