package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"ad568x/dac"
	"ad568x/host/mcu"
	"ad568x/host/shell"
)

// app binds the CLI commands to one open device
type app struct {
	ctx    context.Context
	dev    *dac.Device
	mcu    *mcu.MCU
	stdin  io.Reader
	out    io.Writer
	logger *zap.Logger
}

func newApp(ctx context.Context, dev *dac.Device, m *mcu.MCU, out io.Writer, logger *zap.Logger) *app {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &app{ctx: ctx, dev: dev, mcu: m, out: out, logger: logger}
}

// registry returns the command set. The shell command itself is only
// offered from the command line.
func (a *app) registry(withShell bool) *shell.Registry {
	r := shell.NewRegistry()
	r.Register(&shell.Command{Name: "reset", Help: "Soft reset the DAC", Handler: a.reset})
	r.Register(&shell.Command{Name: "set", Usage: "<ch> <0..65535>", Help: "Write a raw code to one channel",
		MinArgs: 2, MaxArgs: 2, Handler: a.set})
	r.Register(&shell.Command{Name: "setn", Usage: "<ch> <0..1>", Help: "Write a normalized value to one channel",
		MinArgs: 2, MaxArgs: 2, Handler: a.setNormalized})
	r.Register(&shell.Command{Name: "all", Usage: "<0..65535>", Help: "Write a raw code to every channel",
		MinArgs: 1, MaxArgs: 1, Handler: a.all})
	r.Register(&shell.Command{Name: "ramp", Usage: "<ch> <from> <to> <steps> <hz>", Help: "Step a channel between two codes at a fixed rate",
		MinArgs: 5, MaxArgs: 5, Handler: a.ramp})
	r.Register(&shell.Command{Name: "channels", Help: "List the outputs of the configured part", Handler: a.channels})
	if a.mcu != nil {
		r.Register(&shell.Command{Name: "dict", Help: "Print the MCU dictionary", Handler: a.dict})
		r.Register(&shell.Command{Name: "status", Help: "Query the MCU configuration state", Handler: a.status})
	}
	if withShell {
		r.Register(&shell.Command{Name: "shell", Help: "Read commands interactively", Handler: a.shell})
	}
	return r
}

func (a *app) channel(name string) (*dac.AnalogOut, error) {
	ch, ok := a.dev.Channel(name)
	if !ok {
		return nil, fmt.Errorf("%s has no channel %q", a.dev.Variant().Name, name)
	}
	return ch, nil
}

func parseCode(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid code %q: want 0..65535", s)
	}
	return uint16(v), nil
}

func (a *app) reset([]string) error {
	if err := a.dev.Reset(); err != nil {
		return err
	}
	a.logger.Info("soft reset sent")
	return nil
}

func (a *app) set(args []string) error {
	ch, err := a.channel(args[0])
	if err != nil {
		return err
	}
	v, err := parseCode(args[1])
	if err != nil {
		return err
	}
	if err := ch.SetValue(v); err != nil {
		return err
	}
	a.logger.Debug("channel set", zap.String("channel", ch.Name()), zap.Uint16("code", v))
	return nil
}

func (a *app) setNormalized(args []string) error {
	ch, err := a.channel(args[0])
	if err != nil {
		return err
	}
	f, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid value %q: want 0..1", args[1])
	}
	if err := ch.SetNormalized(f); err != nil {
		return err
	}
	a.logger.Debug("channel set",
		zap.String("channel", ch.Name()),
		zap.Float64("value", f),
		zap.Uint16("code", dac.Normalize(f)))
	return nil
}

func (a *app) all(args []string) error {
	v, err := parseCode(args[0])
	if err != nil {
		return err
	}
	return a.dev.WriteAll(v)
}

// rampCodes returns steps codes evenly spaced from first to last inclusive
func rampCodes(first, last uint16, steps int) []uint16 {
	codes := make([]uint16, steps)
	span := int64(last) - int64(first)
	for i := range codes {
		codes[i] = uint16(int64(first) + span*int64(i)/int64(steps-1))
	}
	return codes
}

func (a *app) ramp(args []string) error {
	ch, err := a.channel(args[0])
	if err != nil {
		return err
	}
	first, err := parseCode(args[1])
	if err != nil {
		return err
	}
	last, err := parseCode(args[2])
	if err != nil {
		return err
	}
	steps, err := strconv.Atoi(args[3])
	if err != nil || steps < 2 {
		return fmt.Errorf("invalid step count %q: want 2 or more", args[3])
	}
	hz, err := strconv.ParseFloat(args[4], 64)
	if err != nil || hz <= 0 {
		return fmt.Errorf("invalid rate %q: want a positive number of steps per second", args[4])
	}

	limiter := rate.NewLimiter(rate.Limit(hz), 1)
	for _, code := range rampCodes(first, last, steps) {
		if err := limiter.Wait(a.ctx); err != nil {
			return err
		}
		if err := ch.SetValue(code); err != nil {
			return err
		}
	}
	a.logger.Info("ramp done",
		zap.String("channel", ch.Name()),
		zap.Uint16("from", first),
		zap.Uint16("to", last),
		zap.Int("steps", steps))
	return nil
}

func (a *app) channels([]string) error {
	for _, ch := range a.dev.Channels() {
		fmt.Fprintf(a.out, "%s\t0b%04b\n", ch.Name(), ch.Channel())
	}
	return nil
}

func (a *app) dict([]string) error {
	a.mcu.PrintDictionary(a.out)
	return nil
}

func (a *app) status([]string) error {
	state, err := a.mcu.QueryConfig()
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "configured=%t crc=%08x shutdown=%t move_count=%d\n",
		state.IsConfig, state.CRC, state.IsShutdown, state.MoveCount)
	return nil
}

func (a *app) shell([]string) error {
	r := a.registry(false)
	r.Register(&shell.Command{Name: "help", Help: "Show this help message", Handler: func([]string) error {
		r.WriteHelp(a.out)
		return nil
	}})
	r.Register(&shell.Command{Name: "quit", Help: "Exit the shell", Handler: func([]string) error {
		return shell.ErrQuit
	}})

	fmt.Fprintln(a.out, "Enter commands (type 'help' for available commands, 'quit' to exit):")
	scanner := bufio.NewScanner(a.stdin)
	for {
		fmt.Fprint(a.out, "> ")
		if !scanner.Scan() {
			break
		}
		err := r.Exec(scanner.Text())
		if errors.Is(err, shell.ErrQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(a.out, "Error: %v\n", err)
			if a.ctx.Err() != nil {
				return a.ctx.Err()
			}
		}
	}
	fmt.Fprintln(a.out)
	return scanner.Err()
}
