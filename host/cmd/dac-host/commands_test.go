package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ad568x/dac"
)

// recorder is a dac.Transport that keeps every frame
type recorder struct {
	frames [][]byte
}

func (r *recorder) Begin() (dac.Transaction, error) { return r, nil }

func (r *recorder) Write(frame []byte) error {
	r.frames = append(r.frames, append([]byte(nil), frame...))
	return nil
}

func (r *recorder) Close() error { return nil }

func newTestApp(t *testing.T, variant dac.Variant) (*app, *recorder, *bytes.Buffer) {
	t.Helper()
	rec := &recorder{}
	var out bytes.Buffer
	a := newApp(context.Background(), dac.New(rec, variant), nil, &out, nil)
	return a, rec, &out
}

func TestCommands(t *testing.T) {
	a, rec, _ := newTestApp(t, dac.AD5686)
	r := a.registry(true)

	require.NoError(t, r.Dispatch([]string{"reset"}))
	require.NoError(t, r.Dispatch([]string{"set", "C", "0xABCD"}))
	require.NoError(t, r.Dispatch([]string{"setn", "b", "1.0"}))
	require.NoError(t, r.Dispatch([]string{"setn", "a", "0.5"}))
	require.NoError(t, r.Dispatch([]string{"all", "0"}))

	assert.Equal(t, [][]byte{
		{0x60, 0x00, 0x00},
		{0x34, 0xab, 0xcd},
		{0x32, 0xff, 0xff},
		{0x31, 0x7f, 0xff},
		{0x31, 0x00, 0x00},
		{0x32, 0x00, 0x00},
		{0x34, 0x00, 0x00},
		{0x38, 0x00, 0x00},
	}, rec.frames)
}

func TestCommandErrors(t *testing.T) {
	a, rec, _ := newTestApp(t, dac.AD5689)
	r := a.registry(true)

	assert.Error(t, r.Dispatch([]string{"set", "c", "1"}), "AD5689 has no channel c")
	assert.Error(t, r.Dispatch([]string{"set", "a", "65536"}))
	assert.Error(t, r.Dispatch([]string{"set", "a", "-1"}))
	assert.Error(t, r.Dispatch([]string{"setn", "a", "half"}))
	assert.Error(t, r.Dispatch([]string{"set", "a"}))
	assert.Error(t, r.Dispatch([]string{"ramp", "a", "0", "10", "1", "100"}))
	assert.Error(t, r.Dispatch([]string{"ramp", "a", "0", "10", "5", "0"}))
	assert.Empty(t, rec.frames)

	// Out of range normalized values clamp instead of failing
	require.NoError(t, r.Dispatch([]string{"setn", "b", "7"}))
	assert.Equal(t, [][]byte{{0x38, 0xff, 0xff}}, rec.frames)
}

func TestRampCodes(t *testing.T) {
	assert.Equal(t, []uint16{0, 25, 50, 75, 100}, rampCodes(0, 100, 5))
	assert.Equal(t, []uint16{65535, 0}, rampCodes(65535, 0, 2))
	assert.Equal(t, []uint16{10, 10, 10}, rampCodes(10, 10, 3))
}

func TestRamp(t *testing.T) {
	a, rec, _ := newTestApp(t, dac.AD5686)
	r := a.registry(true)

	start := time.Now()
	require.NoError(t, r.Dispatch([]string{"ramp", "d", "0", "65535", "4", "1000"}))
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, [][]byte{
		{0x38, 0x00, 0x00},
		{0x38, 0x55, 0x55},
		{0x38, 0xaa, 0xaa},
		{0x38, 0xff, 0xff},
	}, rec.frames)
}

func TestRampCancelled(t *testing.T) {
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := newApp(ctx, dac.New(rec, dac.AD5686), nil, &bytes.Buffer{}, nil)

	err := a.registry(true).Dispatch([]string{"ramp", "a", "0", "100", "10", "1"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChannels(t *testing.T) {
	a, _, out := newTestApp(t, dac.AD5689)
	require.NoError(t, a.registry(true).Dispatch([]string{"channels"}))
	assert.Equal(t, "a\t0b0001\nb\t0b1000\n", out.String())
}

func TestShell(t *testing.T) {
	a, rec, out := newTestApp(t, dac.AD5686)
	a.stdin = strings.NewReader("set a 1\n\n# comment\nbogus\nhelp\nquit\nset a 2\n")

	require.NoError(t, a.registry(true).Dispatch([]string{"shell"}))

	assert.Equal(t, [][]byte{{0x31, 0x00, 0x01}}, rec.frames)
	assert.Contains(t, out.String(), "unknown command: bogus")
	assert.Contains(t, out.String(), "ramp <ch> <from> <to> <steps> <hz>")
	assert.NotContains(t, out.String(), "shell ")
}

func TestShellEOF(t *testing.T) {
	a, rec, _ := newTestApp(t, dac.AD5686)
	a.stdin = strings.NewReader("all 0x10")

	require.NoError(t, a.registry(true).Dispatch([]string{"shell"}))
	assert.Len(t, rec.frames, 4)
}
