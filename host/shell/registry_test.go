package shell

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()

	var got []string
	r.Register(&Command{
		Name:    "set",
		Usage:   "<ch> <value>",
		MinArgs: 2,
		MaxArgs: 2,
		Handler: func(args []string) error {
			got = args
			return nil
		},
	})
	require.Equal(t, 1, r.Count())

	require.NoError(t, r.Dispatch([]string{"SET", "a", "100"}))
	assert.Equal(t, []string{"a", "100"}, got)

	err := r.Dispatch([]string{"set", "a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usage: set <ch> <value>")

	err = r.Dispatch([]string{"frobnicate"})
	assert.ErrorIs(t, err, ErrUnknownCommand)

	assert.NoError(t, r.Dispatch(nil))
}

func TestRegistryExecQuoting(t *testing.T) {
	r := NewRegistry()

	var got []string
	r.Register(&Command{
		Name:    "echo",
		MaxArgs: -1,
		Handler: func(args []string) error {
			got = args
			return nil
		},
	})

	require.NoError(t, r.Exec(`echo "two words" 'single' plain`))
	assert.Equal(t, []string{"two words", "single", "plain"}, got)

	got = nil
	require.NoError(t, r.Exec("   "))
	require.NoError(t, r.Exec("# comment"))
	assert.Nil(t, got)

	assert.Error(t, r.Exec(`echo "unterminated`))
}

func TestRegistryHandlerError(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	r.Register(&Command{Name: "fail", MaxArgs: -1, Handler: func([]string) error { return boom }})
	r.Register(&Command{Name: "quit", Handler: func([]string) error { return ErrQuit }})

	assert.ErrorIs(t, r.Exec("fail"), boom)
	assert.ErrorIs(t, r.Exec("quit"), ErrQuit)
}

func TestRegistryHelp(t *testing.T) {
	r := NewRegistry()
	r.Register(&Command{Name: "reset", Help: "Soft reset the DAC"})
	r.Register(&Command{Name: "all", Usage: "<0..65535>", Help: "Write every channel"})

	var buf bytes.Buffer
	r.WriteHelp(&buf)
	out := buf.String()

	assert.Contains(t, out, "all <0..65535>")
	assert.Contains(t, out, "Soft reset the DAC")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("all")), bytes.Index(buf.Bytes(), []byte("reset")))
}
