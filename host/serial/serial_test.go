package serial

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/dev/ttyACM0")
	assert.Equal(t, "/dev/ttyACM0", cfg.Device)
	assert.Equal(t, DefaultBaud, cfg.Baud)
	assert.Equal(t, 100, cfg.ReadTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no device", Config{Baud: DefaultBaud}},
		{"zero baud", Config{Device: "/dev/ttyACM0"}},
		{"negative timeout", Config{Device: "/dev/ttyACM0", Baud: DefaultBaud, ReadTimeout: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cfg.Validate())
		})
	}
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(nil)
	require.Error(t, err)

	_, err = Open(&Config{})
	require.Error(t, err)

	missing := filepath.Join(t.TempDir(), "no-such-tty")
	_, err = Open(DefaultConfig(missing))
	require.Error(t, err)
	assert.Contains(t, err.Error(), missing)
}
