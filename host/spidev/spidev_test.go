package spidev

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/spi/spitest"

	"ad568x/dac"
)

func TestBusWritesOneTxPerFrame(t *testing.T) {
	rec := &spitest.Record{}
	bus, err := Connect(rec, 1_000_000, nil)
	require.NoError(t, err)

	dev := dac.New(bus, dac.AD5686)
	require.NoError(t, dev.Reset())
	c, ok := dev.Channel("c")
	require.True(t, ok)
	require.NoError(t, c.SetValue(0xABCD))
	b, _ := dev.Channel("b")
	require.NoError(t, b.SetNormalized(1.0))

	require.Len(t, rec.Ops, 3)
	assert.Equal(t, []byte{0x60, 0x00, 0x00}, rec.Ops[0].W)
	assert.Equal(t, []byte{0x34, 0xab, 0xcd}, rec.Ops[1].W)
	assert.Equal(t, []byte{0x32, 0xff, 0xff}, rec.Ops[2].W)
	for _, op := range rec.Ops {
		assert.Empty(t, op.R)
	}
}

func TestConnectRejectsBadRate(t *testing.T) {
	_, err := Connect(&spitest.Record{}, 0, nil)
	assert.ErrorIs(t, err, dac.ErrNoClockRate)

	_, err = Connect(&spitest.Record{}, dac.MaxClockHz+1, nil)
	assert.ErrorIs(t, err, dac.ErrClockRateTooHigh)
}

func TestConnectError(t *testing.T) {
	rec := &spitest.Record{}
	_, err := Connect(rec, 1_000_000, nil)
	require.NoError(t, err)

	// A port can only be connected once
	_, err = Connect(rec, 1_000_000, nil)
	assert.Error(t, err)
}

func TestTransactionClosedTwice(t *testing.T) {
	bus, err := Connect(&spitest.Record{}, 1_000_000, nil)
	require.NoError(t, err)

	tx, err := bus.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Close())
	assert.Error(t, tx.Close())
	assert.Error(t, tx.Write([]byte{0x60, 0, 0}))

	// The bus was released by the first Close
	tx, err = bus.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Close())
	assert.NoError(t, bus.Close())
}
