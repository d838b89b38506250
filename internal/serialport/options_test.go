package serialport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestNormalize_Defaults(t *testing.T) {
	got, err := PortOptions{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"}, got)
}

func TestNormalize_Parity(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"none", "N"},
		{" even ", "E"},
		{"o", "O"},
	}
	for _, tt := range tests {
		got, err := PortOptions{Parity: tt.in}.Normalize()
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got.Parity, tt.in)
	}
}

func TestNormalize_Invalid(t *testing.T) {
	tests := []struct {
		name string
		opts PortOptions
	}{
		{name: "data bits", opts: PortOptions{DataBits: 9}},
		{name: "stop bits", opts: PortOptions{StopBits: 3}},
		{name: "parity", opts: PortOptions{Parity: "mark"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.opts.Normalize()
			assert.Error(t, err)
		})
	}
}

func TestSerialMode(t *testing.T) {
	mode, err := PortOptions{BaudRate: 115200, StopBits: 2, Parity: "E"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.EvenParity,
		StopBits: serial.TwoStopBits,
	}, mode)

	mode, err = PortOptions{}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)
	assert.Equal(t, serial.NoParity, mode.Parity)
}
