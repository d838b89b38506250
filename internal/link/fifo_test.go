package link

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteFIFO_OrderAndOverrun(t *testing.T) {
	f := NewByteFIFO(3)

	assert.Equal(t, 3, f.Write([]byte{1, 2, 3, 4}))
	assert.Equal(t, 1, f.Dropped())
	assert.Equal(t, 3, f.Len())

	for _, want := range []byte{1, 2, 3} {
		b, ok := f.Pop()
		require.True(t, ok)
		assert.Equal(t, want, b)
	}
	_, ok := f.Pop()
	assert.False(t, ok)
}

func TestByteFIFO_WrapAround(t *testing.T) {
	f := NewByteFIFO(2)
	f.Write([]byte{1})
	f.Pop()
	f.Write([]byte{2, 3})

	b, _ := f.Pop()
	assert.Equal(t, byte(2), b)
	b, _ = f.Pop()
	assert.Equal(t, byte(3), b)
}

func TestByteFIFO_Clear(t *testing.T) {
	f := NewByteFIFO(0)
	f.Write([]byte("abc"))
	f.Clear()
	assert.Equal(t, 0, f.Len())
	_, ok := f.Pop()
	assert.False(t, ok)
}

func TestMockRadio_FramesInOrder(t *testing.T) {
	r := NewMockRadio()
	buf := make([]byte, 8)
	assert.Equal(t, 0, r.TryReceiveFrame(buf))

	r.Deliver([]byte{1, 2})
	r.Deliver([]byte{3})
	assert.Equal(t, 2, r.TryReceiveFrame(buf))
	assert.Equal(t, []byte{1, 2}, buf[:2])
	assert.Equal(t, 1, r.TryReceiveFrame(buf))
	assert.Equal(t, 3, r.Polls)
}

func TestMockTransport_OnSend(t *testing.T) {
	tr := NewMockTransport()
	tr.OnSend = func(n int) {
		if n == 2 {
			tr.Inject('K')
		}
	}
	require.NoError(t, tr.Send([]byte("a")))
	_, ok := tr.TryReceiveByte()
	assert.False(t, ok)

	require.NoError(t, tr.Send([]byte("b")))
	b, ok := tr.TryReceiveByte()
	assert.True(t, ok)
	assert.Equal(t, byte('K'), b)
	assert.Len(t, tr.Sent(), 2)
}
