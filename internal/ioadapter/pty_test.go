package ioadapter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenPTYPairReadWriteRoundTrips(t *testing.T) {
	master, slave, err := OpenPTYPair()
	require.NoError(t, err)
	defer master.Close()
	defer slave.Close()

	n, err := master.WriteFrom([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 16)
	var got int
	for i := 0; i < 100 && got < 5; i++ {
		c, err := slave.ReadInto(buf[got:])
		require.NoError(t, err)
		got += c
		if c == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	assert.Equal(t, "hello", string(buf[:got]))
}

func TestReadIntoOnEmptyNonblockingPTYReturnsZeroNil(t *testing.T) {
	master, slave, err := OpenPTYPair()
	require.NoError(t, err)
	defer master.Close()
	defer slave.Close()

	buf := make([]byte, 8)
	n, err := slave.ReadInto(buf)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSetNotifiersInvokesWiredCallbacks(t *testing.T) {
	master, slave, err := OpenPTYPair()
	require.NoError(t, err)
	defer master.Close()
	defer slave.Close()

	var readCalls, writeCalls []bool
	master.SetNotifiers(
		func(enable bool) { readCalls = append(readCalls, enable) },
		func(enable bool) { writeCalls = append(writeCalls, enable) },
	)

	master.NotifyRead(true)
	master.NotifyWrite(false)

	assert.Equal(t, []bool{true}, readCalls)
	assert.Equal(t, []bool{false}, writeCalls)
}
