package eventloop

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestRunOnceDispatchesReadable(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	var fired int
	loop, err := New(Config{
		OnReadable: func(fd int) { fired = fd },
	})
	require.NoError(t, err)
	defer loop.Close()

	require.NoError(t, loop.AddFD(int(r.Fd()), unix.EPOLLIN))

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)

	n, err := loop.RunOnce(1000)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int(r.Fd()), fired)
}

func TestRunOnceTimesOutWithNoEvents(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	loop, err := New(Config{})
	require.NoError(t, err)
	defer loop.Close()

	require.NoError(t, loop.AddFD(int(r.Fd()), unix.EPOLLIN))

	n, err := loop.RunOnce(50)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAddFDTwiceBehavesLikeMod(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	loop, err := New(Config{})
	require.NoError(t, err)
	defer loop.Close()

	require.NoError(t, loop.AddFD(int(r.Fd()), unix.EPOLLIN))
	require.NoError(t, loop.AddFD(int(r.Fd()), unix.EPOLLIN))
}

func TestDelFDOfUnregisteredFDIsNotAnError(t *testing.T) {
	loop, err := New(Config{})
	require.NoError(t, err)
	defer loop.Close()

	assert.NoError(t, loop.DelFD(999999))
}
