package device

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testDevice(t *testing.T, d Device) {
	t.Helper()
	_, err := d.WriteAt([]byte("hello"), 10)
	require.NoError(t, err)
	size, err := d.Size()
	require.NoError(t, err)
	require.Equal(t, int64(15), size)

	buf := make([]byte, 20)
	n, err := d.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 20, n)
	require.Equal(t, make([]byte, 10), buf[:10])
	require.Equal(t, "hello", string(buf[10:15]))
	require.Equal(t, make([]byte, 5), buf[15:])

	require.NoError(t, d.Truncate(12))
	require.NoError(t, d.Truncate(32))
	_, err = d.ReadAt(buf, 10)
	require.NoError(t, err)
	require.Equal(t, "he", string(buf[:2]))
	require.Equal(t, make([]byte, 18), buf[2:])
	require.NoError(t, d.Sync())
}

func TestMemDevice(t *testing.T) {
	testDevice(t, NewMem(0))
}

func TestFileDevice(t *testing.T) {
	d, err := Open(filepath.Join(t.TempDir(), "vol.img"))
	require.NoError(t, err)
	defer d.Close()
	testDevice(t, d)
}

func TestOpenUnknownScheme(t *testing.T) {
	_, err := Open("tape://drive0")
	require.Error(t, err)
}

func TestLimited(t *testing.T) {
	d := NewLimited(NewMem(0), 1<<20, 1<<20)
	testDevice(t, d)
	require.Contains(t, d.String(), "limited")

	plain := NewMem(0)
	require.Equal(t, plain, NewLimited(plain, 0, 0))

	slow := NewLimited(NewMem(0), 0, 1000)
	start := time.Now()
	_, err := slow.WriteAt(make([]byte, 1500), 0)
	require.NoError(t, err)
	_, err = slow.WriteAt(make([]byte, 500), 0)
	require.NoError(t, err)
	require.True(t, time.Since(start) > 500*time.Millisecond)
}
