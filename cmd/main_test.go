package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"ClusterFS/pkg/fserrors"
	"ClusterFS/pkg/meta"
	"ClusterFS/pkg/volume"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(args ...string) error {
	return newApp().Run(append([]string{"clusterfs", "--quiet"}, args...))
}

func TestFailedWritesKeepVolumeConsistent(t *testing.T) {
	dir := t.TempDir()
	metaURL := filepath.Join(dir, "meta")
	src := filepath.Join(dir, "big.txt")
	data := bytes.Repeat([]byte("pack my box with five dozen liquor jugs\n"), (2<<20)/40+1)[:2<<20]
	require.NoError(t, os.WriteFile(src, data, 0644))

	// 1 MiB volume with 4 KiB clusters
	require.NoError(t, run("format", "--device", filepath.Join(dir, "volume.img"), "--size", "1", "--compress", "none", metaURL, "test"))

	err := run("put", "--block-size", "64", metaURL, src, "big")
	assert.True(t, errors.Is(err, fserrors.ErrOutOfSpace), "put: %v", err)
	err = run("truncate", metaURL, "missing", "10")
	assert.True(t, errors.Is(err, meta.ErrNotFound), "truncate: %v", err)
	assert.Error(t, run("rm", metaURL, "missing"))

	m, err := meta.NewClient(metaURL, &meta.Config{ReadOnly: true})
	require.NoError(t, err)
	v, err := volume.Open(m, &volume.Config{ReadOnly: true})
	require.NoError(t, err)
	defer v.Close()

	report, err := v.Check(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, report.OK(), "%+v", report)
	assert.Equal(t, 1, report.Records)
	assert.True(t, report.Referenced > 0)

	f, err := v.OpenAttribute(context.Background(), "big", defaultAttribute)
	require.NoError(t, err)
	assert.Equal(t, report.Referenced*4096, f.Size())
	got := make([]byte, f.Size())
	_, err = f.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal(t, data[:f.Size()], got)
}
