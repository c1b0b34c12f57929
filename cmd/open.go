// cmd/open.go

package main

import (
	"strings"

	"ClusterFS/pkg/meta"
	"ClusterFS/pkg/volume"

	"github.com/urfave/cli/v2"
)

const defaultAttribute = "$DATA"

func volumeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:  "read-limit",
			Usage: "bandwidth limit for device reads in MiB/s",
		},
		&cli.Int64Flag{
			Name:  "write-limit",
			Usage: "bandwidth limit for device writes in MiB/s",
		},
		&cli.IntFlag{
			Name:  "bitmap-cache",
			Value: 256,
			Usage: "number of 4 KiB bitmap pages to keep in memory",
		},
	}
}

func openVolume(c *cli.Context, readOnly bool) *volume.Volume {
	if c.Args().Len() < 1 {
		logger.Fatalf("META-URL is needed")
	}
	m, err := meta.NewClient(c.Args().Get(0), &meta.Config{Retries: 10, ReadOnly: readOnly})
	if err != nil {
		logger.Fatalf("meta: %s", err)
	}
	conf := &volume.Config{
		ReadOnly:         readOnly,
		ReadLimit:        c.Int64("read-limit") << 20,
		WriteLimit:       c.Int64("write-limit") << 20,
		BitmapCachePages: c.Int("bitmap-cache"),
	}
	v, err := volume.Open(m, conf)
	if err != nil {
		logger.Fatalf("open volume: %s", err)
	}
	return v
}

// splitName parses RECORD[:ATTRIBUTE].
func splitName(name string) (string, string) {
	if p := strings.LastIndex(name, ":"); p > 0 && p < len(name)-1 {
		return name[:p], name[p+1:]
	}
	return name, defaultAttribute
}

func closeVolume(v *volume.Volume) {
	if err := v.Close(); err != nil {
		logger.Fatalf("close volume: %s", err)
	}
}
