// cmd/format.go

package main

import (
	"os"
	"path"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"ClusterFS/pkg/compress"
	"ClusterFS/pkg/meta"
	"ClusterFS/pkg/volume"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

// fixClusterSize rounds s down to a power of two within [512, 64K].
func fixClusterSize(s int) int {
	const nim, xam = 512, 64 << 10
	var bits uint
	for s > 1 {
		bits++
		s >>= 1
	}
	s = s << bits
	if s < nim {
		s = nim
	} else if s > xam {
		s = xam
	}
	return s
}

func format(c *cli.Context) error {
	if c.Args().Len() < 1 {
		logger.Fatalf("Meta URL and name are required")
	}
	m, err := meta.NewClient(c.Args().Get(0), &meta.Config{Retries: 2})
	if err != nil {
		logger.Fatalf("meta: %s", err)
	}

	if c.Args().Len() < 2 {
		logger.Fatalf("Please give it a name")
	}
	name := c.Args().Get(1)
	validName := regexp.MustCompile(`^[a-z0-9][a-z0-9\-]{1,61}[a-z0-9]$`)
	if !validName.MatchString(name) {
		logger.Fatalf("invalid name: %s, only alphabet, number and - are allowed, and the length should be 3 to 63 characters.", name)
	}

	if compress.NewCompressor(c.String("compress")) == nil {
		logger.Fatalf("Unsupported compress algorithm: %s, use one of %s", c.String("compress"), strings.Join(compress.Names(), ", "))
	}
	if c.Bool("no-update") {
		if _, err := m.Load(); err == nil {
			return m.Close()
		}
	}

	clusterSize := fixClusterSize(c.Int("cluster-size"))
	format := meta.Format{
		Name:            name,
		UUID:            uuid.New().String(),
		Device:          c.String("device"),
		ClusterSize:     clusterSize,
		TotalClusters:   int64(c.Uint64("size")<<20) / int64(clusterSize),
		Compression:     c.String("compress"),
		CompressionUnit: c.Int("unit"),
	}
	if !strings.Contains(format.Device, "://") {
		if err := os.MkdirAll(filepath.Dir(format.Device), 0755); err != nil {
			logger.Fatalf("create directory for %s: %s", format.Device, err)
		}
	}

	v, err := volume.Create(m, &format, &volume.Config{}, c.Bool("force"))
	if err != nil {
		logger.Fatalf("format: %s", err)
	}
	if err = v.Close(); err != nil {
		logger.Fatalf("close volume: %s", err)
	}
	format.RemoveSecret()
	logger.Infof("Volume is formatted as %+v", format)
	return nil
}

func formatFlags() *cli.Command {
	var defaultDevice string
	switch runtime.GOOS {
	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			logger.Fatalf("%v", err)
		}
		defaultDevice = path.Join(homeDir, ".clusterfs", "volume.img")
	case "windows":
		defaultDevice = path.Join("C:/clusterfs/volume.img")
	default:
		defaultDevice = "/var/clusterfs/volume.img"
	}
	return &cli.Command{
		Name:      "format",
		Usage:     "format a volume",
		ArgsUsage: "META-URL NAME",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "device",
				Value: defaultDevice,
				Usage: "path or URL of the volume device",
			},
			&cli.IntFlag{
				Name:  "cluster-size",
				Value: 4096,
				Usage: "size of cluster in bytes (power of two, 512 to 65536)",
			},
			&cli.Uint64Flag{
				Name:  "size",
				Value: 1024,
				Usage: "size of the volume in MiB",
			},
			&cli.StringFlag{
				Name:  "compress",
				Value: "lz4",
				Usage: "compression algorithm for compressed attributes (" + strings.Join(compress.Names(), ", ") + ")",
			},
			&cli.IntFlag{
				Name:  "unit",
				Value: 4,
				Usage: "compression unit as a power of two of clusters",
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "overwrite existing format",
			},
			&cli.BoolFlag{
				Name:  "no-update",
				Usage: "don't update existing volume",
			},
		},
		Action: format,
	}
}
