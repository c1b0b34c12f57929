// cmd/get.go

package main

import (
	"context"
	"io"
	"os"

	"ClusterFS/pkg/utils"

	"github.com/urfave/cli/v2"
)

func get(c *cli.Context) error {
	if c.Args().Len() < 2 {
		logger.Fatalf("META-URL and RECORD are needed")
	}
	record, name := splitName(c.Args().Get(1))
	v := openVolume(c, true)
	defer closeVolume(v)
	f, err := v.OpenAttribute(context.Background(), record, name)
	if err != nil {
		logger.Fatalf("open %s:%s: %s", record, name, err)
	}

	var out io.Writer = os.Stdout
	quiet := true
	if c.Args().Len() > 2 {
		file, err := os.Create(c.Args().Get(2))
		if err != nil {
			logger.Fatalf("create %s: %s", c.Args().Get(2), err)
		}
		defer file.Close()
		out = file
		quiet = c.Bool("quiet")
	}

	size := f.Size()
	progress, bar := utils.NewProgressBar("get "+record+": ", size, quiet)
	buf := make([]byte, c.Int("block-size")<<10)
	var off int64
	for off < size {
		n, err := f.ReadAt(buf, off)
		if err != nil {
			logger.Fatalf("read %s:%s at %d: %s", record, name, off, err)
		}
		if _, err = out.Write(buf[:n]); err != nil {
			logger.Fatalf("write: %s", err)
		}
		off += int64(n)
		bar.IncrBy(n)
	}
	progress.Wait()
	return nil
}

func getFlags() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "copy an attribute into a local file or stdout",
		ArgsUsage: "META-URL RECORD[:ATTRIBUTE] [FILE]",
		Action:    get,
		Flags: append(volumeFlags(),
			&cli.IntFlag{
				Name:  "block-size",
				Value: 1024,
				Usage: "size of each read in KiB",
			},
		),
	}
}
