// cmd/put.go

package main

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"ClusterFS/pkg/attr"
	"ClusterFS/pkg/fserrors"
	"ClusterFS/pkg/utils"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

func put(c *cli.Context) error {
	if c.Args().Len() < 2 {
		logger.Fatalf("META-URL and FILE are needed")
	}
	src := c.Args().Get(1)
	target := filepath.Base(src)
	if c.Args().Len() > 2 {
		target = c.Args().Get(2)
	}
	record, name := splitName(target)

	in, err := os.Open(src)
	if err != nil {
		logger.Fatalf("open %s: %s", src, err)
	}
	defer in.Close()
	st, err := in.Stat()
	if err != nil {
		logger.Fatalf("stat %s: %s", src, err)
	}

	var flags attr.Flags
	if c.Bool("compressed") {
		flags |= attr.FlagCompressed
	}
	if c.Bool("sparse") {
		flags |= attr.FlagSparse
	}

	v := openVolume(c, false)
	defer closeVolume(v)
	ctx := context.Background()
	f, err := v.CreateAttribute(ctx, record, name, flags)
	if errors.Is(err, fserrors.ErrInvalidOperation) && c.Bool("overwrite") {
		if f, err = v.OpenAttribute(ctx, record, name); err == nil {
			err = f.Truncate(0)
		}
	}
	if err != nil {
		return errors.Wrapf(err, "create %s:%s", record, name)
	}

	progress, bar := utils.NewProgressBar("put "+target+": ", st.Size(), c.Bool("quiet"))
	buf := make([]byte, c.Int("block-size")<<10)
	var off int64
	for {
		n, err := io.ReadFull(in, buf)
		if n > 0 {
			if c.Bool("sparse") && isZero(buf[:n]) {
				err = f.Clear(off, int64(n))
			} else {
				_, err = f.WriteAt(buf[:n], off)
			}
			if err != nil {
				bar.Abort(true)
				progress.Wait()
				return errors.Wrapf(err, "write %s at %d (%s)", target, off, fserrors.ToErrno(err))
			}
			off += int64(n)
			bar.IncrBy(n)
			continue
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			bar.Abort(true)
			progress.Wait()
			return errors.Wrapf(err, "read %s", src)
		}
	}
	bar.SetTotal(off, true)
	progress.Wait()
	logger.Infof("Put %s as %s:%s, %d bytes in %d clusters", src, record, name, off, f.AllocatedClusters())
	return nil
}

func isZero(p []byte) bool {
	for _, b := range p {
		if b != 0 {
			return false
		}
	}
	return true
}

func putFlags() *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "copy a local file into an attribute",
		ArgsUsage: "META-URL FILE [RECORD[:ATTRIBUTE]]",
		Action:    put,
		Flags: append(volumeFlags(),
			&cli.BoolFlag{
				Name:  "compressed",
				Usage: "store the attribute compressed",
			},
			&cli.BoolFlag{
				Name:  "sparse",
				Usage: "store the attribute sparse, skipping zero blocks",
			},
			&cli.BoolFlag{
				Name:  "overwrite",
				Usage: "replace an existing attribute",
			},
			&cli.IntFlag{
				Name:  "block-size",
				Value: 1024,
				Usage: "size of each write in KiB",
			},
		),
	}
}
