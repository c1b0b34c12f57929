// cmd/edit.go

package main

import (
	"context"
	"strconv"

	"ClusterFS/pkg/fserrors"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

func parseSize(c *cli.Context, i int) int64 {
	s := c.Args().Get(i)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		logger.Fatalf("invalid size: %s", s)
	}
	return n
}

func truncate(c *cli.Context) error {
	if c.Args().Len() < 3 {
		logger.Fatalf("META-URL, RECORD and SIZE are needed")
	}
	record, name := splitName(c.Args().Get(1))
	size := parseSize(c, 2)
	v := openVolume(c, false)
	defer closeVolume(v)
	f, err := v.OpenAttribute(context.Background(), record, name)
	if err != nil {
		return errors.Wrapf(err, "open %s:%s", record, name)
	}
	if err = f.Truncate(size); err != nil {
		return errors.Wrapf(err, "truncate %s:%s to %d (%s)", record, name, size, fserrors.ToErrno(err))
	}
	logger.Infof("%s:%s is now %d bytes in %d clusters", record, name, size, f.AllocatedClusters())
	return nil
}

func clearRange(c *cli.Context) error {
	if c.Args().Len() < 4 {
		logger.Fatalf("META-URL, RECORD, OFFSET and LENGTH are needed")
	}
	record, name := splitName(c.Args().Get(1))
	off, length := parseSize(c, 2), parseSize(c, 3)
	v := openVolume(c, false)
	defer closeVolume(v)
	f, err := v.OpenAttribute(context.Background(), record, name)
	if err != nil {
		return errors.Wrapf(err, "open %s:%s", record, name)
	}
	if err = f.Clear(off, length); err != nil {
		return errors.Wrapf(err, "clear %s:%s (%d,%d) (%s)", record, name, off, length, fserrors.ToErrno(err))
	}
	logger.Infof("%s:%s keeps %d clusters", record, name, f.AllocatedClusters())
	return nil
}

func truncateFlags() *cli.Command {
	return &cli.Command{
		Name:      "truncate",
		Usage:     "change the length of an attribute",
		ArgsUsage: "META-URL RECORD[:ATTRIBUTE] SIZE",
		Action:    truncate,
		Flags:     volumeFlags(),
	}
}

func clearFlags() *cli.Command {
	return &cli.Command{
		Name:      "clear",
		Usage:     "zero a byte range, releasing clusters of sparse and compressed attributes",
		ArgsUsage: "META-URL RECORD[:ATTRIBUTE] OFFSET LENGTH",
		Action:    clearRange,
		Flags:     volumeFlags(),
	}
}
