// cmd/rm.go

package main

import (
	"context"
	"fmt"

	"ClusterFS/pkg/fserrors"

	"github.com/urfave/cli/v2"
)

func rmFlags() *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Usage:     "remove records and free their clusters",
		ArgsUsage: "META-URL RECORD ...",
		Action:    rm,
		Flags:     volumeFlags(),
	}
}

func rm(ctx *cli.Context) error {
	if ctx.Args().Len() < 2 {
		logger.Infof("META-URL and RECORD are needed")
		return nil
	}
	v := openVolume(ctx, false)
	defer closeVolume(v)
	var failed int
	for i := 1; i < ctx.Args().Len(); i++ {
		record := ctx.Args().Get(i)
		if err := v.Remove(context.Background(), record); err != nil {
			logger.Errorf("RM %s: %s (%s)", record, err, fserrors.ToErrno(err))
			failed++
			continue
		}
		logger.Infof("Removed %s", record)
	}
	if failed > 0 {
		return fmt.Errorf("%d records could not be removed", failed)
	}
	return nil
}
