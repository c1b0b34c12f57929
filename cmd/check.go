// cmd/check.go

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func check(ctx *cli.Context) error {
	v := openVolume(ctx, true)
	report, err := v.Check(context.Background(), ctx.Int("threads"))
	closeVolume(v)
	if err != nil {
		logger.Fatalf("check: %s", err)
	}
	for _, p := range report.Problems {
		fmt.Println(p)
	}
	if report.Leaked > 0 {
		fmt.Printf("%d clusters are marked in use but not mapped by any attribute\n", report.Leaked)
	}
	if !report.OK() {
		os.Exit(1)
	}
	logger.Infof("Volume %s is consistent: %d records, %d clusters referenced", v.Format().Name, report.Records, report.Referenced)
	return nil
}

func checkFlags() *cli.Command {
	return &cli.Command{
		Name:      "check",
		Usage:     "verify that attribute runs and the cluster bitmap agree",
		ArgsUsage: "META-URL",
		Action:    check,
		Flags: append(volumeFlags(),
			&cli.IntFlag{
				Name:    "threads",
				Aliases: []string{"p"},
				Value:   10,
				Usage:   "number of concurrent workers",
			},
		),
	}
}
