// cmd/info.go

package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"
)

func infoFlags() *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "show lengths and cooked runs of attributes",
		ArgsUsage: "META-URL RECORD[:ATTRIBUTE] ...",
		Action:    info,
		Flags: append(volumeFlags(),
			&cli.BoolFlag{
				Name:    "runs",
				Aliases: []string{"r"},
				Usage:   "list every cooked run",
			},
		),
	}
}

func info(ctx *cli.Context) error {
	if ctx.Args().Len() < 2 {
		logger.Infof("META-URL and RECORD are needed")
		return nil
	}
	v := openVolume(ctx, true)
	defer closeVolume(v)
	cs := int64(v.Format().ClusterSize)
	for i := 1; i < ctx.Args().Len(); i++ {
		record, name := splitName(ctx.Args().Get(i))
		f, err := v.OpenAttribute(context.Background(), record, name)
		if err != nil {
			logger.Errorf("open %s:%s: %s", record, name, err)
			continue
		}
		a := f.Attribute()
		cooked := f.Buffer().Runs()
		fmt.Printf("%s:%s :\n", record, name)
		fmt.Printf("  flags: %s\n", a.Flags)
		if a.IsCompressed() || a.IsSparse() {
			fmt.Printf("  compression unit: %d clusters\n", a.CompressionUnitSize())
			fmt.Printf("  compressed size: %d\n", a.CompressedDataSize)
		}
		fmt.Printf("  length: %d\n", a.DataLength)
		fmt.Printf("  initialized: %d\n", a.InitializedDataLength)
		fmt.Printf("  allocated: %d (%d clusters mapped, %d stored)\n", a.AllocatedLength, cooked.NextVirtualCluster(), f.AllocatedClusters())
		fmt.Printf("  extents: %d\n", len(a.Extents.IDs()))
		fmt.Printf("  runs: %d\n", cooked.Len())
		if ctx.Bool("runs") {
			for j := 0; j < cooked.Len(); j++ {
				r := cooked.At(j)
				if r.Sparse() {
					fmt.Printf("    [%d] %s\n", r.Extent, r)
				} else {
					fmt.Printf("    [%d] %s (bytes %d-%d)\n", r.Extent, r, r.StartLcn*cs, (r.StartLcn+r.Length())*cs-1)
				}
			}
		}
	}
	return nil
}
