// cmd/status.go

package main

import (
	"context"
	"encoding/json"
	"fmt"

	"ClusterFS/pkg/meta"
	"ClusterFS/pkg/volume"

	"github.com/urfave/cli/v2"
)

type sections struct {
	Setting *meta.Format
	Space   *volume.Stats
	Records []string
}

func printJson(v interface{}) {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		logger.Fatalf("json: %s", err)
	}
	fmt.Println(string(output))
}

func status(ctx *cli.Context) error {
	v := openVolume(ctx, true)
	defer closeVolume(v)

	format := v.Format()
	format.RemoveSecret()
	st, err := v.Stats()
	if err != nil {
		logger.Fatalf("stats: %s", err)
	}
	records, err := v.Records(context.Background())
	if err != nil {
		logger.Fatalf("list records: %s", err)
	}
	printJson(&sections{&format, st, records})
	return nil
}

func statusFlags() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "show status of a volume",
		ArgsUsage: "META-URL",
		Action:    status,
		Flags:     volumeFlags(),
	}
}
