// cmd/main.go

package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"ClusterFS/pkg/bitmap"
	"ClusterFS/pkg/stream"
	"ClusterFS/pkg/utils"
	"ClusterFS/pkg/version"
	"ClusterFS/pkg/volume"

	"github.com/google/gops/agent"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var logger = utils.GetLogger("clusterfs")

var registry = prometheus.NewRegistry()

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logger.Fatal(err)
	}
}

func newApp() *cli.App {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"V"},
		Usage:   "print only the version",
	}
	return &cli.App{
		Name:                 "clusterfs",
		Usage:                "A cluster-mapped extent store with sparse and compressed attributes.",
		Version:              version.Version(),
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"debug", "v"},
				Usage:   "enable debug log",
			},
			&cli.BoolFlag{
				Name:  "trace",
				Usage: "enable trace log",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "only warning and errors",
			},
			&cli.StringFlag{
				Name:  "log",
				Usage: "append logs to this file instead of stderr",
			},
			&cli.BoolFlag{
				Name:  "metrics",
				Usage: "print the collected metrics on exit",
			},
			&cli.BoolFlag{
				Name:  "gops",
				Usage: "start a gops agent for runtime diagnostics",
			},
		},
		Commands: []*cli.Command{
			formatFlags(),
			putFlags(),
			getFlags(),
			truncateFlags(),
			clearFlags(),
			infoFlags(),
			statusFlags(),
			checkFlags(),
			rmFlags(),
		},
		Before: setup,
		After:  teardown,
	}
}

func setLoggerLevel(c *cli.Context) {
	if c.Bool("trace") {
		utils.SetLogLevel(logrus.TraceLevel)
	} else if c.Bool("verbose") {
		utils.SetLogLevel(logrus.DebugLevel)
	} else if c.Bool("quiet") {
		utils.SetLogLevel(logrus.WarnLevel)
	} else {
		utils.SetLogLevel(logrus.InfoLevel)
	}
}

func setup(c *cli.Context) error {
	setLoggerLevel(c)
	if p := c.String("log"); p != "" {
		if err := utils.SetOutFile(p); err != nil {
			return fmt.Errorf("open log file %s: %s", p, err)
		}
	}
	if c.Bool("gops") {
		if err := agent.Listen(agent.Options{}); err != nil {
			logger.Warnf("start gops agent: %s", err)
		}
	}
	bitmap.InitMetrics(registry)
	stream.InitMetrics(registry)
	volume.InitMetrics(registry)
	return nil
}

func teardown(c *cli.Context) error {
	if c.Bool("gops") {
		agent.Close()
	}
	if !c.Bool("metrics") {
		return nil
	}
	mfs, err := registry.Gather()
	if err != nil {
		return err
	}
	var lines []string
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, l := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
			}
			name := mf.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			switch {
			case m.GetCounter() != nil:
				lines = append(lines, fmt.Sprintf("%s %g", name, m.GetCounter().GetValue()))
			case m.GetGauge() != nil:
				lines = append(lines, fmt.Sprintf("%s %g", name, m.GetGauge().GetValue()))
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				lines = append(lines, fmt.Sprintf("%s count=%d sum=%.6f", name, h.GetSampleCount(), h.GetSampleSum()))
			}
		}
	}
	user, sys := utils.ProcessCPU()
	lines = append(lines, fmt.Sprintf("process_cpu_seconds{mode=\"user\"} %.3f", user.Seconds()))
	lines = append(lines, fmt.Sprintf("process_cpu_seconds{mode=\"system\"} %.3f", sys.Seconds()))
	sort.Strings(lines)
	for _, l := range lines {
		fmt.Fprintln(os.Stderr, l)
	}
	return nil
}
