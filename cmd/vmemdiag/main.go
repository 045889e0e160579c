// vmemdiag runs a synthetic frame workload against a vmem runtime and
// prints what the tracker and the temporary arena saw.
package main

import (
	"cmp"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/pavanmanishd/vmem"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	framesFlag = &cli.IntFlag{
		Name:  "frames",
		Usage: "number of frames to simulate",
		Value: 60,
	}
	allocsFlag = &cli.IntFlag{
		Name:  "allocs",
		Usage: "scratch elements allocated per frame",
		Value: 256,
	}
	leakFlag = &cli.BoolFlag{
		Name:  "leak",
		Usage: "leak one block in the first frame",
	}
	failEveryFlag = &cli.IntFlag{
		Name:  "fail-every",
		Usage: "fail the guarded block of every n-th frame (0 disables)",
	}
	verboseFlag = &cli.BoolFlag{
		Name:    "verbose",
		Aliases: []string{"v"},
		Usage:   "log at debug level",
	}
)

var (
	runCommand = &cli.Command{
		Name:   "run",
		Usage:  "Runs the frame workload and prints the memory report",
		Action: runWorkload,
		Flags: []cli.Flag{
			configFlag,
			framesFlag,
			allocsFlag,
			leakFlag,
			failEveryFlag,
			verboseFlag,
		},
	}
	configCommand = &cli.Command{
		Name:   "config",
		Usage:  "Prints the effective configuration as TOML",
		Action: printConfig,
		Flags:  []cli.Flag{configFlag},
	}
)

func main() {
	app := &cli.App{
		Name:     "vmemdiag",
		Usage:    "memory layer diagnostics",
		Commands: []*cli.Command{runCommand, configCommand},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(ctx *cli.Context) (vmem.Config, error) {
	path := ctx.String(configFlag.Name)
	if path == "" {
		cfg := vmem.DefaultConfig()
		cfg.TrackMemory = true
		cfg.TrackCallSites = true
		return cfg, nil
	}
	return vmem.LoadConfig(path)
}

func printConfig(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	out, err := cfg.Marshal()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}

func runWorkload(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if ctx.Bool(verboseFlag.Name) {
		cfg.LogLevel = "debug"
	}
	log, err := vmem.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	rt, err := vmem.NewRuntime(cfg, log)
	if err != nil {
		return err
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(vmem.NewCollector("vmemdiag", rt))

	w := workload{
		rt:        rt,
		allocs:    ctx.Int(allocsFlag.Name),
		failEvery: ctx.Int(failEveryFlag.Name),
		leak:      ctx.Bool(leakFlag.Name),
	}
	if err := w.run(ctx.Int(framesFlag.Name)); err != nil {
		rt.Close()
		return err
	}
	log.Info("workload done", zap.Int("failed", w.failed))

	families, err := reg.Gather()
	if err != nil {
		return errors.Wrap(err, "gathering metrics")
	}
	rt.Close()

	if t := rt.Tracker(); t != nil {
		fmt.Println("Live allocations:")
		if err := t.WriteReport(os.Stdout); err != nil {
			return err
		}
	}
	fmt.Println("Metrics:")
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	rows := make([][]string, 0, len(families))
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			v := m.GetGauge().GetValue()
			if m.GetCounter() != nil {
				v = m.GetCounter().GetValue()
			}
			rows = append(rows, []string{mf.GetName(), strconv.FormatFloat(v, 'f', -1, 64)})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })
	table.AppendBulk(rows)
	table.Render()
	return nil
}

type workload struct {
	rt        *vmem.Runtime
	allocs    int
	failEvery int
	leak      bool
	failed    int
}

type frameStat struct {
	frame int32
	sum   int64
}

func (w *workload) run(frames int) error {
	stats, err := vmem.NewArray[frameStat](0, w.rt.Allocator())
	if err != nil {
		return err
	}
	defer stats.Destroy()

	for f := 0; f < frames; f++ {
		if w.leak && f == 0 {
			if _, err := w.rt.Allocator().Alloc(64); err != nil {
				return err
			}
		}
		var sum int64
		ok := w.rt.Try(func() error {
			scratch, err := vmem.NewArray[int64](0, w.rt.Temp())
			if err != nil {
				return err
			}
			for i := 0; i < w.allocs; i++ {
				if err := scratch.Append(int64((i * 7919) % (w.allocs + 1))); err != nil {
					return err
				}
			}
			scratch.Sort(cmp.Compare[int64])
			for _, v := range scratch.Items() {
				sum += v
			}
			if w.failEvery > 0 && (f+1)%w.failEvery == 0 {
				return errors.Newf("frame %d: injected failure", f)
			}
			return nil
		})
		if !ok {
			w.failed++
			continue
		}
		if err := stats.Append(frameStat{frame: int32(f), sum: sum}); err != nil {
			return err
		}
		if err := w.rt.AdvanceGeneration(); err != nil {
			return err
		}
	}
	return nil
}
