package main

import (
	"context"
	"fmt"
	"os"

	"github.com/juju/gnuflag"
	"github.com/juju/loggo"

	"github.com/kaizengarden/sdcadm/internal/config"
)

var logger = loggo.GetLogger("sdcadm.cmd.updatectl")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "updatectl: %s\n", err)
		os.Exit(1)
	}
}

func run(args []string, out *os.File) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: updatectl <plan|exec> [flags]")
	}
	subcommand, rest := args[0], args[1:]

	fs := gnuflag.NewFlagSet("updatectl "+subcommand, gnuflag.ContinueOnError)
	var opt options
	fs.StringVar(&opt.configPath, "config", "/etc/sdcadm/updatectl.yaml", "path to updatectl's YAML config")
	fs.StringVar(&opt.snapshotPath, "snapshot", "", "path to a collected inventory snapshot (JSON)")
	fs.StringVar(&opt.changesPath, "changes", "", "plan subcommand: path to change requests (YAML); exec subcommand: path to plan.json")
	fs.BoolVar(&opt.dryRun, "dry-run", false, "print the result instead of writing/executing it")
	fs.BoolVar(&opt.justImages, "just-images", false, "retain only the image-prefetch procedure")
	fs.StringVar(&opt.workDir, "work-dir", "", "override the configured work directory")
	if err := fs.Parse(true, rest); err != nil {
		return err
	}

	var cfg config.Config
	if _, err := os.Stat(opt.configPath); err == nil {
		c, err := config.Read(opt.configPath)
		if err != nil {
			return err
		}
		cfg = c
	}

	ctx := context.Background()
	switch subcommand {
	case "plan":
		return genUpdatePlan(ctx, out, opt, cfg)
	case "exec":
		return execUpdatePlan(ctx, out, opt, cfg)
	default:
		return fmt.Errorf("unknown subcommand %q (want plan or exec)", subcommand)
	}
}
