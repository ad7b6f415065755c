package main

import (
	"fmt"
	"time"

	"github.com/calvinalkan/statsrotator/internal/config"
	"github.com/calvinalkan/statsrotator/internal/rotator"
	"github.com/calvinalkan/statsrotator/pkg/fs"
	flag "github.com/spf13/pflag"
)

// commonFlags are accepted by every subcommand.
type commonFlags struct {
	cwd    *string
	config *string
	now    *int64
}

func bindCommonFlags(fset *flag.FlagSet) *commonFlags {
	return &commonFlags{
		cwd:    fset.StringP("cwd", "C", "", "run as if started in `dir`"),
		config: fset.StringP("config", "c", "", "use specified config `file`"),
		now:    fset.Int64("now", time.Now().UnixMilli(), "current time in epoch milliseconds"),
	}
}

// openRotator loads layered config (internal/config) and opens a
// FileRotator over the resolved base path/prefix.
func openRotator(o *IO, cf *commonFlags) (*rotator.FileRotator, config.Config, error) {
	workDir := *cf.cwd
	if workDir == "" {
		workDir = "."
	}

	env := make([]string, 0, len(o.env))
	for k, v := range o.env {
		env = append(env, k+"="+v)
	}

	cfg, _, err := config.Load(workDir, *cf.config, config.Config{}, env)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("load config: %w", err)
	}

	r, err := rotator.New(fs.NewReal(), rotator.Config{
		BasePath:        cfg.BasePath,
		Prefix:          cfg.Prefix,
		RotateAgeMillis: cfg.RotateAgeMillis,
		DeleteAgeMillis: cfg.DeleteAgeMillis,
	})
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("open rotator: %w", err)
	}

	return r, cfg, nil
}
