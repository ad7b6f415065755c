package main

import (
	"fmt"

	flag "github.com/spf13/pflag"
)

func rotateCmd(o *IO, args []string) error {
	fset := flag.NewFlagSet("rotate", flag.ContinueOnError)
	cf := bindCommonFlags(fset)

	err := fset.Parse(args)
	if err != nil {
		return err
	}

	r, cfg, err := openRotator(o, cf)
	if err != nil {
		return err
	}

	err = r.MaybeRotate(*cf.now)
	if err != nil {
		return err
	}

	err = stampRunID(cfg.BasePath, "rotate")
	if err != nil {
		fmt.Fprintln(o.stderr, "warning:", err)
	}

	fmt.Fprintln(o.stdout, "rotate ok")

	return nil
}
