package main

import (
	"errors"
	"fmt"

	"github.com/calvinalkan/statsrotator/internal/netstats"
	flag "github.com/spf13/pflag"
)

var errUidRequired = errors.New("remove-uid: --uid is required")

func removeUidCmd(o *IO, args []string) error {
	fset := flag.NewFlagSet("remove-uid", flag.ContinueOnError)
	cf := bindCommonFlags(fset)
	uid := fset.Uint32("uid", 0, "uid to strip from every managed file")

	err := fset.Parse(args)
	if err != nil {
		return err
	}

	if !fset.Changed("uid") {
		return errUidRequired
	}

	r, cfg, err := openRotator(o, cf)
	if err != nil {
		return err
	}

	err = r.RewriteAll(netstats.NewRemoveUidRewriter(*uid))
	if err != nil {
		return err
	}

	err = stampRunID(cfg.BasePath, "remove-uid")
	if err != nil {
		fmt.Fprintln(o.stderr, "warning:", err)
	}

	fmt.Fprintf(o.stdout, "removed uid %d\n", *uid)

	return nil
}
