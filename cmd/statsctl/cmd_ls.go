package main

import (
	"fmt"

	"github.com/calvinalkan/statsrotator/internal/rotator"
	flag "github.com/spf13/pflag"
)

func lsCmd(o *IO, args []string) error {
	fset := flag.NewFlagSet("ls", flag.ContinueOnError)
	cf := bindCommonFlags(fset)

	err := fset.Parse(args)
	if err != nil {
		return err
	}

	r, _, err := openRotator(o, cf)
	if err != nil {
		return err
	}

	infos, err := r.ListFiles()
	if err != nil {
		return err
	}

	printFileInfos(o, infos)

	return nil
}

func printFileInfos(o *IO, infos []rotator.FileInfo) {
	for _, info := range infos {
		state := "sealed"
		end := fmt.Sprintf("%d", info.End)

		if info.Active {
			state = "active"
			end = "-"
		}

		fmt.Fprintf(o.stdout, "%-40s %-7s [%d, %s]\n", info.Name, state, info.Start, end)
	}
}
