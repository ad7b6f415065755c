package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/calvinalkan/statsrotator/internal/netstats"
	flag "github.com/spf13/pflag"
)

var (
	errImportFileRequired = errors.New("import-legacy: --file is required")
	errImportModeRequired = errors.New("import-legacy: exactly one of --uid or --network is required")
)

func importLegacyCmd(o *IO, args []string) error {
	fset := flag.NewFlagSet("import-legacy", flag.ContinueOnError)
	cf := bindCommonFlags(fset)
	file := fset.String("file", "", "path to the legacy collection file")
	uid := fset.Uint32("uid", 0, "import as a per-uid legacy collection")
	network := fset.Bool("network", false, "import as a whole-network legacy collection")

	err := fset.Parse(args)
	if err != nil {
		return err
	}

	if *file == "" {
		return errImportFileRequired
	}

	if fset.Changed("uid") == *network {
		return errImportModeRequired
	}

	data, err := os.ReadFile(*file) //nolint:gosec // operator-supplied path by design
	if err != nil {
		return fmt.Errorf("import-legacy: read %q: %w", *file, err)
	}

	collection := netstats.NewStatsCollection()

	err = collection.Read(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("import-legacy: parse %q: %w", *file, err)
	}

	r, cfg, err := openRotator(o, cf)
	if err != nil {
		return err
	}

	recorder := netstats.NewSnapshotRecorder(netstats.Config{Rotator: r})

	if *network {
		err = recorder.ImportLegacyNetwork(collection)
	} else {
		err = recorder.ImportLegacyUid(collection)
	}

	if err != nil {
		return fmt.Errorf("import-legacy: %w", err)
	}

	stampErr := stampRunID(cfg.BasePath, "import-legacy")
	if stampErr != nil {
		fmt.Fprintln(o.stderr, "warning:", stampErr)
	}

	fmt.Fprintf(o.stdout, "imported legacy collection from %s (uid=%d)\n", *file, *uid)

	return nil
}
