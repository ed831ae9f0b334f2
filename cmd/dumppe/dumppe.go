// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Command dumppe prints the headers and directories of a PE binary.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dblohm7/pedeps"
	"github.com/dblohm7/pedeps/pe"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	Verbose bool
	Mmap    bool
}

func (gf *globalFlags) register(flags *flag.FlagSet) {
	flags.BoolVarP(&gf.Verbose, "verbose", "v", false, "log anomalies found while walking the file")
	flags.BoolVar(&gf.Mmap, "mmap", false, "map the file into memory instead of reading it")
}

func (gf *globalFlags) logger(w io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	log.SetLevel(logrus.WarnLevel)
	if gf.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

// open parses the file named by the command's single argument.
func (gf *globalFlags) open(cmd *cobra.Command, path string) (*pe.PEInfo, error) {
	opt := pe.WithLogger(gf.logger(cmd.ErrOrStderr()))
	var nfo *pe.PEInfo
	var err error
	if gf.Mmap {
		nfo, err = pe.NewPEFromMappedFile(path, opt)
	} else {
		nfo, err = pe.NewPEFromFileName(path, opt)
	}
	if err != nil {
		return nil, fmt.Errorf("error opening %q: %w", path, err)
	}
	return nfo, nil
}

// peCommand builds a subcommand that opens its argument and hands it to run.
func peCommand(gf *globalFlags, use, short string, run func(cmd *cobra.Command, nfo *pe.PEInfo) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <filePath>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nfo, err := gf.open(cmd, args[0])
			if err != nil {
				return err
			}
			defer nfo.Close()
			return run(cmd, nfo)
		},
	}
}

func newRootCmd() *cobra.Command {
	gf := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "dumppe",
		Short:         "Dump the contents of a PE binary",
		Version:       pedeps.Version(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	gf.register(rootCmd.PersistentFlags())

	rootCmd.AddCommand(newHeadersCmd(gf))
	rootCmd.AddCommand(newSectionsCmd(gf))
	rootCmd.AddCommand(newImportsCmd(gf))
	rootCmd.AddCommand(newExportsCmd(gf))
	rootCmd.AddCommand(newResourcesCmd(gf))
	rootCmd.AddCommand(newVersionCmd(gf))
	rootCmd.AddCommand(newDebugInfoCmd(gf))
	rootCmd.AddCommand(newCertsCmd(gf))
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
