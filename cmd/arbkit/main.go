/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Command arbkit inspects, patches and flashes anti-rollback protected images on
// EDL-flashable handsets.
//
// Usage:
//
//	arbkit [-config file] [-skip-adb] [-skip-reset] <command> [args]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
)

type command struct {
	usage string
	run   func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"decrypt":   {"decrypt [-in dir] [-out dir]    decrypt *.x manifest containers", cmdDecrypt},
	"seal":      {"seal <in.xml> <out.x>           wrap a manifest in a container", cmdSeal},
	"catalog":   {"catalog                         list partition records", cmdCatalog},
	"resolve":   {"resolve <label>...              show where labels live", cmdResolve},
	"info":      {"info <image>...                 show signing metadata", cmdInfo},
	"arb-dump":  {"arb-dump                        dump boot and vbmeta_system of the active slot", cmdARBDump},
	"arb-check": {"arb-check [-skip-dump]          dump, then compare device and new rollback indices", cmdARBCheck},
	"arb-patch": {"arb-patch [-skip-dump]          check, then patch new images if needed", cmdARBPatch},
	"arb-write": {"arb-write                       flash patched images to the active slot", cmdARBWrite},
	"dump":      {"dump [label]...                 back up devinfo, persist and extra labels", cmdDump},
	"write":     {"write [-dir dir] [label]...     write partition images back", cmdWrite},
	"keys":      {"keys add|list|seed              manage signing keys", cmdKeys},
	"receipt":   {"receipt show|verify <file>      inspect a patch receipt", cmdReceipt},
	"slot":      {"slot                            detect the active slot", cmdSlot},
	"session":   {"session <uuid>                  show the journal of a flow", cmdSession},
}

func usage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, "usage: arbkit [flags] <command> [args]\n\nflags:\n")
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintf(w, "\ncommands:\n")
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(w, "  %s\n", commands[n].usage)
	}
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("arbkit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var opts globalOptions
	fs.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	fs.BoolVar(&opts.skipADB, "skip-adb", false, "never use adb; mode changes become manual steps")
	fs.BoolVar(&opts.skipReset, "skip-reset", false, "leave the device in EDL after writing")
	fs.Usage = func() { usage(stderr, fs) }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() == 0 {
		usage(stderr, fs)
		return 2
	}
	cmd, ok := commands[fs.Arg(0)]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", fs.Arg(0))
		usage(stderr, fs)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(opts, stdout)
	if err != nil {
		fmt.Fprintf(stderr, "arbkit: %v\n", err)
		return 1
	}
	defer a.close()

	if err := cmd.run(ctx, a, fs.Args()[1:]); err != nil {
		if errors.Is(err, context.Canceled) {
			a.log.Warn("interrupted")
			return 130
		}
		a.log.WithError(err).Error(fs.Arg(0) + " failed")
		return 1
	}
	return 0
}
