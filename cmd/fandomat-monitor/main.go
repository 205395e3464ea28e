package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"fandomat/internal/monitor"
	"fandomat/internal/status"

	"github.com/spf13/pflag"
	"golang.org/x/term"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var dir, file string
	var plain, help bool

	fs := pflag.NewFlagSet("fandomat-monitor", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&dir, "dir", "", "runtime directory holding "+status.FileName+" (default: $FANDOMAT_STATUS_PATH or current dir)")
	fs.StringVar(&file, "file", "", "explicit status file path, overrides --dir")
	fs.BoolVar(&plain, "plain", false, "print plain text instead of the dashboard")
	fs.BoolVarP(&help, "help", "h", false, "show help")
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			help = true
		} else {
			return err
		}
	}
	if help {
		fmt.Fprintf(os.Stderr, "Usage:\n  fandomat-monitor [flags]\n\nFlags:\n%s", fs.FlagUsages())
		return nil
	}

	store := status.NewStore(resolvePath(dir, file))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if plain || !term.IsTerminal(int(os.Stdout.Fd())) {
		return monitor.RunPlain(ctx, store, os.Stdout, monitor.RefreshInterval)
	}
	return monitor.Run(ctx, store)
}

func resolvePath(dir, file string) string {
	if v := strings.TrimSpace(file); v != "" {
		return v
	}
	if v := strings.TrimSpace(dir); v != "" {
		return filepath.Join(v, status.FileName)
	}
	if v := strings.TrimSpace(os.Getenv("FANDOMAT_STATUS_PATH")); v != "" {
		return v
	}
	return status.FileName
}
