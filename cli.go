package lsptypes

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/fatih/color"
	"github.com/myleshyson/lsprotocol-go/protocol"
	slogctx "github.com/veqryn/slog-context"
)

// CLI runs `lsptypes [flags] <file.py>`: it type-checks one file with the
// configured backend and prints the diagnostics.
func CLI(args []string) error {
	fs := flag.NewFlagSet("lsptypes", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	backendName := fs.String("backend", "", "backend name to use (or empty for the first configured)")
	timeout := fs.Duration("timeout", 30*time.Second, "per-request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: lsptypes [flags] <file.py>")
	}

	cfg, err := loadCLIConfig(*configPath)
	if err != nil {
		return err
	}

	handler := slogctx.NewHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}), nil)
	slog.SetDefault(slog.New(handler))

	fname := fs.Arg(0)
	code, err := os.ReadFile(fname)
	if err != nil {
		return err
	}

	if len(cfg.Backends) == 0 {
		return fmt.Errorf("no backends configured")
	}
	chosen := cfg.Backends[0]
	if *backendName != "" {
		i := slices.IndexFunc(cfg.Backends, func(b BackendConfig) bool { return b.Name == *backendName })
		if i == -1 {
			return fmt.Errorf("backend not found in config: %s", *backendName)
		}
		chosen = cfg.Backends[i]
	}
	backend, err := chosen.NewBackend()
	if err != nil {
		return err
	}

	ctx := context.Background()
	session, err := NewSession(ctx, backend, SessionOptions{
		BasePath:       cfg.BasePath,
		InitialCode:    string(code),
		RequestTimeout: *timeout,
	})
	if err != nil {
		return err
	}
	defer session.Close(ctx)

	diags, err := session.Diagnostics(ctx)
	if err != nil {
		return err
	}

	printDiagnostics(os.Stdout, fname, diags)
	if len(diags) > 0 {
		return fmt.Errorf("%d problems found", len(diags))
	}
	return nil
}

func loadCLIConfig(path string) (*Config, error) {
	cfg, err := LoadConfigFile(path, nil)
	if os.IsNotExist(err) {
		return &Config{
			LogLevel: slog.LevelWarn,
			Backends: []BackendConfig{{Name: "pyrefly", Type: "pyrefly"}},
		}, nil
	}
	return cfg, err
}

// Keyed by the protocol severity values: error, warning, information, hint.
var severityPrinters = map[protocol.DiagnosticSeverity]*color.Color{
	1: color.New(color.FgRed, color.Bold),
	2: color.New(color.FgYellow),
	3: color.New(color.FgBlue),
	4: color.New(color.FgHiBlack),
}

func printDiagnostics(w io.Writer, fname string, diags []protocol.Diagnostic) {
	for _, d := range diags {
		printer, ok := severityPrinters[OrZeroValue(d.Severity)]
		if !ok {
			printer = color.New()
		}
		pos := fmt.Sprintf("%s:%d:%d", fname, d.Range.Start.Line+1, d.Range.Start.Character+1)
		fmt.Fprintf(w, "%s: %s\n", printer.Sprint(pos), d.Message)
	}
	if len(diags) == 0 {
		fmt.Fprintf(w, "%s: no problems found\n", fname)
	}
}
