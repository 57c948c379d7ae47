package lsptypes

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// PyreflyOptions configure the pyrefly type checker. The zero value asks
// for default behavior.
type PyreflyOptions struct {
	Verbose      bool   `yaml:"verbose" toml:"verbose,omitempty"`
	Threads      int    `yaml:"threads" toml:"threads,omitempty"`
	Color        string `yaml:"color" toml:"color,omitempty"`
	IndexingMode string `yaml:"indexingMode" toml:"indexing-mode,omitempty"`
}

// PyreflyBackend runs the pyrefly language server. Pyrefly analyzes files
// on disk, so sessions mirror document content into the workspace.
type PyreflyBackend struct {
	Options PyreflyOptions
}

func (b *PyreflyBackend) Name() string       { return "pyrefly" }
func (b *PyreflyBackend) LanguageID() string { return "python" }

func (b *PyreflyBackend) LaunchInfo(baseDir string) LaunchInfo {
	args := []string{"lsp"}
	if b.Options.Verbose {
		args = append(args, "--verbose")
	}
	if b.Options.Threads > 0 {
		args = append(args, "--threads", strconv.Itoa(b.Options.Threads))
	}
	if b.Options.IndexingMode != "" {
		args = append(args, "--indexing-mode", b.Options.IndexingMode)
	}
	return LaunchInfo{
		Command: "pyrefly",
		Args:    args,
		Dir:     baseDir,
	}
}

func (b *PyreflyBackend) ClientCapabilities() map[string]any {
	return map[string]any{
		"textDocument": map[string]any{
			"publishDiagnostics": map[string]any{
				"versionSupport": true,
				"tagSupport": map[string]any{
					// DiagnosticTag.Unnecessary, DiagnosticTag.Deprecated
					"valueSet": []int{1, 2},
				},
			},
			"hover": map[string]any{
				"contentFormat": []string{"markdown", "plaintext"},
			},
			"signatureHelp": map[string]any{},
			"completion":    map[string]any{},
			"definition":    map[string]any{},
			"references":    map[string]any{},
		},
	}
}

func (b *PyreflyBackend) InitializationOptions() any { return nil }

func (b *PyreflyBackend) Settings() any { return b.Options }

// WriteConfig writes pyrefly.toml into baseDir so the server picks up
// options it does not accept over the protocol.
func (b *PyreflyBackend) WriteConfig(baseDir string) error {
	path := filepath.Join(baseDir, "pyrefly.toml")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write pyrefly config: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(b.Options); err != nil {
		return fmt.Errorf("write pyrefly config: %w", err)
	}
	return nil
}

func (b *PyreflyBackend) Traits() Traits {
	return Traits{
		RequiresDiskFiles:           true,
		SupportsConfigurationChange: true,
		EchoesDocumentVersion:       true,
	}
}
