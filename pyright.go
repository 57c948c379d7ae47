package lsptypes

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// PyrightOptions configure the pyright type checker. Fields map onto
// pyrightconfig.json keys.
type PyrightOptions struct {
	TypeCheckingMode       string `yaml:"typeCheckingMode" json:"typeCheckingMode,omitempty"`
	PythonVersion          string `yaml:"pythonVersion" json:"pythonVersion,omitempty"`
	PythonPlatform         string `yaml:"pythonPlatform" json:"pythonPlatform,omitempty"`
	UseLibraryCodeForTypes *bool  `yaml:"useLibraryCodeForTypes" json:"useLibraryCodeForTypes,omitempty"`
}

// PyrightBackend runs pyright-langserver. Pyright works from in-memory
// documents, so no disk mirroring is needed.
type PyrightBackend struct {
	Options PyrightOptions
}

func (b *PyrightBackend) Name() string       { return "pyright" }
func (b *PyrightBackend) LanguageID() string { return "python" }

func (b *PyrightBackend) LaunchInfo(baseDir string) LaunchInfo {
	return LaunchInfo{
		Command: "pyright-langserver",
		Args:    []string{"--stdio"},
		Dir:     baseDir,
	}
}

func (b *PyrightBackend) ClientCapabilities() map[string]any {
	return map[string]any{
		"textDocument": map[string]any{
			"publishDiagnostics": map[string]any{
				"versionSupport": true,
			},
			"hover": map[string]any{
				"contentFormat": []string{"markdown", "plaintext"},
			},
			"signatureHelp": map[string]any{},
			"completion":    map[string]any{},
		},
	}
}

func (b *PyrightBackend) InitializationOptions() any { return nil }

func (b *PyrightBackend) Settings() any {
	return map[string]any{
		"python": map[string]any{
			"analysis": b.Options,
		},
	}
}

// WriteConfig writes pyrightconfig.json into baseDir.
func (b *PyrightBackend) WriteConfig(baseDir string) error {
	data, err := json.MarshalIndent(b.Options, "", "  ")
	if err != nil {
		return fmt.Errorf("write pyright config: %w", err)
	}
	path := filepath.Join(baseDir, "pyrightconfig.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write pyright config: %w", err)
	}
	return nil
}

func (b *PyrightBackend) Traits() Traits {
	return Traits{
		SupportsConfigurationChange: true,
		EchoesDocumentVersion:       true,
	}
}
