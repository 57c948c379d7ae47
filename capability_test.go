package lsptypes

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCollectSupportedCapabilities(t *testing.T) {
	kvCaps := map[string]any{
		"hoverProvider": true,
		"completionProvider": map[string]any{
			"resolveProvider":     true,
			"triggerKinds":        nil,
			"allCommitCharacters": false,
		},
		"textDocumentSync": float64(1),
	}
	want := map[string]struct{}{
		"hoverProvider":                      {},
		"completionProvider":                 {},
		"completionProvider.resolveProvider": {},
		"textDocumentSync":                   {},
	}
	got := CollectSupportedCapabilities(kvCaps)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("CollectSupportedCapabilities() mismatch (-want +got):\n%s", diff)
	}
}

func TestIsMethodSupported(t *testing.T) {
	supported := map[string]struct{}{
		"hoverProvider":      {},
		"completionProvider": {},
	}

	tests := []struct {
		name   string
		method string
		want   bool
	}{
		{
			name:   "declared capability",
			method: "textDocument/hover",
			want:   true,
		},
		{
			name:   "missing capability",
			method: "textDocument/rename",
			want:   false,
		},
		{
			name:   "missing sub-capability",
			method: "completionItem/resolve",
			want:   false,
		},
		{
			name:   "unmapped method is assumed supported",
			method: "workspace/didChangeConfiguration",
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsMethodSupported(tt.method, supported); got != tt.want {
				t.Errorf("IsMethodSupported(%q) = %v, want %v", tt.method, got, tt.want)
			}
		})
	}
}
