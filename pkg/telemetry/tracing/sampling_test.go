package tracing

import (
	"strings"
	"testing"
)

func TestCreateSampler(t *testing.T) {
	tests := []struct {
		name        string
		strategy    string
		ratio       float64
		wantErr     bool
		description string
	}{
		{name: "always", strategy: SamplerAlways, description: "AlwaysOnSampler"},
		{name: "never", strategy: SamplerNever, description: "AlwaysOffSampler"},
		{name: "ratio", strategy: SamplerRatio, ratio: 0.25, description: "TraceIDRatioBased{0.25}"},
		{name: "empty strategy defaults to ratio", strategy: "", ratio: 0.5, description: "TraceIDRatioBased{0.5}"},
		{name: "full ratio samples everything", strategy: SamplerRatio, ratio: 1.0, description: "AlwaysOnSampler"},
		{name: "ratio above one", strategy: SamplerRatio, ratio: 1.5, wantErr: true},
		{name: "negative ratio", strategy: SamplerRatio, ratio: -0.1, wantErr: true},
		{name: "unknown", strategy: "adaptive", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sampler, err := createSampler(tt.strategy, tt.ratio)
			if (err != nil) != tt.wantErr {
				t.Fatalf("createSampler() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			desc := sampler.Description()
			if !strings.HasPrefix(desc, "ParentBased{") {
				t.Errorf("sampler %q is not parent based", desc)
			}
			if !strings.Contains(desc, tt.description) {
				t.Errorf("sampler %q does not contain %q", desc, tt.description)
			}
		})
	}
}
