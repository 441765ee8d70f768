package cmd

import "testing"

func TestValidatePipeline(t *testing.T) {
	tests := []struct {
		steps   string
		wantErr bool
	}{
		{"", false},
		{"rap", false},
		{"RA", false},
		{"ap", false},
		{"p", false},
		{"rmp", true},
		{"aa", true},
		{"ar", true},
	}
	for _, tt := range tests {
		err := validatePipeline(tt.steps)
		if (err != nil) != tt.wantErr {
			t.Errorf("validatePipeline(%q) error = %v, wantErr %v", tt.steps, err, tt.wantErr)
		}
	}
}

func TestGetInheritanceIndicator(t *testing.T) {
	tests := map[string]string{
		"inherited":        "[inherited]",
		"profile-specific": "[profile-specific]",
		"":                 "[unknown]",
	}
	for in, want := range tests {
		if got := getInheritanceIndicator(in); got != want {
			t.Errorf("getInheritanceIndicator(%q) = %q, want %q", in, got, want)
		}
	}
}
