package ui

import (
	"os"
	"path/filepath"
	"testing"
)

func TestShouldUseColor(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	for _, tc := range []struct {
		name string
		env  map[string]string
		want bool
	}{
		{"RegularFile", nil, false},
		{"Forced", map[string]string{"CLICOLOR_FORCE": "1"}, true},
		{"NoColorBeatsForce", map[string]string{"NO_COLOR": "1", "CLICOLOR_FORCE": "1"}, false},
		{"CLICOLORZero", map[string]string{"CLICOLOR": "0"}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			for _, k := range []string{"NO_COLOR", "CLICOLOR_FORCE", "CLICOLOR"} {
				t.Setenv(k, "")
			}
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if got := ShouldUseColor(f); got != tc.want {
				t.Errorf("ShouldUseColor = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRender(t *testing.T) {
	old := noColor
	t.Cleanup(func() { noColor = old })

	noColor = false
	if got := RenderStatus("ok"); got != "\x1b[38;5;114mok\x1b[0m" {
		t.Errorf("RenderStatus(ok) = %q", got)
	}
	if got := RenderStatus("unavailable"); got != "\x1b[38;5;203munavailable\x1b[0m" {
		t.Errorf("RenderStatus(unavailable) = %q", got)
	}
	if got := RenderAccent(""); got != "" {
		t.Errorf("RenderAccent(\"\") = %q", got)
	}

	ForceNoColor()
	if got := RenderMuted("x"); got != "x" {
		t.Errorf("RenderMuted with color off = %q", got)
	}
}
