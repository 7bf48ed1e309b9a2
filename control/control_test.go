package control_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/xraph/stepflow/control"
	"github.com/xraph/stepflow/task"
)

func TestRestrict(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		flags  control.Flags
		wantOK bool
		want   task.ClaimOpts
	}{
		{
			name:   "all off",
			flags:  control.Flags{Global: control.PauseOff},
			wantOK: true,
		},
		{
			name:   "global soft",
			flags:  control.Flags{Global: control.PauseSoft},
			wantOK: true,
			want:   task.ClaimOpts{NoNew: true},
		},
		{
			name:  "global hard",
			flags: control.Flags{Global: control.PauseHard},
		},
		{
			name:  "maintenance",
			flags: control.Flags{Maintenance: true},
		},
		{
			name: "groups",
			flags: control.Flags{Groups: map[string]control.Level{
				"gpu":   control.PauseHard,
				"batch": control.PauseSoft,
				"ci":    control.PauseSoft,
				"web":   control.PauseOff,
			}},
			wantOK: true,
			want: task.ClaimOpts{
				ExcludeGroups: []string{"gpu"},
				NoNewGroups:   []string{"batch", "ci"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var got task.ClaimOpts
			ok := tt.flags.Restrict(&got)
			if ok != tt.wantOK {
				t.Fatalf("Restrict = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ClaimOpts mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]control.Level{"": control.PauseOff, "off": control.PauseOff, "soft": control.PauseSoft, "hard": control.PauseHard} {
		got, err := control.ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := control.ParseLevel("paused"); err == nil {
		t.Error("expected error for unknown level")
	}
}
