//go:build linux

package reactor

import "testing"

func TestParseKernelRelease(t *testing.T) {
	tests := []struct {
		release string
		want    string
		uring   bool
	}{
		{"6.8.0-45-generic", "6.8.0", true},
		{"5.4.0", "5.4.0", false},
		{"5.6", "5.6.0", true},
		{"4.19.112+", "4.19.112", false},
		{"6.18.44-fc-v139", "6.18.44", true},
	}
	for _, tt := range tests {
		t.Run(tt.release, func(t *testing.T) {
			v, err := parseKernelRelease(tt.release)
			if err != nil {
				t.Fatal(err)
			}
			if v.String() != tt.want {
				t.Fatalf("version = %s, want %s", v, tt.want)
			}
			if got := !v.LessThan(minURingKernel); got != tt.uring {
				t.Fatalf("io_uring eligible = %v, want %v", got, tt.uring)
			}
		})
	}
}

func TestParseKernelReleaseRejectsGarbage(t *testing.T) {
	if _, err := parseKernelRelease("unknown"); err == nil {
		t.Fatal("expected error")
	}
}

func TestRoundPow2(t *testing.T) {
	for in, want := range map[int]int{0: 2, 3: 4, 1024: 1024, 1000: 1024, 1 << 20: 1 << 15} {
		if got := roundPow2(in); got != want {
			t.Errorf("roundPow2(%d) = %d, want %d", in, got, want)
		}
	}
}
