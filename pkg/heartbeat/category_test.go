package heartbeat

import "testing"

func TestDetectCategoryRules(t *testing.T) {
	cases := []struct {
		name     string
		cpuModel string
		arch     string
		want     string
	}{
		{"arm sbc", "Cortex-A72", "arm64", "sbc"},
		{"aarch64 sbc", "Cortex-A76", "aarch64", "sbc"},
		{"xeon rack", "Intel(R) Xeon(R) Silver 4210", "x86_64", "rack_server"},
		{"ryzen 9 workstation", "AMD Ryzen 9 5950X", "x86_64", "workstation"},
		{"mobile intel laptop", "Intel(R) Core(TM) i7-1165G7", "x86_64", "office_laptop"},
		{"n-series mini pc", "Intel(R) N100", "x86_64", "mini_pc"},
		{"unknown cpu", "Some Weird CPU", "x86_64", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := detectCategory(tc.cpuModel, tc.arch)
			if got != tc.want {
				t.Errorf("detectCategory(%q, %q) = %q, want %q", tc.cpuModel, tc.arch, got, tc.want)
			}
		})
	}
}

func TestDetectCategoryFirstMatchWins(t *testing.T) {
	// ARM wins over anything else even if the cpu model string also
	// happens to contain a Xeon-like substring.
	got := detectCategory("Xeon-lookalike-but-arm", "arm64")
	if got != "sbc" {
		t.Errorf("expected arm architecture to win first, got %q", got)
	}
}
