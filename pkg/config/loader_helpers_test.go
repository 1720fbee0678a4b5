package config

import "testing"

func TestParseEnvFile(t *testing.T) {
	vars := parseEnvFile([]byte(`
# comment
export A=1
B = "two"
C='three'
=orphan
no-equals
D=x=y
`))

	want := map[string]string{"A": "1", "B": "two", "C": "three", "D": "x=y"}
	if len(vars) != len(want) {
		t.Fatalf("expected %d vars, got %v", len(want), vars)
	}
	for k, v := range want {
		if vars[k] != v {
			t.Fatalf("%s = %q, want %q", k, vars[k], v)
		}
	}
}

func TestIsLoopbackBindAddress(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:8000", true},
		{"localhost:8000", true},
		{"[::1]:8000", true},
		{"0.0.0.0:8000", false},
		{":8000", false},
		{"10.0.0.5:8000", false},
	}
	for _, tt := range tests {
		if got := isLoopbackBindAddress(tt.addr); got != tt.want {
			t.Errorf("isLoopbackBindAddress(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}
