package version

import "testing"

func TestString(t *testing.T) {
	if got, want := String(), "dev (unknown) built unknown"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got, want := UserAgent(), "mbclient/dev"; got != want {
		t.Errorf("UserAgent() = %q, want %q", got, want)
	}
}
