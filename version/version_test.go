package version

import "testing"

func TestFormatVersion(t *testing.T) {
	tests := []struct {
		build    string
		expected string
	}{
		{build: "", expected: "0.3.1"},
		{build: "rc1", expected: "0.3.1+rc1"},
		{build: "bad build", expected: "0.3.1"},
		{build: "a1b2c3.dirty", expected: "0.3.1+a1b2c3.dirty"},
	}
	for _, test := range tests {
		result := formatVersion(test.build)
		if result != test.expected {
			t.Errorf("TestFormatVersion: build %q: got %s, want %s", test.build, result, test.expected)
		}
	}
}
