package network

import (
	"reflect"
	"testing"
)

func TestNormalizeAddresses(t *testing.T) {
	tests := []struct {
		addrs       []string
		expected    []string
		expectedErr bool
	}{
		{
			addrs:    []string{"10.0.0.1", "10.0.0.1:5555", "10.0.0.2:7000", "[::1]", "node.example"},
			expected: []string{"10.0.0.1:5555", "10.0.0.2:7000", "[::1]:5555", "node.example:5555"},
		},
		{
			addrs:    nil,
			expected: []string{},
		},
		{
			addrs:       []string{":5555"},
			expectedErr: true,
		},
	}
	for i, test := range tests {
		result, err := NormalizeAddresses(test.addrs, "5555")
		if test.expectedErr {
			if err == nil {
				t.Errorf("TestNormalizeAddresses: test #%d: expected an error", i)
			}
			continue
		}
		if err != nil {
			t.Errorf("TestNormalizeAddresses: test #%d: unexpected error: %s", i, err)
			continue
		}
		if !reflect.DeepEqual(result, test.expected) {
			t.Errorf("TestNormalizeAddresses: test #%d: got %v, want %v", i, result, test.expected)
		}
	}
}
