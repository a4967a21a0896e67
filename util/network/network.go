package network

import (
	"net"

	"github.com/pkg/errors"
)

// NormalizeAddresses returns addrs with defaultPort added where no port is
// given and with duplicates removed. The order of first appearance is kept.
func NormalizeAddresses(addrs []string, defaultPort string) ([]string, error) {
	normalized := make([]string, 0, len(addrs))
	seen := make(map[string]struct{}, len(addrs))
	for _, addr := range addrs {
		normalizedAddr, err := NormalizeAddress(addr, defaultPort)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[normalizedAddr]; ok {
			continue
		}
		seen[normalizedAddr] = struct{}{}
		normalized = append(normalized, normalizedAddr)
	}
	return normalized, nil
}

// NormalizeAddress returns addr with defaultPort appended if it has no port.
func NormalizeAddress(addr, defaultPort string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host, port = addr, defaultPort
		_, _, err = net.SplitHostPort(net.JoinHostPort(host, port))
		if err != nil {
			return "", errors.Wrapf(err, "invalid address '%s'", addr)
		}
	}
	if host == "" {
		return "", errors.Errorf("address '%s' has no host", addr)
	}
	return net.JoinHostPort(host, port), nil
}
