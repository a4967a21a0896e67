package version

import (
	"fmt"
	"strings"
	"sync"
)

const buildCharacters = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-."

const (
	major uint = 0
	minor uint = 3
	patch uint = 1
)

// build can be set at link time with
// '-ldflags "-X github.com/dposnet/dposd/version.build=foo"'.
var build string

var (
	versionOnce sync.Once
	version     string
)

// Version returns the dposd version, with the build metadata appended when
// it is made of valid characters only.
func Version() string {
	versionOnce.Do(func() {
		version = formatVersion(build)
	})
	return version
}

func formatVersion(build string) string {
	base := fmt.Sprintf("%d.%d.%d", major, minor, patch)
	if build == "" || strings.Trim(build, buildCharacters) != "" {
		return base
	}
	return base + "+" + build
}
