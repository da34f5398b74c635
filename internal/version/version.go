package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Version values are set at build time using -ldflags.
var Version = "dev"
var Major = "0"
var Minor = "0"
var Patch = "0"
var Built = ""
var GitCommit = ""

type VersionInfo struct {
	Version   string `json:"version"`
	Major     int    `json:"major"`
	Minor     int    `json:"minor"`
	Patch     int    `json:"patch"`
	Built     string `json:"built"`
	GitCommit string `json:"git_commit,omitempty"`
}

func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:   Version,
		Major:     parseInt(Major),
		Minor:     parseInt(Minor),
		Patch:     parseInt(Patch),
		Built:     Built,
		GitCommit: GitCommit,
	}
}

// IsDev reports a build without release version stamps.
func (info VersionInfo) IsDev() bool {
	return info.Version == "" || info.Version == "dev"
}

func (info VersionInfo) String() string {
	var builder strings.Builder
	builder.WriteString("tellmewhen ")
	builder.WriteString(info.Version)
	if info.GitCommit != "" {
		builder.WriteString(" (")
		builder.WriteString(info.GitCommit)
		builder.WriteString(")")
	}
	if info.Built != "" {
		builder.WriteString(" built ")
		builder.WriteString(info.Built)
	}
	return builder.String()
}

// Parse reads a "major.minor.patch" string, with an optional leading "v".
// Missing trailing components are zero.
func Parse(value string) (VersionInfo, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "v")
	if trimmed == "" {
		return VersionInfo{}, fmt.Errorf("empty version")
	}
	parts := strings.Split(trimmed, ".")
	if len(parts) > 3 {
		return VersionInfo{}, fmt.Errorf("invalid version %q", value)
	}
	numbers := [3]int{}
	for i, part := range parts {
		parsed, err := strconv.Atoi(part)
		if err != nil || parsed < 0 {
			return VersionInfo{}, fmt.Errorf("invalid version %q", value)
		}
		numbers[i] = parsed
	}
	return VersionInfo{
		Version: trimmed,
		Major:   numbers[0],
		Minor:   numbers[1],
		Patch:   numbers[2],
	}, nil
}

func parseInt(value string) int {
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return parsed
}
