// Package version exposes build-time version metadata for roster.
package version

import (
	"encoding/json"
	"fmt"
)

var (
	// Version is injected at build time via -ldflags.
	Version = "dev"

	// GitCommit is the commit SHA the binary was built from.
	GitCommit = "unknown"
)

// Info bundles the build metadata for display and the HTTP API.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
}

// Get returns the current build metadata.
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
	}
}

// String renders the metadata as "version (commit)".
func (i Info) String() string {
	return fmt.Sprintf("%s (%s)", i.Version, i.GitCommit)
}

// JSON renders the metadata as indented JSON.
func (i Info) JSON() (string, error) {
	bytes, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}
