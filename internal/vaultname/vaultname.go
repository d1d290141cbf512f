// Package vaultname validates vault names and centralizes the
// reserved-path rules so every component agrees on what is a "user path"
// versus scion's own bookkeeping.
package vaultname

import (
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var pattern = regexp.MustCompile(`^[A-Za-z0-9_\- ]{1,100}$`)

// SystemDir is the reserved directory inside every vault that holds
// scion's own metadata (the disaster-recovery manifest, the identity
// store database and its WAL sidecars).
const SystemDir = ".scion"

// ManifestPath is the path, relative to the vault root, of the
// disaster-recovery manifest committed into vault history.
const ManifestPath = SystemDir + "/manifest.json"

// reservedGlobs are path patterns that are never returned in a manifest
// and never accepted as a user-supplied path.
var reservedGlobs = []string{
	SystemDir + "/**",
	".git/**",
	".gitignore",
}

// Valid reports whether name satisfies the vault name grammar:
// `^[A-Za-z0-9_\- ]{1,100}$`, forbidding "..", "/", and "\".
func Valid(name string) bool {
	if !pattern.MatchString(name) {
		return false
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return false
	}
	return true
}

// IsReservedPath reports whether path falls under scion's own metadata
// tree or the .git directory, or is the .gitignore file, and must
// therefore be hidden from manifests and rejected as a client-supplied
// path.
func IsReservedPath(path string) bool {
	clean := strings.TrimPrefix(path, "/")
	for _, g := range reservedGlobs {
		if ok, _ := doublestar.Match(g, clean); ok {
			return true
		}
		if clean == strings.TrimSuffix(g, "/**") {
			return true
		}
	}
	return false
}
