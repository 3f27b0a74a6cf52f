// Package match provides include/exclude glob matching over repository
// file paths using doublestar semantics.
package match

import (
	"strings"
)

// Glob metacharacters that can be escaped with backslash in patterns.
const globEscapable = `*?[]{}\`

// NormalizePath converts a diff-reported file path to canonical form.
//
// Normalization rules:
//   - Backslash separators converted to forward slashes
//   - Leading "./" stripped
//   - Leading "/" stripped (diff sources report repo-relative paths)
//
// Examples:
//
//	"src/core/lib.rs"    → "src/core/lib.rs"   (unchanged)
//	"./src/core/lib.rs"  → "src/core/lib.rs"   ("./" stripped)
//	"src\core\lib.rs"    → "src/core/lib.rs"   (backslash → slash)
//	"/src/core/lib.rs"   → "src/core/lib.rs"   (leading slash stripped)
func NormalizePath(path string) string {
	if path == "" {
		return ""
	}
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.TrimPrefix(path, "./")
	path = strings.TrimPrefix(path, "/")
	return path
}

// NormalizePattern converts a user-provided glob pattern to canonical form.
//
// Normalization rules:
//   - Unescaped backslashes converted to forward slashes (Windows compat)
//   - Escaped backslashes and glob metacharacters preserved (\*, \?, \[, etc.)
//   - Leading "./" stripped to align with NormalizePath
//
// This allows Windows users to write patterns like "src\core\**\*.rs"
// while preserving escape semantics for literal matching.
//
// Examples:
//
//	"src/core/**"       → "src/core/**"      (unchanged)
//	"src\core\**"       → "src/core/**"      (backslash → slash)
//	"src/file\*.rs"     → "src/file\*.rs"    (escape preserved)
//	"./src/core/**"     → "src/core/**"      ("./" stripped)
func NormalizePattern(pattern string) string {
	if pattern == "" {
		return ""
	}

	var result strings.Builder
	result.Grow(len(pattern))

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if r == '\\' && i+1 < len(runes) {
			next := runes[i+1]
			// Check if this is an escape sequence for a glob metacharacter
			if strings.ContainsRune(globEscapable, next) {
				// Preserve the escape sequence
				result.WriteRune('\\')
				result.WriteRune(next)
				i++ // Skip the next character
				continue
			}
			// Unescaped backslash - convert to forward slash
			result.WriteRune('/')
			continue
		}

		if r == '\\' {
			// Trailing backslash - convert to forward slash
			result.WriteRune('/')
			continue
		}

		result.WriteRune(r)
	}

	return strings.TrimPrefix(result.String(), "./")
}
