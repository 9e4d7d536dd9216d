package services

import (
	"path"
	"strings"
)

// MaxAnalysisChars bounds how much of a file is sent to the model.
const MaxAnalysisChars = 8000

// SkippedAssetAnalysis is recorded for asset-like files instead of calling the model.
const SkippedAssetAnalysis = "Skipped: static asset or UI primitive."

var sourceExtensions = map[string]bool{
	// code
	".go": true, ".ts": true, ".tsx": true, ".js": true, ".jsx": true, ".mjs": true, ".cjs": true,
	".py": true, ".rb": true, ".java": true, ".kt": true, ".rs": true, ".c": true, ".h": true,
	".cpp": true, ".hpp": true, ".cs": true, ".php": true, ".swift": true, ".scala": true,
	".vue": true, ".svelte": true,
	// docs
	".md": true, ".mdx": true,
	// config
	".json": true, ".toml": true, ".ini": true, ".yml": true, ".yaml": true,
	// styles
	".css": true, ".scss": true, ".sass": true, ".less": true,
	// data and scripts
	".sql": true, ".sh": true, ".bash": true, ".zsh": true,
}

var sourceBaseNames = map[string]bool{
	"Dockerfile":   true,
	"Makefile":     true,
	".env.example": true,
}

var lockFiles = map[string]bool{
	"package-lock.json": true,
	"yarn.lock":         true,
	"pnpm-lock.yaml":    true,
	"go.sum":            true,
	"Cargo.lock":        true,
	"poetry.lock":       true,
	"composer.lock":     true,
	"Gemfile.lock":      true,
}

var excludedDirs = map[string]bool{
	"node_modules": true, "vendor": true, "dist": true, "build": true, "out": true,
	".next": true, "coverage": true, ".git": true, ".github": true, ".idea": true,
	".vscode": true, "venv": true, ".venv": true, "__pycache__": true,
}

var assetDirs = map[string]bool{
	"images": true, "img": true, "public": true, "static": true, "assets": true,
	"locales": true, "locale": true, "i18n": true,
}

// FilterSourceFiles keeps source-like paths and drops vendored, generated,
// lock and asset files. Order is preserved.
func FilterSourceFiles(paths []string) []string {
	var out []string
	for _, p := range paths {
		if isSourceFile(p) && !IsAssetPath(p) {
			out = append(out, p)
		}
	}
	return out
}

// IsAssetPath reports whether p sits under an asset directory or the UI
// primitive folder (components/ui).
func IsAssetPath(p string) bool {
	dirs := strings.Split(path.Dir(strings.TrimPrefix(p, "/")), "/")
	for i, d := range dirs {
		if assetDirs[strings.ToLower(d)] {
			return true
		}
		if d == "components" && i+1 < len(dirs) && dirs[i+1] == "ui" {
			return true
		}
	}
	return false
}

func isSourceFile(p string) bool {
	p = strings.TrimPrefix(p, "/")
	base := path.Base(p)
	if lockFiles[base] {
		return false
	}
	for _, d := range strings.Split(path.Dir(p), "/") {
		if excludedDirs[d] {
			return false
		}
	}
	if sourceBaseNames[base] {
		return true
	}
	return sourceExtensions[strings.ToLower(path.Ext(base))]
}

// truncateContent cuts content to at most limit bytes on a rune boundary.
func truncateContent(content string, limit int) string {
	if len(content) <= limit {
		return content
	}
	cut := limit
	for cut > 0 && !isRuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + "\n... [truncated]"
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
