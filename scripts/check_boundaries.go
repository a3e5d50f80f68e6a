package main

import (
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Import boundary checker for the contexts tree. Domain and application
// layers must stay free of adapter and platform imports so modules remain
// portable across storage backends.

type violation struct {
	File   string
	Line   int
	Import string
	Rule   string
}

type layerRule struct {
	forbiddenSubstrings []string
	forbiddenPrefixes   []string
	allowedPrefixes     func(modulePrefix string) []string
}

var layerRules = map[string]layerRule{
	"domain": {
		forbiddenSubstrings: []string{"/adapters/"},
		forbiddenPrefixes:   []string{"metamarket/internal/"},
		allowedPrefixes: func(modulePrefix string) []string {
			return []string{modulePrefix + "/domain"}
		},
	},
	"application": {
		forbiddenSubstrings: []string{"/adapters/"},
		forbiddenPrefixes:   []string{"metamarket/internal/"},
		allowedPrefixes: func(modulePrefix string) []string {
			return []string{
				modulePrefix + "/application",
				modulePrefix + "/domain",
				modulePrefix + "/ports",
				"metamarket/contracts",
			}
		},
	},
}

func main() {
	violations := collectViolations("contexts")
	if len(violations) == 0 {
		fmt.Println("boundary checks passed")
		return
	}

	sort.Slice(violations, func(i, j int) bool {
		if violations[i].File == violations[j].File {
			if violations[i].Line == violations[j].Line {
				return violations[i].Import < violations[j].Import
			}
			return violations[i].Line < violations[j].Line
		}
		return violations[i].File < violations[j].File
	})

	fmt.Println("boundary violations found:")
	for _, v := range violations {
		fmt.Printf("- %s:%d imports %q (%s)\n", v.File, v.Line, v.Import, v.Rule)
	}
	os.Exit(1)
}

func collectViolations(root string) []violation {
	var violations []violation

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}

		normalized := filepath.ToSlash(path)
		parts := strings.Split(normalized, "/")
		if len(parts) < 4 || parts[0] != "contexts" {
			return nil
		}

		contextName := parts[1]
		moduleName := parts[2]
		layer := parts[3]
		modulePrefix := fmt.Sprintf("metamarket/contexts/%s/%s", contextName, moduleName)

		violations = append(violations, validateFile(path, normalized, layer, modulePrefix)...)
		return nil
	})

	return violations
}

func validateFile(path string, normalizedPath string, layer string, modulePrefix string) []violation {
	var violations []violation

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
	if err != nil {
		return append(violations, violation{
			File: normalizedPath,
			Line: 1,
			Rule: "file must parse",
		})
	}

	for _, imp := range file.Imports {
		importPath := strings.Trim(imp.Path.Value, "\"")
		line := fset.Position(imp.Pos()).Line

		if strings.HasPrefix(importPath, "metamarket/contexts/") && !hasPrefix(importPath, modulePrefix) {
			violations = append(violations, violation{
				File:   normalizedPath,
				Line:   line,
				Import: importPath,
				Rule:   "cross-module imports are forbidden",
			})
		}

		rule, ok := layerRules[layer]
		if !ok {
			continue
		}
		violations = append(violations, applyLayerRule(rule, normalizedPath, line, importPath, layer, modulePrefix)...)
	}

	return violations
}

func applyLayerRule(rule layerRule, file string, line int, importPath string, layer string, modulePrefix string) []violation {
	var violations []violation

	for _, sub := range rule.forbiddenSubstrings {
		if strings.Contains(importPath, sub) {
			violations = append(violations, violation{
				File:   file,
				Line:   line,
				Import: importPath,
				Rule:   layer + " must not import adapters",
			})
		}
	}

	for _, prefix := range rule.forbiddenPrefixes {
		if strings.HasPrefix(importPath, prefix) {
			violations = append(violations, violation{
				File:   file,
				Line:   line,
				Import: importPath,
				Rule:   layer + " must not import runtime infrastructure",
			})
		}
	}

	if !isStdlib(importPath) && !isAllowed(importPath, rule.allowedPrefixes(modulePrefix)) {
		violations = append(violations, violation{
			File:   file,
			Line:   line,
			Import: importPath,
			Rule:   layer + " import is outside explicit allowlist",
		})
	}

	return violations
}

func hasPrefix(path string, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func isAllowed(importPath string, allowedPrefixes []string) bool {
	for _, p := range allowedPrefixes {
		if hasPrefix(importPath, p) {
			return true
		}
	}
	return false
}

func isStdlib(importPath string) bool {
	if strings.HasPrefix(importPath, "metamarket/") {
		return false
	}
	first := importPath
	if idx := strings.Index(first, "/"); idx != -1 {
		first = first[:idx]
	}
	return !strings.Contains(first, ".")
}
