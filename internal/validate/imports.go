package validate

import (
	"path"
	"regexp"
	"strings"

	"foreman/internal/project"
)

var (
	pyImport     = regexp.MustCompile(`(?m)^\s*import\s+([\w.]+)`)
	pyFromImport = regexp.MustCompile(`(?m)^\s*from\s+([\w.]+)\s+import\s`)
	jsImportFrom = regexp.MustCompile(`(?m)import\s+(?:[\w{}\s,*]+\s+from\s+)?['"]([^'"]+)['"]`)
	jsRequire    = regexp.MustCompile(`require\(\s*['"]([^'"]+)['"]\s*\)`)
)

// auditImports reports imports that resolve to neither the stdlib, the
// verified-package cache, nor a local module in the file index.
func (v *Validator) auditImports(p *project.Project, rel string, content []byte) []Issue {
	ext := strings.ToLower(path.Ext(rel))
	switch ext {
	case ".py":
		return v.auditPython(p, rel, string(content))
	case ".js", ".jsx", ".ts", ".tsx":
		return v.auditJS(p, rel, string(content))
	}
	return nil
}

func (v *Validator) auditPython(p *project.Project, rel, content string) []Issue {
	var issues []Issue
	seen := make(map[string]bool)

	check := func(mod string) {
		root := strings.SplitN(mod, ".", 2)[0]
		if root == "" || seen[root] {
			return
		}
		seen[root] = true
		if pythonStdlib[root] || v.VerifiedPackages[root] {
			return
		}
		if pythonLocalModule(p, rel, root) {
			return
		}
		issues = append(issues, Issue{
			File:    rel,
			Message: "missing module " + root,
			Kind:    "missing_module",
		})
	}

	for _, m := range pyImport.FindAllStringSubmatch(content, -1) {
		check(m[1])
	}
	for _, m := range pyFromImport.FindAllStringSubmatch(content, -1) {
		if strings.HasPrefix(m[1], ".") {
			continue // relative import, resolved within the package
		}
		check(m[1])
	}
	return issues
}

// pythonLocalModule checks the index and disk for X.py or X/__init__.py,
// both at the project root and beside the importing file.
func pythonLocalModule(p *project.Project, rel, mod string) bool {
	dir := path.Dir(rel)
	candidates := []string{
		mod + ".py",
		mod + "/__init__.py",
	}
	if dir != "." {
		candidates = append(candidates,
			path.Join(dir, mod+".py"),
			path.Join(dir, mod, "__init__.py"),
		)
	}
	for _, c := range candidates {
		if p.Index().Has(c) || p.Exists(c) {
			return true
		}
	}
	return false
}

func (v *Validator) auditJS(p *project.Project, rel, content string) []Issue {
	var issues []Issue
	seen := make(map[string]bool)

	check := func(mod string) {
		if mod == "" || seen[mod] {
			return
		}
		seen[mod] = true
		if strings.HasPrefix(mod, ".") || strings.HasPrefix(mod, "/") {
			if !jsLocalModule(p, rel, mod) {
				issues = append(issues, Issue{
					File:    rel,
					Message: "missing module " + mod,
					Kind:    "missing_module",
				})
			}
			return
		}
		// Bare specifier: scoped/deep imports resolve by their package root.
		root := mod
		if strings.HasPrefix(mod, "@") {
			parts := strings.SplitN(mod, "/", 3)
			if len(parts) >= 2 {
				root = parts[0] + "/" + parts[1]
			}
		} else {
			root = strings.SplitN(mod, "/", 2)[0]
		}
		if nodeBuiltins[strings.TrimPrefix(root, "node:")] || v.VerifiedPackages[root] {
			return
		}
		issues = append(issues, Issue{
			File:    rel,
			Message: "missing module " + root,
			Kind:    "missing_module",
		})
	}

	for _, m := range jsImportFrom.FindAllStringSubmatch(content, -1) {
		check(m[1])
	}
	for _, m := range jsRequire.FindAllStringSubmatch(content, -1) {
		check(m[1])
	}
	return issues
}

func jsLocalModule(p *project.Project, rel, mod string) bool {
	base := path.Join(path.Dir(rel), mod)
	candidates := []string{
		base,
		base + ".js", base + ".jsx", base + ".ts", base + ".tsx", base + ".json",
		path.Join(base, "index.js"),
	}
	for _, c := range candidates {
		c = path.Clean(c)
		if strings.HasPrefix(c, "..") {
			continue
		}
		if p.Index().Has(c) || p.Exists(c) {
			return true
		}
	}
	return false
}
