package main

import (
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

type GoImport struct {
	Name string // optional alias
	Path string
}

// inferServiceImport fills s.Imports.Service. An explicit value wins, then an
// import of a ".../service" package by the package's own sources, then the
// service package of the module zonegen is built from.
func inferServiceImport(s *HandleSpec, scanned []GoImport) error {
	if strings.TrimSpace(s.Imports.Service) != "" {
		s.Imports.Service = strings.TrimSpace(s.Imports.Service)
		return nil
	}

	if gi, ok := findImportByAliasOrSuffix(scanned, "service", "/service"); ok {
		s.Imports.Service = gi.Path
		return nil
	}

	p, err := runtimeImportFromGeneratorModule("service")
	if err != nil {
		return fmt.Errorf("cannot infer imports.service: %w", err)
	}
	s.Imports.Service = p
	return nil
}

// runtimeImportFromGeneratorModule computes the import path of rel inside
// the module that contains this generator.
func runtimeImportFromGeneratorModule(rel string) (string, error) {
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		return "", errors.New("runtime.Caller failed")
	}

	modRoot, modPath, err := findModule(filepath.Dir(thisFile))
	if err != nil {
		return "", err
	}

	abs := filepath.Join(modRoot, filepath.FromSlash(rel))
	if !dirExists(abs) {
		return "", fmt.Errorf("expected package dir at %s", filepath.ToSlash(abs))
	}
	return modPath + "/" + filepath.ToSlash(rel), nil
}

// serviceImport aliases the service package when its path does not end in
// "service", since the template refers to it as service.
func serviceImport(p string) GoImport {
	if path.Base(p) == "service" {
		return GoImport{Path: p}
	}
	return GoImport{Name: "service", Path: p}
}

// stdlibFallback covers qualifiers used in the description that the
// package's own sources do not import.
var stdlibFallback = map[string]string{
	"time": "time",
	"io":   "io",
	"slog": "log/slog",
}

// importName is the identifier an import is referred to by.
func importName(gi GoImport) string {
	if gi.Name != "" {
		return gi.Name
	}
	base := path.Base(gi.Path)
	if len(base) > 1 && base[0] == 'v' && strings.Trim(base[1:], "0123456789") == "" {
		base = path.Base(path.Dir(gi.Path))
	}
	return base
}

// qualifiedImports returns the imports needed by the package qualifiers in
// method and field types. Scanned imports of the package win over the
// stdlib fallback.
func qualifiedImports(s *HandleSpec, scanned []GoImport) []GoImport {
	var out []GoImport
	used := map[string]bool{}
	for _, gi := range scanned {
		name := importName(gi)
		if name == "_" || name == "." || name == "context" || name == "service" || used[name] {
			continue
		}
		if specUsesPkgQualifier(s, name) {
			used[name] = true
			out = append(out, gi)
		}
	}
	for name, p := range stdlibFallback {
		if !used[name] && specUsesPkgQualifier(s, name) {
			out = append(out, GoImport{Path: p})
		}
	}
	return out
}

// findModule walks up from startDir to the nearest go.mod and returns its
// directory and module path.
func findModule(startDir string) (modRoot string, modPath string, err error) {
	dir := startDir
	for {
		gomod := filepath.Join(dir, "go.mod")
		if fileExists(gomod) {
			b, rerr := os.ReadFile(gomod)
			if rerr != nil {
				return "", "", rerr
			}
			for _, ln := range strings.Split(string(b), "\n") {
				ln = strings.TrimSpace(ln)
				if strings.HasPrefix(ln, "module ") || ln == "module" {
					mod := strings.TrimSpace(strings.TrimPrefix(ln, "module"))
					if mod == "" {
						return "", "", fmt.Errorf("go.mod has empty module path at %s", filepath.ToSlash(gomod))
					}
					return dir, mod, nil
				}
			}
			return "", "", fmt.Errorf("go.mod missing module directive at %s", filepath.ToSlash(gomod))
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", "", fmt.Errorf("could not find go.mod starting from %s", filepath.ToSlash(startDir))
}

func dirExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.IsDir()
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}

// isGenerated matches outputs that must not feed back into inference.
func isGenerated(name string) bool {
	return strings.HasSuffix(name, ".gen.go") || strings.Contains(name, ".gen.") || strings.HasSuffix(name, "_gen.go")
}

// scanPackageImports reads the imports of every non-test, non-generated .go
// file in pkgDir, keeping aliases.
func scanPackageImports(pkgDir string) []GoImport {
	entries, err := os.ReadDir(pkgDir)
	if err != nil {
		return nil
	}

	var out []GoImport
	fset := token.NewFileSet()
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") || isGenerated(name) {
			continue
		}

		full := filepath.Join(pkgDir, name)
		f, perr := parser.ParseFile(fset, full, nil, parser.ImportsOnly)
		if perr != nil {
			continue
		}
		for _, imp := range f.Imports {
			gi := GoImport{Path: strings.Trim(imp.Path.Value, `"`)}
			if imp.Name != nil {
				gi.Name = imp.Name.Name
			}
			out = append(out, gi)
		}
	}
	return mergeImports(out, nil)
}

// findImportByAliasOrSuffix prefers an alias match over a suffix match.
func findImportByAliasOrSuffix(imports []GoImport, alias, suffix string) (GoImport, bool) {
	if alias != "" {
		for _, gi := range imports {
			if gi.Name == alias {
				return gi, true
			}
		}
	}
	if suffix != "" {
		for _, gi := range imports {
			if strings.HasSuffix(gi.Path, suffix) {
				return gi, true
			}
		}
	}
	return GoImport{}, false
}

// readImportsFromExistingOut keeps imports added to a previous output.
func readImportsFromExistingOut(outPath string) []GoImport {
	if strings.TrimSpace(outPath) == "" || !fileExists(outPath) {
		return nil
	}
	f, err := parser.ParseFile(token.NewFileSet(), outPath, nil, parser.ImportsOnly)
	if err != nil {
		return nil
	}

	out := make([]GoImport, 0, len(f.Imports))
	for _, imp := range f.Imports {
		gi := GoImport{Path: strings.Trim(imp.Path.Value, `"`)}
		if imp.Name != nil {
			gi.Name = imp.Name.Name
		}
		out = append(out, gi)
	}
	return out
}

// mergeImports dedupes required then preserved imports and sorts by path.
// A preserved import of an already required path is dropped so an alias
// change in the description does not import a package twice.
func mergeImports(required []GoImport, preserved []GoImport) []GoImport {
	type key struct{ path, name string }
	seen := map[key]bool{}
	paths := map[string]bool{}
	out := make([]GoImport, 0, len(required)+len(preserved))

	for _, gi := range required {
		k := key{gi.Path, gi.Name}
		if seen[k] {
			continue
		}
		seen[k] = true
		paths[gi.Path] = true
		out = append(out, gi)
	}
	for _, gi := range preserved {
		k := key{gi.Path, gi.Name}
		if seen[k] || paths[gi.Path] {
			continue
		}
		seen[k] = true
		out = append(out, gi)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Path == out[j].Path {
			return out[i].Name < out[j].Name
		}
		return out[i].Path < out[j].Path
	})
	return out
}
