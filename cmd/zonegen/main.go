package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"go/format"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Imports struct {
	Service string `json:"service"`
}

type Param struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Return struct {
	Type string `json:"type"`
}

type MethodSpec struct {
	Name    string   `json:"name"`
	Params  []Param  `json:"params"`
	Returns []Return `json:"returns"`

	// ForwardCtx passes the caller's ctx as the first argument of the
	// implementation method.
	ForwardCtx bool `json:"forwardCtx"`
}

type FieldSpec struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type HandleSpec struct {
	Package    string `json:"package"`
	HandleName string `json:"handleName"`
	ImplType   string `json:"implType"`

	// Constructor is a func(context.Context) ImplType in the same package.
	Constructor string `json:"constructor"`

	// ServiceName is passed to service.WithName. Defaults to the lowercased
	// impl type without its pointer.
	ServiceName string `json:"serviceName"`

	// PublicConstructorName defaults to "New" + HandleName.
	PublicConstructorName string `json:"publicConstructorName"`

	Imports Imports      `json:"imports"`
	Methods []MethodSpec `json:"methods"`
	Fields  []FieldSpec  `json:"fields"`
}

// handlerMethods are promoted from the embedded *service.Service and cannot
// be generated.
var handlerMethods = map[string]bool{
	"Name":         true,
	"Get":          true,
	"Instance":     true,
	"Instantiated": true,
	"Instantiate":  true,
	"Override":     true,
	"Configure":    true,
	"Mock":         true,
	"Destroy":      true,
	"Service":      true,
}

func run(args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("zonegen", flag.ContinueOnError)
	fs.SetOutput(stderr)

	specPath := fs.String("spec", "", "path to the *.zone.json handle description")
	outPath := fs.String("out", "", "output .gen.go file path")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*specPath) == "" {
		return errors.New("missing -spec")
	}
	if strings.TrimSpace(*outPath) == "" {
		return errors.New("missing -out")
	}
	return genHandle(*specPath, *outPath)
}

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "zonegen:", err)
		os.Exit(1)
	}
}

func genHandle(specPath, outPath string) error {
	raw, err := os.ReadFile(specPath)
	if err != nil {
		return err
	}

	var spec HandleSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.ToSlash(specPath), err)
	}

	applyDefaults(&spec)
	if err := validateSpec(&spec); err != nil {
		return err
	}
	scanned := scanPackageImports(filepath.Dir(outPath))
	if err := inferServiceImport(&spec, scanned); err != nil {
		return err
	}

	sort.Slice(spec.Methods, func(i, j int) bool { return spec.Methods[i].Name < spec.Methods[j].Name })
	sort.Slice(spec.Fields, func(i, j int) bool { return spec.Fields[i].Name < spec.Fields[j].Name })

	required := []GoImport{
		{Path: "context"},
		serviceImport(spec.Imports.Service),
	}
	required = append(required, qualifiedImports(&spec, scanned)...)

	data := map[string]any{
		"Spec":     spec,
		"SpecPath": filepath.ToSlash(specPath),
		"SpecHash": sha256Hex(raw),
		"Imports":  mergeImports(required, readImportsFromExistingOut(outPath)),
	}

	src, err := execTemplate(data)
	if err != nil {
		return err
	}
	return writeFormatted(outPath, src)
}

func applyDefaults(s *HandleSpec) {
	if strings.TrimSpace(s.PublicConstructorName) == "" {
		s.PublicConstructorName = "New" + s.HandleName
	}
	if strings.TrimSpace(s.ServiceName) == "" {
		s.ServiceName = strings.ToLower(strings.TrimPrefix(s.ImplType, "*"))
	}
}

func validateSpec(s *HandleSpec) error {
	for _, f := range []struct{ name, v string }{
		{"package", s.Package},
		{"handleName", s.HandleName},
		{"implType", s.ImplType},
		{"constructor", s.Constructor},
	} {
		if strings.TrimSpace(f.v) == "" {
			return errors.New("spec missing: " + f.name)
		}
	}
	for _, ident := range []string{s.Package, s.HandleName, s.Constructor, s.PublicConstructorName} {
		if !token.IsIdentifier(ident) {
			return fmt.Errorf("not a Go identifier: %q", ident)
		}
	}

	names := map[string]bool{}
	claim := func(name string) error {
		if handlerMethods[name] {
			return fmt.Errorf("%s clashes with a service handler method", name)
		}
		if names[name] {
			return fmt.Errorf("duplicate handle method %s", name)
		}
		names[name] = true
		return nil
	}

	for _, m := range s.Methods {
		if !token.IsIdentifier(m.Name) {
			return fmt.Errorf("method must have a valid name, got %q", m.Name)
		}
		if err := claim(m.Name); err != nil {
			return err
		}
		if err := validateParams(m); err != nil {
			return err
		}
	}

	if len(s.Fields) > 0 && !strings.HasPrefix(s.ImplType, "*") {
		return errors.New("fields require a pointer implType")
	}
	for _, f := range s.Fields {
		if !token.IsIdentifier(f.Name) || strings.TrimSpace(f.Type) == "" {
			return errors.New("field must have name/type")
		}
		if err := claim(f.Name); err != nil {
			return err
		}
		if err := claim("Set" + f.Name); err != nil {
			return err
		}
	}
	return nil
}

func validateParams(m MethodSpec) error {
	seen := map[string]bool{}
	for i, p := range m.Params {
		if !token.IsIdentifier(p.Name) || strings.TrimSpace(p.Type) == "" {
			return fmt.Errorf("method %s: param must have name/type", m.Name)
		}
		if p.Name == "ctx" || p.Name == "h" {
			return fmt.Errorf("method %s: param name %q is reserved", m.Name, p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("method %s: duplicate param %s", m.Name, p.Name)
		}
		seen[p.Name] = true
		if strings.HasPrefix(p.Type, "...") && i != len(m.Params)-1 {
			return fmt.Errorf("method %s: only the last param can be variadic", m.Name)
		}
	}
	for _, r := range m.Returns {
		if strings.TrimSpace(r.Type) == "" {
			return fmt.Errorf("method %s: return must have type", m.Name)
		}
	}
	return nil
}

// specUsesPkgQualifier reports whether any method or field type mentions "pkg.".
func specUsesPkgQualifier(s *HandleSpec, pkg string) bool {
	needle := pkg + "."
	for _, m := range s.Methods {
		for _, p := range m.Params {
			if strings.Contains(p.Type, needle) {
				return true
			}
		}
		for _, r := range m.Returns {
			if strings.Contains(r.Type, needle) {
				return true
			}
		}
	}
	for _, f := range s.Fields {
		if strings.Contains(f.Type, needle) {
			return true
		}
	}
	return false
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// writeFormatted gofmts src and replaces out through a rename. Unformattable
// source is left next to out as out+".broken" for inspection.
func writeFormatted(out string, src []byte) error {
	fmtSrc, err := format.Source(src)
	if err != nil {
		_ = os.WriteFile(out+".broken", src, 0o644)
		return fmt.Errorf("gofmt/format failed: %w", err)
	}
	return writeAtomic(out, fmtSrc)
}

func writeAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
