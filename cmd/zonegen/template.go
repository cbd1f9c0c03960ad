package main

import (
	"bytes"
	"strings"
	"text/template"
)

func isStdlib(p string) bool {
	first, _, _ := strings.Cut(p, "/")
	return !strings.Contains(first, ".")
}

func splitImports(imps []GoImport) (std, ext []GoImport) {
	for _, gi := range imps {
		if isStdlib(gi.Path) {
			std = append(std, gi)
		} else {
			ext = append(ext, gi)
		}
	}
	return std, ext
}

// callArgs renders the argument list of the forwarded call.
func callArgs(m MethodSpec) string {
	args := make([]string, 0, len(m.Params)+1)
	if m.ForwardCtx {
		args = append(args, "ctx")
	}
	for _, p := range m.Params {
		if strings.HasPrefix(p.Type, "...") {
			args = append(args, p.Name+"...")
			continue
		}
		args = append(args, p.Name)
	}
	return strings.Join(args, ", ")
}

func results(rs []Return) string {
	switch len(rs) {
	case 0:
		return ""
	case 1:
		return " " + rs[0].Type
	}
	types := make([]string, len(rs))
	for i, r := range rs {
		types[i] = r.Type
	}
	return " (" + strings.Join(types, ", ") + ")"
}

func execTemplate(data map[string]any) ([]byte, error) {
	std, ext := splitImports(data["Imports"].([]GoImport))
	data["Std"] = std
	data["Ext"] = ext

	var buf bytes.Buffer
	if err := handleTpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var handleTpl = template.Must(
	template.New("handle").
		Funcs(template.FuncMap{
			"callArgs": callArgs,
			"results":  results,
		}).
		Parse(`// Code generated by zonegen; DO NOT EDIT.
// Spec: {{.SpecPath}}
// Spec-SHA256: {{.SpecHash}}

package {{.Spec.Package}}

import (
{{- range .Std }}
	{{ if .Name }}{{ .Name }} {{ end }}"{{ .Path }}"
{{- end }}
{{ if .Ext }}
{{- range .Ext }}
	{{ if .Name }}{{ .Name }} {{ end }}"{{ .Path }}"
{{- end }}
{{- end }}
)

// {{.Spec.HandleName}} resolves the {{.Spec.ImplType}} of the caller's zone on every call.
type {{.Spec.HandleName}} struct {
	*service.Service[{{.Spec.ImplType}}]
}

// {{.Spec.PublicConstructorName}} creates the service handler around {{.Spec.Constructor}}.
func {{.Spec.PublicConstructorName}}(opts ...service.Option) *{{.Spec.HandleName}} {
	opts = append([]service.Option{service.WithName("{{.Spec.ServiceName}}")}, opts...)
	return &{{.Spec.HandleName}}{Service: service.New({{.Spec.Constructor}}, opts...)}
}
{{ range .Spec.Methods }}
// {{ .Name }} calls {{ .Name }} on the instance of the caller's zone.
func (h *{{ $.Spec.HandleName }}) {{ .Name }}(ctx context.Context{{ range .Params }}, {{ .Name }} {{ .Type }}{{ end }}){{ results .Returns }} {
	{{ if .Returns }}return {{ end }}h.Get(ctx).{{ .Name }}({{ callArgs . }})
}
{{ end }}
{{- range .Spec.Fields }}
// {{ .Name }} reads {{ .Name }} of the instance of the caller's zone.
func (h *{{ $.Spec.HandleName }}) {{ .Name }}(ctx context.Context) {{ .Type }} {
	return h.Get(ctx).{{ .Name }}
}

// Set{{ .Name }} writes {{ .Name }} of the instance of the caller's zone.
func (h *{{ $.Spec.HandleName }}) Set{{ .Name }}(ctx context.Context, v {{ .Type }}) {
	h.Get(ctx).{{ .Name }} = v
}
{{ end }}`),
)
