package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type pkgHarness struct {
	t   *testing.T
	dir string
}

func newPkg(t *testing.T) *pkgHarness {
	t.Helper()
	return &pkgHarness{t: t, dir: t.TempDir()}
}

func (p *pkgHarness) write(rel, content string) string {
	p.t.Helper()
	path := filepath.Join(p.dir, rel)
	require.NoError(p.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(p.t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (p *pkgHarness) out(rel string) string {
	return filepath.Join(p.dir, rel)
}

func (p *pkgHarness) read(rel string) string {
	p.t.Helper()
	b, err := os.ReadFile(filepath.Join(p.dir, rel))
	require.NoError(p.t, err)
	return string(b)
}

// writeServiceSource makes the package import the service runtime the way a
// real implementation package would.
func writeServiceSource(p *pkgHarness) {
	p.write("counter.go", `package counter

import (
	"context"

	"example.com/proj/service"
)

var _ service.Option

type Counter struct{ Step int }

func NewCounter(context.Context) *Counter { return &Counter{Step: 1} }
`)
}

func counterSpec() string {
	return `{
  "package": "counter",
  "handleName": "CounterHandle",
  "implType": "*Counter",
  "constructor": "NewCounter",
  "methods": [
    {"name": "Add", "params": [{"name": "n", "type": "int"}], "returns": [{"type": "int"}]},
    {"name": "Value", "returns": [{"type": "int"}]},
    {"name": "Reset"},
    {"name": "Sum", "params": [{"name": "ns", "type": "...int"}], "returns": [{"type": "int"}, {"type": "error"}]},
    {"name": "Watch", "forwardCtx": true, "params": [{"name": "fn", "type": "func(int)"}], "returns": [{"type": "func()"}]},
    {"name": "Wait", "forwardCtx": true, "params": [{"name": "d", "type": "time.Duration"}]}
  ],
  "fields": [{"name": "Step", "type": "int"}]
}`
}

func assertContainsInOrder(t *testing.T, s string, parts ...string) {
	t.Helper()
	pos := 0
	for _, p := range parts {
		i := strings.Index(s[pos:], p)
		require.GreaterOrEqualf(t, i, 0, "expected to find %q after pos=%d in:\n%s", p, pos, s)
		pos += i + len(p)
	}
}
