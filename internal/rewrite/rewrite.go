package rewrite

import (
	"bytes"
	"errors"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"path"
	"strconv"

	"golang.org/x/tools/go/ast/astutil"
)

// DefaultRedirectImport is the import path rewritten units call into.
const DefaultRedirectImport = "github.com/psantana5/exitshim/pkg/redirect"

var (
	ErrNoEntry   = errors.New("package main has no func main")
	ErrSignature = errors.New("func main must have no parameters and no results")
)

// Config controls how a monitored unit is rewritten.
type Config struct {
	// EntryName is the harness-chosen name for func main.
	EntryName string
	// Package replaces "package main" so the unit can be imported.
	Package string
	// RedirectImport is the import path of the redirect package.
	RedirectImport string
	// RegisterAs, when set, makes Dir emit an init file registering the
	// renamed entry point under this name.
	RegisterAs string
	// KeepTests rewrites and copies _test.go files too.
	KeepTests bool

	// reserved holds package-level names declared across the package, so
	// the redirect import cannot collide with a sibling file.
	reserved map[string]bool
}

func (c Config) withDefaults() Config {
	if c.EntryName == "" {
		c.EntryName = "Main"
	}
	if c.Package == "" {
		c.Package = "target"
	}
	if c.RedirectImport == "" {
		c.RedirectImport = DefaultRedirectImport
	}
	return c
}

// Stats counts what a rewrite changed.
type Stats struct {
	EntryRenamed   bool `json:"entry_renamed" yaml:"entry_renamed"`
	NormalExits    int  `json:"normal_exits" yaml:"normal_exits"`
	ImmediateExits int  `json:"immediate_exits" yaml:"immediate_exits"`
}

func (s *Stats) add(o Stats) {
	s.EntryRenamed = s.EntryRenamed || o.EntryRenamed
	s.NormalExits += o.NormalExits
	s.ImmediateExits += o.ImmediateExits
}

// Changed reports whether anything was rewritten.
func (s Stats) Changed() bool {
	return s.EntryRenamed || s.NormalExits > 0 || s.ImmediateExits > 0
}

// termination targets, keyed by import path.
var targets = map[string]string{
	"os":                    "Exit",
	"syscall":               "ImmediateExit",
	"golang.org/x/sys/unix": "ImmediateExit",
}

// File rewrites f in place. The file must have been parsed with object
// resolution enabled (the parser default) so shadowed package names are
// left alone. References to main that resolve in another file of the
// package are renamed as well.
func File(fset *token.FileSet, f *ast.File, cfg Config) (Stats, error) {
	cfg = cfg.withDefaults()
	var stats Stats

	mainDecl, err := findMain(f)
	if err != nil {
		return stats, err
	}
	isMain := f.Name.Name == "main"

	local := importNames(f)
	redirectName, haveRedirect := local[cfg.RedirectImport]
	if !haveRedirect {
		redirectName = freeName(f, cfg.reserved, path.Base(cfg.RedirectImport))
	}
	byName := make(map[string]string, len(local))
	for imp, name := range local {
		if fn, ok := targets[imp]; ok {
			byName[name] = fn
		}
	}
	dotFn := dotTarget(f)

	unresolved := make(map[*ast.Ident]bool, len(f.Unresolved))
	for _, id := range f.Unresolved {
		unresolved[id] = true
	}

	dotExits := 0
	redirectTo := func(pos token.Pos, fn string) *ast.SelectorExpr {
		if fn == "Exit" {
			stats.NormalExits++
		} else {
			stats.ImmediateExits++
		}
		return &ast.SelectorExpr{
			X:   &ast.Ident{NamePos: pos, Name: redirectName},
			Sel: &ast.Ident{NamePos: pos, Name: fn},
		}
	}

	astutil.Apply(f, nil, func(c *astutil.Cursor) bool {
		switch n := c.Node().(type) {
		case *ast.SelectorExpr:
			pkg, ok := n.X.(*ast.Ident)
			if !ok || pkg.Obj != nil || n.Sel.Name != "Exit" {
				return true
			}
			if fn, ok := byName[pkg.Name]; ok {
				c.Replace(redirectTo(pkg.NamePos, fn))
			}
		case *ast.Ident:
			switch {
			case mainDecl != nil && n.Obj != nil && n.Obj.Decl == mainDecl:
				n.Name = cfg.EntryName
			case isMain && unresolved[n] && n.Name == "main":
				n.Name = cfg.EntryName
			case dotFn != "" && unresolved[n] && n.Name == "Exit":
				c.Replace(redirectTo(n.NamePos, dotFn))
				dotExits++
			}
		}
		return true
	})

	if mainDecl != nil {
		mainDecl.Name.Name = cfg.EntryName
		stats.EntryRenamed = true
	}
	if isMain {
		f.Name.Name = cfg.Package
	}

	if stats.NormalExits+stats.ImmediateExits > 0 {
		if !haveRedirect {
			if redirectName == path.Base(cfg.RedirectImport) {
				astutil.AddImport(fset, f, cfg.RedirectImport)
			} else {
				astutil.AddNamedImport(fset, f, redirectName, cfg.RedirectImport)
			}
		}
		for imp, name := range local {
			if _, ok := targets[imp]; !ok || astutil.UsesImport(f, imp) {
				continue
			}
			if name == path.Base(imp) {
				astutil.DeleteImport(fset, f, imp)
			} else {
				astutil.DeleteNamedImport(fset, f, name, imp)
			}
		}
	}
	if dotExits > 0 {
		keepDotImport(f)
	}
	return stats, nil
}

// freeName returns base, or a variant of it, that no identifier of f and
// no name in reserved already uses.
func freeName(f *ast.File, reserved map[string]bool, base string) string {
	used := make(map[string]bool)
	for name := range reserved {
		used[name] = true
	}
	for _, name := range importNames(f) {
		used[name] = true
	}
	ast.Inspect(f, func(n ast.Node) bool {
		if id, ok := n.(*ast.Ident); ok {
			used[id.Name] = true
		}
		return true
	})
	return unusedName(used, base)
}

func unusedName(used map[string]bool, base string) string {
	name := base
	for i := 1; used[name]; i++ {
		name = "exitshim_" + base
		if i > 1 {
			name += strconv.Itoa(i)
		}
	}
	return name
}

// dotTarget returns the redirect function for a termination package that f
// imports with a dot, or "" if there is none.
func dotTarget(f *ast.File) string {
	for _, imp := range f.Imports {
		if imp.Name == nil || imp.Name.Name != "." {
			continue
		}
		p, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		if fn, ok := targets[p]; ok {
			return fn
		}
	}
	return ""
}

// keepDotImport adds "var _ = Getpid" so a dot import whose only use was
// Exit still compiles. os, syscall and unix all export Getpid.
func keepDotImport(f *ast.File) {
	for _, decl := range f.Decls {
		gd, ok := decl.(*ast.GenDecl)
		if !ok || gd.Tok != token.VAR || len(gd.Specs) != 1 {
			continue
		}
		vs, ok := gd.Specs[0].(*ast.ValueSpec)
		if !ok || len(vs.Names) != 1 || vs.Names[0].Name != "_" || len(vs.Values) != 1 {
			continue
		}
		if id, ok := vs.Values[0].(*ast.Ident); ok && id.Name == "Getpid" {
			return
		}
	}
	f.Decls = append(f.Decls, &ast.GenDecl{
		Tok: token.VAR,
		Specs: []ast.Spec{&ast.ValueSpec{
			Names:  []*ast.Ident{ast.NewIdent("_")},
			Values: []ast.Expr{ast.NewIdent("Getpid")},
		}},
	})
}

// findMain returns the package-level func main of a main package.
func findMain(f *ast.File) (*ast.FuncDecl, error) {
	if f.Name.Name != "main" {
		return nil, nil
	}
	for _, decl := range f.Decls {
		fd, ok := decl.(*ast.FuncDecl)
		if !ok || fd.Recv != nil || fd.Name.Name != "main" {
			continue
		}
		if fd.Type.TypeParams.NumFields() > 0 || fd.Type.Params.NumFields() > 0 || fd.Type.Results.NumFields() > 0 {
			return nil, ErrSignature
		}
		return fd, nil
	}
	return nil, nil
}

// importNames maps import path to the name it is referred to by. Blank and
// dot imports are skipped: they cannot appear as a selector's qualifier.
func importNames(f *ast.File) map[string]string {
	names := make(map[string]string, len(f.Imports))
	for _, imp := range f.Imports {
		p, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		name := path.Base(p)
		if imp.Name != nil {
			name = imp.Name.Name
		}
		if name == "_" || name == "." {
			continue
		}
		names[p] = name
	}
	return names
}

// Source parses, rewrites and formats a single file.
func Source(filename string, src []byte, cfg Config) ([]byte, Stats, error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, filename, src, parser.ParseComments)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("parse %s: %w", filename, err)
	}

	stats, err := File(fset, f, cfg)
	if err != nil {
		return nil, stats, fmt.Errorf("%s: %w", filename, err)
	}

	var buf bytes.Buffer
	if err := format.Node(&buf, fset, f); err != nil {
		return nil, stats, fmt.Errorf("format %s: %w", filename, err)
	}
	return buf.Bytes(), stats, nil
}
