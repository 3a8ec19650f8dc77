package rewrite

import (
	"bytes"
	"context"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
)

// EntryFileName is the file Dir writes when Config.RegisterAs is set.
const EntryFileName = "zz_exitshim_entry.go"

// FileReport describes one rewritten file.
type FileReport struct {
	Name  string `json:"name" yaml:"name"`
	Stats Stats  `json:"stats" yaml:"stats"`
}

// Report describes a rewritten package directory.
type Report struct {
	Package string       `json:"package" yaml:"package"`
	Entry   string       `json:"entry" yaml:"entry"`
	Files   []FileReport `json:"files" yaml:"files"`
	Copied  []string     `json:"copied,omitempty" yaml:"copied,omitempty"`
	Total   Stats        `json:"total" yaml:"total"`
}

// Dir rewrites the Go package in src and writes the result to dst. Non-Go
// files are copied unchanged so embedded assets keep working. Test files
// are only carried over with cfg.KeepTests.
func Dir(ctx context.Context, src, dst string, cfg Config) (*Report, error) {
	cfg = cfg.withDefaults()

	entries, err := os.ReadDir(src)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", src, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	if err := os.MkdirAll(dst, 0755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dst, err)
	}

	cfg.reserved, err = packageNames(src, entries, cfg.KeepTests)
	if err != nil {
		return nil, err
	}

	report := &Report{Package: cfg.Package}
	sawMainPackage := false

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		name := entry.Name()
		if !entry.Type().IsRegular() || name == EntryFileName {
			continue
		}

		data, err := os.ReadFile(filepath.Join(src, name))
		if err != nil {
			return report, fmt.Errorf("read %s: %w", name, err)
		}

		if !strings.HasSuffix(name, ".go") {
			if err := os.WriteFile(filepath.Join(dst, name), data, 0644); err != nil {
				return report, fmt.Errorf("write %s: %w", name, err)
			}
			report.Copied = append(report.Copied, name)
			continue
		}
		isTest := strings.HasSuffix(name, "_test.go")
		if isTest && !cfg.KeepTests {
			continue
		}

		if !isTest && isMainPackage(data) {
			sawMainPackage = true
		}
		out, stats, err := Source(name, data, cfg)
		if err != nil {
			return report, err
		}
		if err := os.WriteFile(filepath.Join(dst, name), out, 0644); err != nil {
			return report, fmt.Errorf("write %s: %w", name, err)
		}
		report.Files = append(report.Files, FileReport{Name: name, Stats: stats})
		if !isTest {
			report.Total.add(stats)
		}
	}

	if sawMainPackage && !report.Total.EntryRenamed {
		return report, fmt.Errorf("%s: %w", src, ErrNoEntry)
	}
	if report.Total.EntryRenamed {
		report.Entry = cfg.EntryName
	}

	if cfg.RegisterAs != "" && report.Total.EntryRenamed {
		out, err := EntryFile(cfg)
		if err != nil {
			return report, err
		}
		if err := os.WriteFile(filepath.Join(dst, EntryFileName), out, 0644); err != nil {
			return report, fmt.Errorf("write %s: %w", EntryFileName, err)
		}
	}
	return report, nil
}

// packageNames collects the package-level names declared by the Go files
// of src that Dir will rewrite.
func packageNames(src string, entries []os.DirEntry, keepTests bool) (map[string]bool, error) {
	names := make(map[string]bool)
	fset := token.NewFileSet()
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || !strings.HasSuffix(name, ".go") || name == EntryFileName {
			continue
		}
		if strings.HasSuffix(name, "_test.go") && !keepTests {
			continue
		}
		f, err := parser.ParseFile(fset, filepath.Join(src, name), nil, parser.SkipObjectResolution)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		for _, decl := range f.Decls {
			switch d := decl.(type) {
			case *ast.FuncDecl:
				if d.Recv == nil {
					names[d.Name.Name] = true
				}
			case *ast.GenDecl:
				for _, spec := range d.Specs {
					switch sp := spec.(type) {
					case *ast.ValueSpec:
						for _, id := range sp.Names {
							names[id.Name] = true
						}
					case *ast.TypeSpec:
						names[sp.Name.Name] = true
					}
				}
			}
		}
	}
	return names, nil
}

// isMainPackage peeks at the package clause without a full parse.
func isMainPackage(src []byte) bool {
	for _, line := range strings.Split(string(src), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == "package" {
			return fields[1] == "main"
		}
	}
	return false
}

var entryTmpl = template.Must(template.New("entry").Parse(`// Code generated by exitshim rewrite. DO NOT EDIT.

package {{.Package}}

import {{.Import}} "{{.RedirectImport}}"

func init() {
	{{.Import}}.MustRegister({{.Import}}.Rename({{printf "%q" .RegisterAs}}, {{.Import}}.FromGoMain({{.EntryName}})))
}
`))

// EntryFile renders the init file registering a renamed entry point.
func EntryFile(cfg Config) ([]byte, error) {
	cfg = cfg.withDefaults()
	data := struct {
		Config
		Import string
	}{cfg, unusedName(cfg.reserved, path.Base(cfg.RedirectImport))}

	var buf bytes.Buffer
	if err := entryTmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render entry file: %w", err)
	}
	return format.Source(buf.Bytes())
}
