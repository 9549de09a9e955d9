package application

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"
)

// OutputDir returns the directory a report for browser is written to:
// join(dir or "coverage", subdir or browser), resolved against basePath.
func OutputDir(basePath, browser, dir string, subdir Subdir) string {
	if dir == "" {
		dir = DefaultDir
	}
	out := filepath.Join(dir, subdir.Resolve(browser))
	if !filepath.IsAbs(out) {
		out = filepath.Join(basePath, out)
	}
	return filepath.ToSlash(out)
}

var subdirFuncs = template.FuncMap{
	"lower": strings.ToLower,
	"upper": strings.ToUpper,
	"first": func(s string) string {
		fields := strings.FieldsFunc(s, func(r rune) bool {
			return r == ' ' || r == '/' || r == '-'
		})
		if len(fields) == 0 {
			return s
		}
		return fields[0]
	},
}

// ParseSubdir turns a config value into a Subdir. Values containing "{{" are
// compiled as a text/template over {{.Browser}}; anything else is literal.
func ParseSubdir(value string) (Subdir, error) {
	if !strings.Contains(value, "{{") {
		return Subdir{Name: value}, nil
	}
	tmpl, err := template.New("subdir").Funcs(subdirFuncs).Option("missingkey=error").Parse(value)
	if err != nil {
		return Subdir{}, &ConfigError{Field: "subdir", Value: value, Err: fmt.Errorf("%w: %v", ErrInvalidSubdir, err)}
	}
	// Catch execution errors up front instead of on every report.
	if _, err := renderSubdir(tmpl, "Probe"); err != nil {
		return Subdir{}, &ConfigError{Field: "subdir", Value: value, Err: fmt.Errorf("%w: %v", ErrInvalidSubdir, err)}
	}
	return Subdir{
		Name: value,
		Func: func(browser string) string {
			out, err := renderSubdir(tmpl, browser)
			if err != nil {
				return browser
			}
			return out
		},
	}, nil
}

func renderSubdir(tmpl *template.Template, browser string) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, struct{ Browser string }{browser}); err != nil {
		return "", err
	}
	return buf.String(), nil
}
