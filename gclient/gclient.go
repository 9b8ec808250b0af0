// Copyright 2026 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package gclient evaluates DEPS dependency declarations without requiring
// a depot_tools checkout.
//
// A DEPS file is a restricted Python document assigning a handful of
// well-known globals (vars, deps, recursedeps, use_relative_paths). The
// restricted subset is also valid Starlark, so the document is executed
// with go.starlark.net under a predeclared environment matching gclient's
// own evaluator: Var(name) yields the "{name}" placeholder that is later
// substituted from the vars dict, and Str is the identity wrapper.
package gclient

import (
	"net/url"
	"regexp"
	"strings"

	"go.starlark.net/starlark"

	"go.chromium.org/luci/common/errors"
)

// ParseFailure tags errors caused by a malformed DEPS document or
// condition expression. Such errors are fatal and never retried.
var ParseFailure = errors.BoolTag{Key: errors.NewTagKey("deps_parse_failure")}

// Dep is a single git dependency declared in a DEPS file.
type Dep struct {
	// Path is the checkout location, relative to the solution root.
	Path string
	// URL is the normalized repository URL, without the @revision pin.
	URL string
	// Rev is the pinned committish. Empty when the declaration is
	// unpinned.
	Rev string
	// Condition is the raw gating expression, empty when unconditional.
	Condition string
}

// Recurse names a nested DEPS document to descend into.
type Recurse struct {
	// Path is the dependency path whose repository holds the document.
	Path string
	// DepsFile is the file name within that repository, "DEPS" unless
	// the declaration used the (path, filename) tuple form.
	DepsFile string
}

// File is the evaluated content of one DEPS document.
type File struct {
	// Vars holds the document's variables, fully expanded, with any
	// caller overrides applied.
	Vars map[string]string
	// Deps maps path -> declaration for every git dependency.
	Deps map[string]*Dep
	// Recurse lists the dependencies whose own DEPS must be walked.
	Recurse []Recurse
	// UseRelativePaths reports whether the document's paths are
	// relative to the path of the dependency that declared it.
	UseRelativePaths bool

	// CIPDDeps and GCSDeps count declarations of those dep_types; they
	// carry no git revision to pin and are dropped from Deps.
	CIPDDeps int
	GCSDeps  int
}

// Parse evaluates a DEPS document. name identifies the document in error
// messages. overrides are applied on top of the document's own vars, the
// way gclient applies custom_vars.
func Parse(name, content string, overrides map[string]string) (*File, error) {
	f, err := parse(name, content, overrides)
	if err != nil {
		return nil, ParseFailure.Apply(errors.Annotate(err, "parsing %s", name).Err())
	}
	return f, nil
}

func parse(name, content string, overrides map[string]string) (*File, error) {
	globals, err := evalDocument(name, content)
	if err != nil {
		return nil, err
	}

	vars, err := varsFrom(globals, overrides)
	if err != nil {
		return nil, err
	}

	f := &File{
		Vars: vars,
		Deps: map[string]*Dep{},
	}
	if err := depsFrom(globals, vars, f); err != nil {
		return nil, err
	}
	if err := recurseFrom(globals, vars, f); err != nil {
		return nil, err
	}

	if v, ok := globals["use_relative_paths"]; ok {
		b, ok := v.(starlark.Bool)
		if !ok {
			return nil, errors.Reason("use_relative_paths is %s, not a bool", v.Type()).Err()
		}
		f.UseRelativePaths = bool(b)
	}
	return f, nil
}

func evalDocument(name, content string) (starlark.StringDict, error) {
	thread := &starlark.Thread{Name: "deps"}
	predeclared := starlark.StringDict{
		"Var": starlark.NewBuiltin("Var", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
				return nil, err
			}
			return starlark.String("{" + name + "}"), nil
		}),
		"Str": starlark.NewBuiltin("Str", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var s string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
				return nil, err
			}
			return starlark.String(s), nil
		}),
	}
	globals, err := starlark.ExecFile(thread, name, content, predeclared)
	if err != nil {
		return nil, errors.Annotate(err, "evaluating document").Err()
	}
	return globals, nil
}

// varsFrom converts the document's vars dict to strings, applies
// overrides, and expands every "{name}" placeholder to a fixpoint.
func varsFrom(globals starlark.StringDict, overrides map[string]string) (map[string]string, error) {
	raw := map[string]string{}
	if v, ok := globals["vars"]; ok {
		d, ok := v.(*starlark.Dict)
		if !ok {
			return nil, errors.Reason("vars is %s, not a dict", v.Type()).Err()
		}
		for _, item := range d.Items() {
			key, ok := starlark.AsString(item[0])
			if !ok {
				return nil, errors.Reason("vars key %s is not a string", item[0].String()).Err()
			}
			s, err := varString(item[1])
			if err != nil {
				return nil, errors.Annotate(err, "var %q", key).Err()
			}
			raw[key] = s
		}
	}
	for k, v := range overrides {
		raw[k] = v
	}

	vars := make(map[string]string, len(raw))
	for k, v := range raw {
		expanded, err := expand(v, raw)
		if err != nil {
			return nil, errors.Annotate(err, "var %q", k).Err()
		}
		vars[k] = expanded
	}
	return vars, nil
}

func varString(v starlark.Value) (string, error) {
	switch t := v.(type) {
	case starlark.String:
		return string(t), nil
	case starlark.Bool:
		// Conditions compare against Python spellings.
		if bool(t) {
			return "True", nil
		}
		return "False", nil
	case starlark.Int:
		return t.String(), nil
	}
	return "", errors.Reason("unsupported value type %s", v.Type()).Err()
}

var placeholderRe = regexp.MustCompile(`\{[A-Za-z_][A-Za-z0-9_]*\}`)

// expand substitutes "{name}" placeholders from vars until none remain.
// Replacement values may themselves contain placeholders, so substitution
// repeats; the iteration cap turns reference cycles into errors.
func expand(s string, vars map[string]string) (string, error) {
	for i := 0; i < 10; i++ {
		if !strings.Contains(s, "{") {
			return s, nil
		}
		var undefined string
		replaced := false
		s = placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
			val, ok := vars[m[1:len(m)-1]]
			if !ok {
				undefined = m[1 : len(m)-1]
				return m
			}
			replaced = true
			return val
		})
		if undefined != "" {
			return "", errors.Reason("undefined var %q in %q", undefined, s).Err()
		}
		if !replaced {
			return s, nil
		}
	}
	return "", errors.Reason("var expansion of %q did not terminate, reference cycle?", s).Err()
}

func depsFrom(globals starlark.StringDict, vars map[string]string, f *File) error {
	v, ok := globals["deps"]
	if !ok {
		return nil
	}
	d, ok := v.(*starlark.Dict)
	if !ok {
		return errors.Reason("deps is %s, not a dict", v.Type()).Err()
	}
	for _, item := range d.Items() {
		rawPath, ok := starlark.AsString(item[0])
		if !ok {
			return errors.Reason("deps key %s is not a string", item[0].String()).Err()
		}
		path, err := expand(rawPath, vars)
		if err != nil {
			return errors.Annotate(err, "deps key %q", rawPath).Err()
		}
		dep, err := depFrom(path, item[1], vars, f)
		if err != nil {
			return errors.Annotate(err, "deps[%q]", path).Err()
		}
		if dep != nil {
			f.Deps[path] = dep
		}
	}
	return nil
}

// depFrom converts one deps dict value. It returns (nil, nil) for
// declarations that have no git repository to pin (cipd and gcs).
func depFrom(path string, v starlark.Value, vars map[string]string, f *File) (*Dep, error) {
	var pin, condition string
	switch val := v.(type) {
	case starlark.String:
		pin = string(val)
	case *starlark.Dict:
		depType, _, err := dictString(val, "dep_type")
		if err != nil {
			return nil, err
		}
		switch depType {
		case "", "git":
		case "cipd":
			f.CIPDDeps++
			return nil, nil
		case "gcs":
			f.GCSDeps++
			return nil, nil
		default:
			return nil, errors.Reason("unknown dep_type %q", depType).Err()
		}
		url, found, err := dictString(val, "url")
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, errors.Reason("missing url").Err()
		}
		pin = url
		if condition, _, err = dictString(val, "condition"); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Reason("value is %s, not a string or dict", v.Type()).Err()
	}

	expanded, err := expand(pin, vars)
	if err != nil {
		return nil, err
	}
	url, rev := SplitRev(expanded)
	return &Dep{
		Path:      path,
		URL:       NormalizeURL(url),
		Rev:       rev,
		Condition: strings.TrimSpace(condition),
	}, nil
}

func dictString(d *starlark.Dict, key string) (s string, found bool, err error) {
	v, found, err := d.Get(starlark.String(key))
	if err != nil || !found {
		return "", found, err
	}
	s, ok := starlark.AsString(v)
	if !ok {
		return "", true, errors.Reason("%q is %s, not a string", key, v.Type()).Err()
	}
	return s, true, nil
}

func recurseFrom(globals starlark.StringDict, vars map[string]string, f *File) error {
	v, ok := globals["recursedeps"]
	if !ok {
		return nil
	}
	l, ok := v.(*starlark.List)
	if !ok {
		return errors.Reason("recursedeps is %s, not a list", v.Type()).Err()
	}
	for i := 0; i < l.Len(); i++ {
		r := Recurse{DepsFile: "DEPS"}
		switch e := l.Index(i).(type) {
		case starlark.String:
			r.Path = string(e)
		case starlark.Tuple:
			// (path, filename): descend into a non-default deps file.
			if e.Len() != 2 {
				return errors.Reason("recursedeps[%d] tuple has %d elements, want 2", i, e.Len()).Err()
			}
			p, okP := starlark.AsString(e.Index(0))
			file, okF := starlark.AsString(e.Index(1))
			if !okP || !okF {
				return errors.Reason("recursedeps[%d] tuple elements are not strings", i).Err()
			}
			r.Path, r.DepsFile = p, file
		default:
			return errors.Reason("recursedeps[%d] is %s, not a string or tuple", i, e.Type()).Err()
		}
		p, err := expand(r.Path, vars)
		if err != nil {
			return errors.Annotate(err, "recursedeps[%d]", i).Err()
		}
		r.Path = p
		f.Recurse = append(f.Recurse, r)
	}
	return nil
}

// SplitRev splits a "url@rev" pin on the last "@". Pins without a
// revision return an empty rev.
func SplitRev(pin string) (url, rev string) {
	if i := strings.LastIndex(pin, "@"); i >= 0 {
		return pin[:i], pin[i+1:]
	}
	return pin, ""
}

// NormalizeURL canonicalizes a repository URL for content addressing:
// fetch-scheme decorations and suffixes that do not change the repository
// identity are stripped.
func NormalizeURL(raw string) string {
	u := strings.TrimSpace(raw)
	u = strings.TrimPrefix(u, "git+")
	u = strings.TrimSuffix(u, "/")
	// *.googlesource.com serves the same repository with and without the
	// .git suffix; other hosts may not.
	if strings.HasSuffix(hostOf(u), ".googlesource.com") {
		u = strings.TrimSuffix(u, ".git")
	}
	return u
}

func hostOf(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}
