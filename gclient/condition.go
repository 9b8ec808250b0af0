// Copyright 2026 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package gclient

import (
	"go.starlark.net/starlark"

	"go.chromium.org/luci/common/errors"
)

// EvalCondition evaluates a DEPS condition expression against a
// document's expanded vars. Vars spelled "True"/"False" are bound as
// booleans, everything else as strings, matching gclient's own condition
// environment. The result must be a boolean: an expression that cannot be
// evaluated exactly is an error, never a guess, since a mis-evaluated
// condition silently changes which dependencies are pinned.
func EvalCondition(cond string, vars map[string]string) (bool, error) {
	env := starlark.StringDict{}
	for k, v := range vars {
		if !isIdentifier(k) {
			continue
		}
		switch v {
		case "True":
			env[k] = starlark.True
		case "False":
			env[k] = starlark.False
		default:
			env[k] = starlark.String(v)
		}
	}
	thread := &starlark.Thread{Name: "condition"}
	val, err := starlark.Eval(thread, "condition", cond, env)
	if err != nil {
		return false, ParseFailure.Apply(errors.Annotate(err, "evaluating condition %q", cond).Err())
	}
	b, ok := val.(starlark.Bool)
	if !ok {
		return false, ParseFailure.Apply(errors.Reason("condition %q evaluated to %s, not a bool", cond, val.Type()).Err())
	}
	return bool(b), nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
