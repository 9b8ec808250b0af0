// Copyright 2026 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package manifest

import (
	"os"
	"path/filepath"

	"go.chromium.org/luci/common/errors"
)

// WriteFailure tags filesystem errors from Write. When it is set the
// original manifest file is guaranteed to be intact.
var WriteFailure = errors.BoolTag{Key: errors.NewTagKey("manifest_write_failure")}

// Write atomically replaces the file at path with the serialized document:
// the document is written to a temporary file in the same directory first
// and renamed over the target in one step, so a concurrent reader never
// observes a partially-written manifest. The temporary file is removed on
// every failure path.
func (m *Manifest) Write(path string) error {
	if err := writeFileAtomic(path, m.Bytes()); err != nil {
		return WriteFailure.Apply(errors.Annotate(err, "writing manifest %s", path).Err())
	}
	return nil
}

func writeFileAtomic(filename string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(filename), ".tmp_"+filepath.Base(filename))
	if err != nil {
		return err
	}

	// Best effort cleanup in case something goes wrong.
	defer func() {
		if f != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if _, err := f.Write(data); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(f.Name(), filename); err != nil {
		return err
	}
	f = nil // prevent defer from trying to remove the temporary file

	return nil
}
