// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2019 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package hostio provides the plain-file collaborators cmd/vbootsim wires
// into vboot2core.Context on a development workstation: nvdata and secdata
// backed by ordinary files instead of flash or a TPM, and a ReadResource
// implementation over disk image files instead of real firmware/kernel
// partitions.
package hostio

import (
	"os"

	"github.com/snapcore/snapd/osutil"
	"github.com/snapcore/snapd/osutil/sys"

	"golang.org/x/xerrors"
)

// FileStore implements both vboot2core.NvdataBackend and
// vboot2core.SecdataBackend against a single file, written atomically the
// same way keydata_file.go persists sealed key data: a temporary file
// renamed into place, never a truncate-in-place write that could leave a
// torn nvdata blob behind a crash mid-write.
type FileStore struct {
	Path string
}

// NewFileStore returns a FileStore rooted at path. The file need not exist
// yet; Read reports (nil, nil) until the first Write.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Read returns the store's current contents, or (nil, nil) if path has
// never been written.
func (s *FileStore) Read() ([]byte, error) {
	data, err := os.ReadFile(s.Path)
	switch {
	case os.IsNotExist(err):
		return nil, nil
	case err != nil:
		return nil, xerrors.Errorf("cannot read %s: %w", s.Path, err)
	}
	return data, nil
}

// Write atomically replaces path's contents with data.
func (s *FileStore) Write(data []byte) error {
	f, err := osutil.NewAtomicFile(s.Path, 0600, 0, sys.UserID(osutil.NoChown), sys.GroupID(osutil.NoChown))
	if err != nil {
		return xerrors.Errorf("cannot create atomic file for %s: %w", s.Path, err)
	}
	defer f.Cancel()

	if _, err := f.Write(data); err != nil {
		return xerrors.Errorf("cannot write %s: %w", s.Path, err)
	}
	if err := f.Commit(); err != nil {
		return xerrors.Errorf("cannot atomically replace %s: %w", s.Path, err)
	}
	return nil
}
