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

package hostio

import (
	"io"
	"os"

	"golang.org/x/xerrors"

	vboot2 "github.com/snapcore/vboot2core"
)

// ImageSet maps each vboot2core resource index to a plain file standing in
// for the region of flash or disk a real host would point ReadResource at:
// GBB, either firmware vblock slot region concatenated into one file, the
// kernel vblock being probed, or the firmware body being hashed.
type ImageSet struct {
	Paths map[vboot2.ResourceIndex]string

	files map[vboot2.ResourceIndex]*os.File
}

// Open opens every configured image file for random access. Call Close
// when done.
func (s *ImageSet) Open() error {
	s.files = make(map[vboot2.ResourceIndex]*os.File, len(s.Paths))
	for idx, path := range s.Paths {
		f, err := os.Open(path)
		if err != nil {
			s.Close()
			return xerrors.Errorf("cannot open resource image %s: %w", path, err)
		}
		s.files[idx] = f
	}
	return nil
}

// Close releases every open image file.
func (s *ImageSet) Close() error {
	var first error
	for _, f := range s.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	s.files = nil
	return first
}

// ReadResource implements vboot2core.ReadResourceFunc over the opened
// image files.
func (s *ImageSet) ReadResource(index vboot2.ResourceIndex, offset, size uint32, buf []byte) error {
	f, ok := s.files[index]
	if !ok {
		return xerrors.Errorf("no image configured for resource %d", index)
	}
	n, err := f.ReadAt(buf[:size], int64(offset))
	if err != nil && err != io.EOF {
		return xerrors.Errorf("cannot read resource %d at offset %d: %w", index, offset, err)
	}
	if uint32(n) != size {
		return xerrors.Errorf("short read of resource %d: got %d of %d bytes", index, n, size)
	}
	return nil
}
