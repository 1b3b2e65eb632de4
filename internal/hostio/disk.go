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
	"os"

	"golang.org/x/xerrors"
)

// FileDisk implements vboot2core.DiskIO against a single flat file, treated
// as an array of fixed-size logical blocks. handle is ignored: a
// development workstation only ever has the one disk image open at a time,
// unlike a real host that would use handle to distinguish removable media.
type FileDisk struct {
	f          *os.File
	sectorSize uint64
}

// NewFileDisk opens path for LBA-addressed reads and writes at the given
// sector size.
func NewFileDisk(path string, sectorSize uint64) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, xerrors.Errorf("cannot open disk image %s: %w", path, err)
	}
	return &FileDisk{f: f, sectorSize: sectorSize}, nil
}

// Close releases the underlying file.
func (d *FileDisk) Close() error {
	return d.f.Close()
}

func (d *FileDisk) offset(lba uint64) int64 {
	return int64(lba * d.sectorSize)
}

// ReadLBA reads lbaCount sectors starting at lbaStart into buf.
func (d *FileDisk) ReadLBA(handle any, lbaStart, lbaCount uint64, buf []byte) error {
	want := lbaCount * d.sectorSize
	if uint64(len(buf)) < want {
		return xerrors.Errorf("buffer too small for %d sectors", lbaCount)
	}
	n, err := d.f.ReadAt(buf[:want], d.offset(lbaStart))
	if err != nil {
		return xerrors.Errorf("cannot read disk image: %w", err)
	}
	if uint64(n) != want {
		return xerrors.Errorf("short read from disk image: got %d of %d bytes", n, want)
	}
	return nil
}

// WriteLBA writes lbaCount sectors starting at lbaStart from buf.
func (d *FileDisk) WriteLBA(handle any, lbaStart, lbaCount uint64, buf []byte) error {
	want := lbaCount * d.sectorSize
	if uint64(len(buf)) < want {
		return xerrors.Errorf("buffer too small for %d sectors", lbaCount)
	}
	n, err := d.f.WriteAt(buf[:want], d.offset(lbaStart))
	if err != nil {
		return xerrors.Errorf("cannot write disk image: %w", err)
	}
	if uint64(n) != want {
		return xerrors.Errorf("short write to disk image: wrote %d of %d bytes", n, want)
	}
	return nil
}
