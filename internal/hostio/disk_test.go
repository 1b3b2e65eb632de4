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

package hostio_test

import (
	"os"
	"path/filepath"

	. "github.com/snapcore/vboot2core/internal/hostio"
	. "gopkg.in/check.v1"
)

type diskSuite struct{}

var _ = Suite(&diskSuite{})

func (s *diskSuite) TestReadWriteLBA(c *C) {
	path := filepath.Join(c.MkDir(), "disk.img")
	c.Assert(os.WriteFile(path, make([]byte, 4*512), 0600), IsNil)

	disk, err := NewFileDisk(path, 512)
	c.Assert(err, IsNil)
	defer disk.Close()

	sector := make([]byte, 512)
	for i := range sector {
		sector[i] = 0xAB
	}
	c.Assert(disk.WriteLBA(nil, 2, 1, sector), IsNil)

	readBack := make([]byte, 512)
	c.Assert(disk.ReadLBA(nil, 2, 1, readBack), IsNil)
	c.Check(readBack, DeepEquals, sector)

	untouched := make([]byte, 512)
	c.Assert(disk.ReadLBA(nil, 0, 1, untouched), IsNil)
	c.Check(untouched, DeepEquals, make([]byte, 512))
}

func (s *diskSuite) TestReadLBABufferTooSmall(c *C) {
	path := filepath.Join(c.MkDir(), "disk.img")
	c.Assert(os.WriteFile(path, make([]byte, 512), 0600), IsNil)

	disk, err := NewFileDisk(path, 512)
	c.Assert(err, IsNil)
	defer disk.Close()

	err = disk.ReadLBA(nil, 0, 1, make([]byte, 10))
	c.Check(err, ErrorMatches, "buffer too small for 1 sectors")
}
