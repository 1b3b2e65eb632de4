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

	vboot2 "github.com/snapcore/vboot2core"

	. "github.com/snapcore/vboot2core/internal/hostio"
	. "gopkg.in/check.v1"
)

type resourcesSuite struct{}

var _ = Suite(&resourcesSuite{})

func (s *resourcesSuite) TestReadResource(c *C) {
	dir := c.MkDir()
	gbbPath := filepath.Join(dir, "gbb.bin")
	c.Assert(os.WriteFile(gbbPath, []byte("$GBBhello world"), 0600), IsNil)

	set := &ImageSet{Paths: map[vboot2.ResourceIndex]string{
		vboot2.ResGBB: gbbPath,
	}}
	c.Assert(set.Open(), IsNil)
	defer set.Close()

	buf := make([]byte, 5)
	c.Assert(set.ReadResource(vboot2.ResGBB, 4, 5, buf), IsNil)
	c.Check(string(buf), Equals, "hello")
}

func (s *resourcesSuite) TestReadResourceUnconfigured(c *C) {
	set := &ImageSet{Paths: map[vboot2.ResourceIndex]string{}}
	c.Assert(set.Open(), IsNil)
	defer set.Close()

	buf := make([]byte, 1)
	err := set.ReadResource(vboot2.ResGBB, 0, 1, buf)
	c.Check(err, ErrorMatches, "no image configured for resource 0")
}
