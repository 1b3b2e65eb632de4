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

package vboot2

import (
	. "gopkg.in/check.v1"
)

type nvdataSuite struct{}

var _ = Suite(&nvdataSuite{})

func (s *nvdataSuite) TestSetGetRoundTripsThroughCommit(c *C) {
	ctx := newTestContext(c)

	c.Assert(ctx.NVSet(NVLocalizationIndex, 7), IsNil)
	c.Assert(ctx.NVCommit(), IsNil)

	backend := ctx.NV.(*memBackend)
	c.Check(len(backend.data) > 0, Equals, true)

	fresh := newTestContext(c)
	fresh.NV = backend
	v, err := fresh.NVGet(NVLocalizationIndex)
	c.Assert(err, IsNil)
	c.Check(v, Equals, uint32(7))
}

func (s *nvdataSuite) TestUncommittedChangeNeverReachesBackend(c *C) {
	ctx := newTestContext(c)
	c.Assert(ctx.NVSet(NVLocalizationIndex, 3), IsNil)

	backend := ctx.NV.(*memBackend)
	c.Check(backend.data, IsNil)
}

func (s *nvdataSuite) TestCorruptBackendResetsToDefaults(c *C) {
	backend := &memBackend{data: []byte{0xDE, 0xAD, 0xBE, 0xEF}}
	ctx := newTestContext(c)
	ctx.NV = backend

	v, err := ctx.NVGet(NVLocalizationIndex)
	c.Assert(err, IsNil)
	c.Check(v, Equals, uint32(0))
}

func (s *nvdataSuite) TestNVDataV2RoundTrip(c *C) {
	ctx := newTestContext(c)
	ctx.Flags |= ContextNVDataV2

	c.Assert(ctx.NVSet(NVKernelMaxRollforward, 42), IsNil)
	c.Assert(ctx.NVCommit(), IsNil)

	backend := ctx.NV.(*memBackend)
	fresh := newTestContext(c)
	fresh.Flags |= ContextNVDataV2
	fresh.NV = backend

	v, err := fresh.NVGet(NVKernelMaxRollforward)
	c.Assert(err, IsNil)
	c.Check(v, Equals, uint32(42))
}
