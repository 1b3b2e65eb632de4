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
	"errors"
	"io"

	. "gopkg.in/check.v1"
)

type errorsSuite struct{}

var _ = Suite(&errorsSuite{})

func (s *errorsSuite) TestKindOfExtractsKind(c *C) {
	err := NewError(KindGBBMagic, "bad magic")
	c.Check(KindOf(err), Equals, KindGBBMagic)
}

func (s *errorsSuite) TestKindOfNonVbootError(c *C) {
	c.Check(KindOf(io.EOF), Equals, KindNone)
	c.Check(KindOf(nil), Equals, KindNone)
}

func (s *errorsSuite) TestWrapErrorUnwraps(c *C) {
	cause := io.ErrUnexpectedEOF
	err := WrapError(KindNVWrite, cause)
	c.Check(errors.Is(err, cause), Equals, true)
	c.Check(errors.Unwrap(err), Equals, cause)
}

func (s *errorsSuite) TestErrorIsMatchesKind(c *C) {
	err := NewError(KindKeyblockMagic, "")
	c.Check(errors.Is(err, KindKeyblockMagic), Equals, true)
	c.Check(errors.Is(err, KindKeyblockSize), Equals, false)
}

func (s *errorsSuite) TestSubcodeTruncatesTo8Bits(c *C) {
	var k ErrorKind = 0x1FF
	c.Check(k.Subcode(), Equals, uint8(0xFF))
}

func (s *errorsSuite) TestErrorStringFallsBackToKindName(c *C) {
	err := NewError(KindFWBodySize, "")
	c.Check(err.Error(), Equals, KindFWBodySize.String())
}

func (s *errorsSuite) TestUnknownKindStringifiesNumerically(c *C) {
	var k ErrorKind = 0xFFFFFFF0
	c.Check(k.String(), Matches, "errorkind\\(.*\\)")
}
