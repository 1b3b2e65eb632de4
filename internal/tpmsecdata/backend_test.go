// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2024 Canonical Ltd
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

package tpmsecdata_test

import (
	. "github.com/snapcore/vboot2core/internal/tpmsecdata"
	. "gopkg.in/check.v1"
)

type backendSuite struct{}

var _ = Suite(&backendSuite{})

// TestWriteTooLarge exercises the size check that runs before Backend ever
// touches the TPM, so it needs no live device or simulator: a nil
// *tpm2.TPMContext is fine because Write returns before dereferencing it.
func (s *backendSuite) TestWriteTooLarge(c *C) {
	b := NewBackendForTest(nil, HandleSecdataFirmware, 8)
	err := b.Write(make([]byte, 9))
	c.Check(err, ErrorMatches, `data of 9 bytes exceeds index size 8`)
}

