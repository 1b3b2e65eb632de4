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
	"encoding/binary"

	"golang.org/x/crypto/cryptobyte"
)

// leCursor is a bounds-checked reading cursor over an on-disk structure.
// cryptobyte.String already refuses to read past the end of the backing
// slice; we only add little-endian fixed-width readers on top of it,
// since every wire format in this package (spec.md §6) is little-endian
// and cryptobyte's own ReadUint16/24/32 assume network (big-endian)
// order.
type leCursor struct {
	s   cryptobyte.String
	err error
}

func newLECursor(buf []byte) *leCursor {
	return &leCursor{s: cryptobyte.String(buf)}
}

func (c *leCursor) ok() bool { return c.err == nil }

func (c *leCursor) bytes(n int) []byte {
	if c.err != nil {
		return nil
	}
	var out []byte
	if !c.s.ReadBytes(&out, n) {
		c.err = NewError(KindUnpackKeyBufferSize, "read past end of buffer")
		return nil
	}
	return out
}

func (c *leCursor) u32() uint32 {
	b := c.bytes(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (c *leCursor) u64() uint64 {
	b := c.bytes(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (c *leCursor) u16() uint16 {
	b := c.bytes(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (c *leCursor) skip(n int) {
	c.bytes(n)
}

// remaining reports how many bytes cryptobyte still has buffered.
func (c *leCursor) remaining() int { return len(c.s) }

// signatureHeaderSize is sig_offset_u64 + sig_size_u64 + data_size_u64:
// the fixed shape every keyblock_signature, preamble_signature and
// body_signature field shares (spec.md §6).
const signatureHeaderSize = 24

// wireSignature is that self-relative offset/size/data-size triple.
// Offset and Size locate the signature bytes relative to the start of
// this struct within its enclosing buffer (not relative to the buffer's
// own start); DataSize records how many leading bytes of the enclosing
// buffer the signature actually covers.
type wireSignature struct {
	Offset   uint64
	Size     uint64
	DataSize uint64
}

func readSignature(c *leCursor) wireSignature {
	return wireSignature{Offset: c.u64(), Size: c.u64(), DataSize: c.u64()}
}

// slice returns the signature bytes referenced by s, self-relative to
// structStart within buf, bounds-checked against limit (the size of the
// enclosing structure).
func (s wireSignature) slice(buf []byte, structStart, limit uint64) ([]byte, error) {
	start := structStart + s.Offset
	end := start + s.Size
	if end < start || end > limit || end > uint64(len(buf)) {
		return nil, NewError(KindUnpackKeyBufferSize, "signature data extends past buffer")
	}
	return buf[start:end], nil
}
