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

// GBBHeaderSize is the fixed, bit-exact size of the GBB header: the 4-byte
// signature plus the fields below (not counting the variable-length
// regions the offsets point at).
const GBBHeaderSize = 56

// GBBHeader is the factory-set, read-only Google Binary Block header.
// Every *Offset field is relative to the start of the GBB resource, not
// to the workbuf.
type GBBHeader struct {
	MajorVersion uint16
	MinorVersion uint16
	HeaderSize   uint32

	HWIDOffset uint32
	HWIDSize   uint32

	Bitmap1Offset uint32
	Bitmap1Size   uint32
	Bitmap2Offset uint32
	Bitmap2Size   uint32

	RootKeyOffset uint32
	RootKeySize   uint32

	RecoveryKeyOffset uint32
	RecoveryKeySize   uint32

	Flags uint32
}

// validateGBBSignature checks the xor-scrambled 4-byte magic. The
// scramble is cosmetic (spec.md §3: "not a security property"); this
// only exists so a raw string search for "$GBB" in a firmware image
// doesn't match the header by accident.
func validateGBBSignature(sig [4]byte) error {
	for i := range sig {
		if sig[i] != (gbbSignatureXOR[i] ^ gbbSignatureChars[i]) {
			return NewError(KindGBBMagic, "signature does not match scrambled $GBB magic")
		}
	}
	return nil
}

// parseGBBHeader decodes the fixed portion of a GBB header from buf,
// which must be at least GBBHeaderSize bytes (the 4-byte magic included).
func parseGBBHeader(buf []byte) (*GBBHeader, error) {
	c := newLECursor(buf)
	var sig [4]byte
	copy(sig[:], c.bytes(4))
	if !c.ok() {
		return nil, c.err
	}
	if err := validateGBBSignature(sig); err != nil {
		return nil, err
	}

	h := &GBBHeader{}
	h.MajorVersion = c.u16()
	h.MinorVersion = c.u16()
	h.HeaderSize = c.u32()
	h.HWIDOffset = c.u32()
	h.HWIDSize = c.u32()
	h.Bitmap1Offset = c.u32()
	h.Bitmap1Size = c.u32()
	h.Bitmap2Offset = c.u32()
	h.Bitmap2Size = c.u32()
	h.RootKeyOffset = c.u32()
	h.RootKeySize = c.u32()
	h.RecoveryKeyOffset = c.u32()
	h.RecoveryKeySize = c.u32()
	h.Flags = c.u32()
	if !c.ok() {
		return nil, c.err
	}

	if h.MajorVersion != GBBMajorVersion {
		return nil, NewError(KindGBBVersion, "incompatible GBB major version")
	}
	if h.MinorVersion < GBBMinorVersion {
		return nil, NewError(KindGBBTooOld, "GBB minor version predates this implementation")
	}
	if h.HeaderSize < GBBHeaderSize {
		return nil, NewError(KindGBBHeaderSize, "header_size smaller than expected")
	}

	return h, nil
}

// fwInitGBB reads the GBB header via ctx.ReadResource, pins it
// permanently at the base of the workbuf (mirroring vb2_fw_init_gbb),
// and folds VB2_GBB_FLAG_DISABLE_FWMP into ctx.Flags.
func fwInitGBB(ctx *Context) error {
	sd := ctx.SharedData()
	wb := ctx.freeWorkbuf()

	raw := wb.Alloc(GBBHeaderSize + 4)
	if raw == nil {
		return NewError(KindGBBWorkbuf, "no room in workbuf for GBB header")
	}

	if err := ctx.ReadResource(ResGBB, 0, GBBHeaderSize+4, raw[:GBBHeaderSize+4]); err != nil {
		return WrapError(KindGBBReadResource, err)
	}

	if _, err := parseGBBHeader(raw); err != nil {
		return err
	}

	sd.GBBOffset = ctx.offsetOf(raw)
	ctx.commit(wb)

	gbb, err := getGBB(ctx)
	if err != nil {
		return err
	}
	if gbb.Flags&GBBFlagDisableFwmp != 0 {
		ctx.Flags |= ContextNoSecdataFWMP
	}
	return nil
}

// getGBB returns the GBB header pinned by fwInitGBB.
func getGBB(ctx *Context) (*GBBHeader, error) {
	sd := ctx.SharedData()
	buf := ctx.memberOf(sd.GBBOffset)
	return parseGBBHeader(buf)
}
