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

// fwPreambleHeaderSize covers, in wire order: preamble_size_u64(8) +
// preamble_signature (24) + header_version_major_u32(4) +
// header_version_minor_u32(4) + firmware_version_u64(8) + kernel_subkey
// (32) + body_signature (24) + flags_u32(4).
const (
	fwPreambleSignatureStart = 8
	fwPreambleVersionsStart  = fwPreambleSignatureStart + signatureHeaderSize
	fwPreambleSubkeyStart    = fwPreambleVersionsStart + 4 + 4 + 8
	fwPreambleBodySigStart   = fwPreambleSubkeyStart + packedKeyHeaderSize
	fwPreambleHeaderSize     = fwPreambleBodySigStart + signatureHeaderSize + 4
)

// FWPreamble is a verified firmware preamble: the signed record that
// certifies a firmware body's digest and version, and carries the kernel
// subkey used to certify the next stage's keyblock.
type FWPreamble struct {
	HeaderVersionMajor uint32
	HeaderVersionMinor uint32
	Size               uint64

	FirmwareVersion uint64
	BodySize        uint64

	// The body is hashed rather than RSA-signed directly (a firmware body
	// is far too large to sign in one RSA operation); the digest is
	// carried in the body_signature field's data instead, and the hash
	// algorithm is the same one dataKey uses to sign the preamble itself.
	BodyDigestAlgorithm HashAlgorithm
	BodyDigest          []byte

	KernelSubkey *PackedKey

	Flags uint32
}

// CompositeVersion returns the key_version<<16 | firmware_version value
// that rollback and roll-forward comparisons operate on (spec.md §4.4).
func (p *FWPreamble) CompositeVersion(dataKeyVersion uint32) uint32 {
	return dataKeyVersion<<16 | (uint32(p.FirmwareVersion) & 0xFFFF)
}

// verifyFWPreamble parses and verifies a firmware preamble in buf against
// dataKey, mirroring vb2_load_fw_preamble. wb must be the same Workbuf buf
// was read into.
func verifyFWPreamble(ctx *Context, wb *Workbuf, buf []byte, dataKey *PackedKey) (*FWPreamble, error) {
	if len(buf) < fwPreambleHeaderSize {
		return nil, NewError(KindPreambleSize, "buffer too small for preamble header")
	}

	c := newLECursor(buf)
	p := &FWPreamble{}
	preSize := c.u64()
	preSig := readSignature(c)
	p.HeaderVersionMajor = c.u32()
	p.HeaderVersionMinor = c.u32()
	p.FirmwareVersion = c.u64()
	c.skip(packedKeyHeaderSize) // kernel_subkey header, unpacked separately below
	bodySig := readSignature(c)
	p.Flags = c.u32()
	if !c.ok() {
		return nil, c.err
	}
	p.Size = preSize

	if p.Size > uint64(len(buf)) || p.Size < uint64(fwPreambleHeaderSize) {
		return nil, NewError(KindPreambleSize, "preamble_size extends past buffer")
	}

	sig, err := preSig.slice(buf, fwPreambleSignatureStart, p.Size)
	if err != nil {
		return nil, WrapError(KindPreambleSigSize, err)
	}
	if preSig.DataSize > p.Size {
		return nil, NewError(KindPreambleSigSize, "signed-data size extends past preamble")
	}
	signedData := buf[:preSig.DataSize]
	if err := verifySignature(dataKey, sig, signedData); err != nil {
		return nil, WrapError(KindPreambleSigInvalid, err)
	}

	subkey, err := unpackKey(ctx, wb, buf[fwPreambleSubkeyStart:p.Size])
	if err != nil {
		return nil, WrapError(KindPreambleSize, err)
	}
	p.KernelSubkey = subkey

	digest, err := bodySig.slice(buf, fwPreambleBodySigStart, p.Size)
	if err != nil {
		return nil, WrapError(KindPreambleSize, err)
	}
	p.BodyDigestAlgorithm = dataKey.Algorithm.HashAlgorithm()
	p.BodyDigest = append([]byte(nil), digest...)
	p.BodySize = bodySig.DataSize

	return p, nil
}

// kernelPreambleHeaderSize covers, in wire order: preamble_size_u64(8) +
// preamble_signature (24) + header_version_major_u32(4) +
// header_version_minor_u32(4) + kernel_version_u32(4) +
// body_load_address_u64(8) + body_signature (24) + flags_u32(4).
const (
	kernelPreambleSignatureStart = 8
	kernelPreambleFieldsStart    = kernelPreambleSignatureStart + signatureHeaderSize
	kernelPreambleBodySigStart   = kernelPreambleFieldsStart + 4 + 4 + 4 + 8
	kernelPreambleHeaderSize     = kernelPreambleBodySigStart + signatureHeaderSize + 4
)

// KernelPreamble is a verified kernel preamble. Unlike the firmware
// preamble it carries a signature over the kernel body rather than a bare
// digest: vb2api_verify_kernel_data still checks the body by signature,
// a historical quirk this implementation preserves rather than "fixes"
// (spec.md §9).
type KernelPreamble struct {
	HeaderVersionMajor uint32
	HeaderVersionMinor uint32
	Size               uint64

	KernelVersion   uint32
	BodyLoadAddress uint64

	BodySize uint32

	// Flags carries the preamble's flags with the kernel keyblock's
	// developer/recovery bits ORed in by LoadKernelVblock, so they travel
	// with the returned preamble; KernelPhase3 does not consult them.
	Flags uint32
}

// CompositeVersion mirrors FWPreamble.CompositeVersion for the kernel
// side: key_version<<16 | kernel_version.
func (p *KernelPreamble) CompositeVersion(dataKeyVersion uint32) uint32 {
	return dataKeyVersion<<16 | (p.KernelVersion & 0xFFFF)
}

func verifyKernelPreamble(buf []byte, dataKey *PackedKey) (*KernelPreamble, []byte, error) {
	if len(buf) < kernelPreambleHeaderSize {
		return nil, nil, NewError(KindPreambleSize, "buffer too small for kernel preamble header")
	}

	c := newLECursor(buf)
	p := &KernelPreamble{}
	preSize := c.u64()
	preSig := readSignature(c)
	p.HeaderVersionMajor = c.u32()
	p.HeaderVersionMinor = c.u32()
	p.KernelVersion = c.u32()
	p.BodyLoadAddress = c.u64()
	bodySig := readSignature(c)
	p.Flags = c.u32()
	if !c.ok() {
		return nil, nil, c.err
	}
	p.Size = preSize

	if p.Size > uint64(len(buf)) || p.Size < uint64(kernelPreambleHeaderSize) {
		return nil, nil, NewError(KindPreambleSize, "preamble_size extends past buffer")
	}

	sig, err := preSig.slice(buf, kernelPreambleSignatureStart, p.Size)
	if err != nil {
		return nil, nil, WrapError(KindPreambleSigSize, err)
	}
	if preSig.DataSize > p.Size {
		return nil, nil, NewError(KindPreambleSigSize, "signed-data size extends past preamble")
	}
	signedData := buf[:preSig.DataSize]
	if err := verifySignature(dataKey, sig, signedData); err != nil {
		return nil, nil, WrapError(KindPreambleSigInvalid, err)
	}

	bodySigBytes, err := bodySig.slice(buf, kernelPreambleBodySigStart, p.Size)
	if err != nil {
		return nil, nil, WrapError(KindPreambleSize, err)
	}
	p.BodySize = uint32(bodySig.DataSize)

	return p, append([]byte(nil), bodySigBytes...), nil
}
