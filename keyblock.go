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

// keyblockHeaderSize covers, in wire order: magic(8) +
// header_version_major_u32(4) + header_version_minor_u32(4) +
// keyblock_size_u64(8) + keyblock_signature (sig_offset_u64 + sig_size_u64
// + data_size_u64 = 24) + data_key (key_offset_u64 + key_size_u64 +
// algorithm_u64 + key_version_u64 = 32) + keyblock_flags_u64(8).
const (
	keyblockSignatureStart = 24
	keyblockDataKeyStart   = keyblockSignatureStart + signatureHeaderSize
	keyblockHeaderSize     = keyblockDataKeyStart + packedKeyHeaderSize + 8
)

// KeyblockFlags mirror the historical developer/recovery gating bits a
// keyblock can carry (VB2_KEYBLOCK_FLAG_*).
type KeyblockFlags uint32

const (
	KeyblockFlagDeveloper0 KeyblockFlags = 1 << iota
	KeyblockFlagDeveloper1
	KeyblockFlagRecovery0
	KeyblockFlagRecovery1
)

// Keyblock is a verified, in-workbuf keyblock: the signed wrapper that
// certifies a data key with a root (or recovery) key.
type Keyblock struct {
	HeaderVersionMajor uint32
	HeaderVersionMinor uint32
	Size               uint64
	Flags              KeyblockFlags

	DataKey *PackedKey
}

// verifyKeyblock checks buf's magic and signature against signingKey, and
// on success returns the Keyblock along with its embedded data key
// unpacked into wb. Grounded on vb2_load_fw_keyblock's structure: read
// the fixed header, bounds-check the signature span, verify the signature
// over the recorded signed-data span, then unpack the data key embedded
// at its own self-relative offset. wb must be the same Workbuf buf itself
// was read into.
func verifyKeyblock(ctx *Context, wb *Workbuf, buf []byte, signingKey *PackedKey) (*Keyblock, error) {
	if len(buf) < keyblockHeaderSize {
		return nil, NewError(KindKeyblockSize, "buffer too small for keyblock header")
	}

	c := newLECursor(buf)
	var magic [8]byte
	copy(magic[:], c.bytes(8))
	if !c.ok() {
		return nil, c.err
	}
	if magic != KeyblockMagic {
		return nil, NewError(KindKeyblockMagic, "bad keyblock magic")
	}

	kb := &Keyblock{}
	kb.HeaderVersionMajor = c.u32()
	kb.HeaderVersionMinor = c.u32()
	kb.Size = c.u64()
	sig := readSignature(c)
	c.skip(packedKeyHeaderSize) // data_key header, unpacked separately below
	kb.Flags = KeyblockFlags(c.u64())
	if !c.ok() {
		return nil, c.err
	}

	if kb.Size > uint64(len(buf)) || kb.Size < keyblockDataKeyStart+packedKeyHeaderSize {
		return nil, NewError(KindKeyblockSize, "keyblock_size extends past buffer")
	}
	sigBytes, err := sig.slice(buf, keyblockSignatureStart, kb.Size)
	if err != nil {
		return nil, WrapError(KindKeyblockSigSize, err)
	}
	if sig.DataSize > kb.Size {
		return nil, NewError(KindKeyblockSigSize, "signed-data size extends past keyblock")
	}
	signedData := buf[:sig.DataSize]
	if err := verifySignature(signingKey, sigBytes, signedData); err != nil {
		return nil, WrapError(KindKeyblockSigInvalid, err)
	}

	dataKey, err := unpackKey(ctx, wb, buf[keyblockDataKeyStart:kb.Size])
	if err != nil {
		return nil, WrapError(KindKeyblockDataKeySize, err)
	}
	kb.DataKey = dataKey

	return kb, nil
}
