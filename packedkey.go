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

// packedKeyHeaderSize is the fixed prefix of a PackedKey: key_offset_u64 +
// key_size_u64 + algorithm_u64 + key_version_u64, in that order. Every
// field is 64 bits wide and self-relative: key_offset counts from the
// start of this header, not from the start of whatever larger structure
// (keyblock, preamble) embeds it.
const packedKeyHeaderSize = 32

// rsaKeyHeaderSize is the fixed prefix of a PackedKey's raw modulus blob
// when the header is present: arraysize_u32 (the modulus width in 32-bit
// words) followed by n0inv_u32 (the Montgomery -1/n[0] mod 2^32 constant
// the original's bespoke modexp needs). Mirrors vb2's on-disk
// RSAPublicKey{len, n0inv, n[], rr[]} layout.
const rsaKeyHeaderSize = 8

// PackedKey is an on-disk RSA public key: the raw modulus/exponent data
// referenced by the wire key_offset/key_size is not itself parsed here,
// only sliced out and handed to the RSA verifier that knows the layout for
// Algorithm.KeyBits().
type PackedKey struct {
	Algorithm  SigAlgorithm
	KeyVersion uint32

	// keyData is the sliced-out modulus/exponent blob, already resident
	// in the workbuf; DataKeyOffset/DataKeySize bookkeeping points at
	// this, not at modulus.
	keyData []byte

	// modulus is N, in the big-endian byte order crypto/rsa expects,
	// decoded from keyData's little-endian n[] word array. n0inv is parsed
	// for fidelity to the wire format but otherwise unused, and the
	// precomputed rr[] is not read at all: crypto/rsa.VerifyPKCS1v15 does
	// its own modexp and has no use for the original's Montgomery constants.
	modulus []byte
	n0inv   uint32
}

// unpackKey parses a PackedKey whose fixed header lives at the start of
// buf, and copies its key data into wb (mirroring vb2_unpack_key's
// separation between "packed" and "unpacked" key representations, so the
// two can be reallocated independently of the keyblock they came from).
// wb must be the same Workbuf the caller is using for the rest of the
// structure buf came from: allocating a fresh one here would let this
// key's bytes alias whatever the caller has not yet committed to
// ctx.workbufUsed.
func unpackKey(ctx *Context, wb *Workbuf, buf []byte) (*PackedKey, error) {
	c := newLECursor(buf)
	keyOffset := c.u64()
	keySize := c.u64()
	algo := SigAlgorithm(c.u64())
	keyVersion := c.u64()
	if !c.ok() {
		return nil, c.err
	}

	if !algo.valid() {
		return nil, NewError(KindUnpackKeyAlgorithm, "unrecognized signature algorithm")
	}
	if keyVersion > MaxKeyVersion {
		return nil, NewError(KindUnpackKeySize, "key version out of range")
	}
	wordBytes := uint64(algo.KeyBits() / 8)
	wantSize := wordBytes * 2
	if keySize != wantSize && keySize != wantSize+rsaKeyHeaderSize {
		return nil, NewError(KindUnpackKeySize, "key size does not match algorithm")
	}
	if keyOffset+keySize > uint64(len(buf)) {
		return nil, NewError(KindUnpackKeyBufferSize, "key data extends past buffer")
	}

	dst := wb.Alloc(uint32(keySize))
	if dst == nil {
		return nil, NewError(KindUnpackKeyBufferSize, "no room in workbuf for key data")
	}
	copy(dst, buf[keyOffset:keyOffset+keySize])

	modulus, n0inv, err := decodeModulus(dst, uint32(wordBytes), uint32(algo.KeyBits()/32))
	if err != nil {
		return nil, err
	}

	return &PackedKey{Algorithm: algo, KeyVersion: uint32(keyVersion), keyData: dst, modulus: modulus, n0inv: n0inv}, nil
}

// decodeModulus extracts N, in big-endian byte order, from keyData's
// little-endian n[] word array, validating the optional
// {arraysize, n0inv} header against the algorithm's expected word count
// when present. wordBytes is keyBits/8; numWords is keyBits/32.
func decodeModulus(keyData []byte, wordBytes, numWords uint32) ([]byte, uint32, error) {
	var n0inv uint32
	nWords := keyData
	if uint32(len(keyData)) == wordBytes*2+rsaKeyHeaderSize {
		arraySize := leUint32(keyData[0:4])
		if arraySize != numWords {
			return nil, 0, NewError(KindUnpackKeyArraySize, "modulus array size does not match algorithm")
		}
		n0inv = leUint32(keyData[4:8])
		nWords = keyData[rsaKeyHeaderSize : rsaKeyHeaderSize+wordBytes]
	} else {
		nWords = keyData[:wordBytes]
	}
	return leWordsToBigEndian(nWords), n0inv, nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// leWordsToBigEndian reverses a little-endian array of 32-bit words (word
// 0 least significant, and each word itself little-endian on the wire, as
// the rest of this module's structures are) into the big-endian byte
// string big.Int.SetBytes expects.
func leWordsToBigEndian(words []byte) []byte {
	out := make([]byte, len(words))
	numWords := len(words) / 4
	for i := 0; i < numWords; i++ {
		word := words[i*4 : i*4+4]
		dst := (numWords - 1 - i) * 4
		out[dst], out[dst+1], out[dst+2], out[dst+3] = word[3], word[2], word[1], word[0]
	}
	return out
}

func (k *PackedKey) valid() bool {
	return k.Algorithm.valid() && len(k.keyData) > 0 && len(k.modulus) > 0
}
