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
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"
	"math/big"

	"github.com/canonical/cpuid"
)

// logHashBackend emits a debug line, once per FirmwarePhase1, naming the
// CPU features this process could have used for hashing, purely
// diagnostic: this package
// always uses the portable crypto/sha* implementations regardless, since
// swapping in an ASM backend for the packed verification path is outside
// this core's scope, but knowing what the host CPU offers is useful when
// comparing timing across boot logs.
func logHashBackend(ctx *Context) {
	switch {
	case cpuid.HasExtendedFeature(cpuid.SHA):
		ctx.debugf("crypto: host CPU advertises SHA extensions (unused, portable backend active)\n")
	case cpuid.HasExtendedFeature(cpuid.AVX2):
		ctx.debugf("crypto: host CPU advertises AVX2 (unused, portable backend active)\n")
	default:
		ctx.debugf("crypto: no relevant CPU crypto extensions detected\n")
	}
}

func newHash(alg HashAlgorithm) (hash.Hash, crypto.Hash, error) {
	switch alg {
	case HashSHA1:
		return sha1.New(), crypto.SHA1, nil
	case HashSHA256:
		return sha256.New(), crypto.SHA256, nil
	case HashSHA512:
		return sha512.New(), crypto.SHA512, nil
	default:
		return nil, 0, NewError(KindDigestUnsupportedAlgorithm, "unsupported hash algorithm")
	}
}

// rsaPublicKeyFromPacked reconstructs a *rsa.PublicKey from a PackedKey's
// decoded modulus (see decodeModulus in packedkey.go), assuming the
// fixed public exponent every vboot2 signing key uses (F4, 65537).
// Packed keys never carry the exponent on the wire.
func rsaPublicKeyFromPacked(k *PackedKey) *rsa.PublicKey {
	n := new(big.Int).SetBytes(k.modulus)
	return &rsa.PublicKey{N: n, E: 65537}
}

// verifySignature checks that sig is alg's RSA-PKCS1v15 signature over
// data's digest, using pub. This is the one place this module reaches for
// crypto/rsa and crypto/sha* directly rather than a vendored algorithm:
// there is no correctness or maintenance argument for reimplementing
// PKCS1v15 verification when the standard library already provides a
// constant-time, audited version of exactly that primitive.
//
// sig is destroyed in place before returning, success or failure: a
// signature is only ever meant to be checked once per boot, and leaving
// its bytes live in the workbuf afterward would let a later, unrelated
// digest accidentally satisfy a stale comparison against them.
func verifySignature(pub *PackedKey, sig, data []byte) error {
	defer zeroBytes(sig)

	alg := pub.Algorithm.HashAlgorithm()
	h, cryptoHash, err := newHash(alg)
	if err != nil {
		return err
	}
	h.Write(data)
	sum := h.Sum(nil)

	rsaPub := rsaPublicKeyFromPacked(pub)
	if err := rsa.VerifyPKCS1v15(rsaPub, cryptoHash, sum, sig); err != nil {
		return NewError(KindSigInvalid, "signature verification failed")
	}
	return nil
}

// zeroBytes overwrites b in place. Used to destroy signature bytes once
// they've been checked.
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
