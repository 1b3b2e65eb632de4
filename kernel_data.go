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

// GetKernelSize returns the body size a caller must allocate before
// calling VerifyKernelData for this kernel preamble.
func GetKernelSize(pre *KernelPreamble) (uint32, error) {
	if pre == nil {
		return 0, NewError(KindAPIGetKernelSizePreamble, "no kernel preamble loaded")
	}
	return pre.BodySize, nil
}

// VerifyKernelData checks the kernel data key's signature (not a digest)
// over the whole kernel body, using bodySig as returned by
// LoadKernelVblock. This preserves a historical quirk of the original
// implementation: unlike firmware bodies, kernel bodies were always
// signature-checked directly rather than hashed and compared against a
// preamble-embedded digest, and this core keeps that behavior rather than
// "fixing" it to match the firmware path (spec.md §9).
func VerifyKernelData(dataKey *PackedKey, body, bodySig []byte, pre *KernelPreamble) error {
	if pre == nil {
		return NewError(KindAPIVerifyKDataPreamble, "no kernel preamble loaded")
	}
	if uint32(len(body)) != pre.BodySize {
		return NewError(KindAPIVerifyKDataSize, "kernel body size does not match preamble")
	}
	if err := verifySignature(dataKey, bodySig, body); err != nil {
		return WrapError(KindAPIVerifyKDataKey, err)
	}
	return nil
}
