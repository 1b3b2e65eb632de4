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

// Package vboot2 implements the core of a verified-boot runtime: signature
// verification of packed firmware and kernel images, rollback protection
// backed by tamper-evident secure storage, redundant-slot selection and
// the EC software-sync handshake, all operating out of a single
// pre-allocated workbuf with no dynamic allocation.
package vboot2

import (
	"errors"
	"fmt"
)

// ErrorKind is the flat error namespace every fallible core operation
// reports through. It is deliberately a single integer type rather than
// a tree of Go error types: several call sites (secdata write failure,
// api_fail) truncate a Kind to 8 bits to store it as an NV recovery
// subcode, and a namespace that doesn't survive truncation would silently
// corrupt that reporting.
type ErrorKind uint32

const (
	// KindNone is the zero value; it is never returned as an error.
	KindNone ErrorKind = iota

	KindWorkbufExhausted
	KindWorkbufInvalidOffset

	KindGBBMagic
	KindGBBVersion
	KindGBBTooOld
	KindGBBHeaderSize
	KindGBBReadResource
	KindGBBWorkbuf

	KindUnpackKeySize
	KindUnpackKeyAlgorithm
	KindUnpackKeyArraySize
	KindUnpackKeyBufferSize

	KindKeyblockMagic
	KindKeyblockSize
	KindKeyblockSigSize
	KindKeyblockDataKeySize
	KindKeyblockSigInvalid
	KindKeyblockWorkbuf

	KindPreambleSize
	KindPreambleSigSize
	KindPreambleSigInvalid
	KindPreambleWorkbuf
	KindPreambleHeaderVersion

	KindDigestUnsupportedAlgorithm
	KindSigInvalid
	KindSigWorkbuf

	KindFWKeyblockWorkbufRootKey
	KindFWKeyblockWorkbufHeader
	KindFWKeyblockWorkbuf
	KindFWKeyblockVersionRange
	KindFWKeyblockVersionRollback
	KindFWPreambleDataKey
	KindFWPreambleWorkbufHeader
	KindFWPreambleWorkbuf
	KindFWPreambleVersionRange
	KindFWPreambleVersionRollback
	KindFWBodyHashMismatch
	KindFWBodySize

	KindAPIKPhase1Preamble
	KindAPIVerifyKDataPreamble
	KindAPIVerifyKDataSize
	KindAPIVerifyKDataKey
	KindAPIVerifyKDataWorkbuf
	KindAPIGetKernelSizePreamble
	KindKernelKeyblockVersionRollback
	KindKernelPreambleVersionRollback

	KindSecdataFirmwareInit
	KindSecdataFirmwareWrite
	KindSecdataKernelInit
	KindSecdataKernelWrite
	KindSecdataFWMPInit
	KindSecdataFWMPWrite
	KindSecdataCRC
	KindSecdataVersion
	KindSecdataUninitialized

	KindNVCRC
	KindNVVersion
	KindNVSize
	KindNVWrite

	KindECTrust
	KindECUnknownImage
	KindECHashSize
	KindECExpectedHash
	KindECHashFailed
	KindECUpdate
	KindECRebootToROrequired
	KindECJumpRW
	KindECProtect
	KindECVbootDone

	KindTPMClearOwner
	KindNoSlotChosen

	KindReadResourceSize
	KindReadResourceIndex

	KindAuxFWSync
	KindAuxFWRebootRequired

	KindBatteryCutoff
)

var kindNames = map[ErrorKind]string{
	KindNone:                           "none",
	KindWorkbufExhausted:               "workbuf exhausted",
	KindWorkbufInvalidOffset:           "workbuf offset out of range",
	KindGBBMagic:                       "gbb: bad magic",
	KindGBBVersion:                     "gbb: incompatible major version",
	KindGBBTooOld:                      "gbb: minor version too old",
	KindGBBHeaderSize:                  "gbb: header size too small",
	KindGBBReadResource:                "gbb: read_resource failed",
	KindGBBWorkbuf:                     "gbb: workbuf allocation failed",
	KindUnpackKeySize:                  "unpack key: implausible size",
	KindUnpackKeyAlgorithm:             "unpack key: unknown algorithm",
	KindUnpackKeyArraySize:             "unpack key: bad modulus array size",
	KindUnpackKeyBufferSize:            "unpack key: key_offset+key_size exceeds buffer",
	KindKeyblockMagic:                  "keyblock: bad magic",
	KindKeyblockSize:                   "keyblock: implausible size",
	KindKeyblockSigSize:                "keyblock: signature exceeds keyblock",
	KindKeyblockDataKeySize:            "keyblock: data key exceeds keyblock",
	KindKeyblockSigInvalid:             "keyblock: signature verification failed",
	KindKeyblockWorkbuf:                "keyblock: workbuf allocation failed",
	KindPreambleSize:                   "preamble: implausible size",
	KindPreambleSigSize:                "preamble: signature exceeds preamble",
	KindPreambleSigInvalid:             "preamble: signature verification failed",
	KindPreambleWorkbuf:                "preamble: workbuf allocation failed",
	KindPreambleHeaderVersion:          "preamble: unsupported header version",
	KindDigestUnsupportedAlgorithm:     "digest: unsupported algorithm",
	KindSigInvalid:                     "signature verification failed",
	KindSigWorkbuf:                     "signature: workbuf allocation failed",
	KindFWKeyblockWorkbufRootKey:       "fw keyblock: workbuf allocation for root key failed",
	KindFWKeyblockWorkbufHeader:        "fw keyblock: workbuf allocation for header failed",
	KindFWKeyblockWorkbuf:              "fw keyblock: workbuf allocation failed",
	KindFWKeyblockVersionRange:         "fw keyblock: key version exceeds maximum",
	KindFWKeyblockVersionRollback:      "fw keyblock: key version rollback detected",
	KindFWPreambleDataKey:              "fw preamble: data key missing",
	KindFWPreambleWorkbufHeader:        "fw preamble: workbuf allocation for header failed",
	KindFWPreambleWorkbuf:              "fw preamble: workbuf allocation failed",
	KindFWPreambleVersionRange:         "fw preamble: body version exceeds maximum",
	KindFWPreambleVersionRollback:      "fw preamble: version rollback detected",
	KindFWBodyHashMismatch:             "fw body: hash does not match preamble signature",
	KindFWBodySize:                     "fw body: size does not match preamble",
	KindAPIKPhase1Preamble:             "kernel phase1: no firmware preamble loaded",
	KindAPIVerifyKDataPreamble:         "kernel data: no preamble loaded",
	KindAPIVerifyKDataSize:             "kernel data: size does not match preamble",
	KindAPIVerifyKDataKey:              "kernel data: data key missing",
	KindAPIVerifyKDataWorkbuf:          "kernel data: workbuf allocation failed",
	KindAPIGetKernelSizePreamble:       "kernel size: no preamble loaded",
	KindKernelKeyblockVersionRollback:  "kernel keyblock: version rollback detected",
	KindKernelPreambleVersionRollback:  "kernel preamble: version rollback detected",
	KindSecdataFirmwareInit:            "secdata_firmware: init failed",
	KindSecdataFirmwareWrite:           "secdata_firmware: write failed",
	KindSecdataKernelInit:              "secdata_kernel: init failed",
	KindSecdataKernelWrite:             "secdata_kernel: write failed",
	KindSecdataFWMPInit:                "secdata_fwmp: init failed",
	KindSecdataFWMPWrite:               "secdata_fwmp: write failed",
	KindSecdataCRC:                     "secdata: CRC mismatch",
	KindSecdataVersion:                 "secdata: unsupported struct version",
	KindSecdataUninitialized:           "secdata: read before init",
	KindNVCRC:                          "nvdata: CRC mismatch",
	KindNVVersion:                      "nvdata: unsupported struct version",
	KindNVSize:                         "nvdata: unexpected size",
	KindNVWrite:                        "nvdata: write failed",
	KindECTrust:                        "ec: not trusted",
	KindECUnknownImage:                 "ec: could not determine running image",
	KindECHashSize:                     "ec: hash size mismatch",
	KindECExpectedHash:                 "ec: expected hash unavailable",
	KindECHashFailed:                   "ec: hash command failed",
	KindECUpdate:                       "ec: reflash failed",
	KindECRebootToROrequired:           "ec: reboot to RO required",
	KindECJumpRW:                       "ec: jump to RW failed",
	KindECProtect:                      "ec: protect failed",
	KindECVbootDone:                    "ec: vboot_done failed",
	KindTPMClearOwner:                  "tpm: clear owner failed",
	KindNoSlotChosen:                   "no firmware slot chosen yet",
	KindReadResourceSize:               "read_resource: short read",
	KindReadResourceIndex:              "read_resource: unknown resource index",
	KindAuxFWSync:                      "auxfw: sync failed",
	KindAuxFWRebootRequired:            "auxfw: reboot required before update",
	KindBatteryCutoff:                  "battery cutoff: shutdown requested",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("errorkind(%d)", uint32(k))
}

// Subcode truncates the Kind to the 8 bits that fit in an NV recovery
// subcode slot. Several distinct Kinds alias to the same subcode; that's
// expected and matches the C implementation's use of a single byte.
func (k ErrorKind) Subcode() uint8 {
	return uint8(k)
}

// Error is the concrete error type returned by every vboot2 operation
// that fails for a reason internal to the boot chain of trust. Kind is
// the stable, truncatable code; the wrapped error (if any) carries
// collaborator-specific detail for logs, never for control flow.
type Error struct {
	Kind ErrorKind
	Msg  string
	err  error
}

func (e *Error) Error() string {
	if e.Msg == "" && e.err == nil {
		return e.Kind.String()
	}
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.err }

// Is lets callers write errors.Is(err, vboot2.KindFWPreambleVersionRollback)
// without a type assertion.
func (e *Error) Is(target error) bool {
	if k, ok := target.(ErrorKind); ok {
		return e.Kind == k
	}
	return false
}

func (k ErrorKind) Error() string { return k.String() }

// NewError builds an *Error with a debug message and no wrapped cause.
func NewError(kind ErrorKind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// WrapError builds an *Error that wraps a collaborator error (a
// read_resource, disk, EC or secdata backend failure) under the given
// Kind, following the xerrors.Errorf("...: %w", err) idiom used
// throughout the rest of this module.
func WrapError(kind ErrorKind, err error) error {
	return &Error{Kind: kind, err: err}
}

// KindOf extracts the ErrorKind carried by err, or KindNone if err is nil
// or not a *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNone
}
