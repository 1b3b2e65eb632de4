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

import "golang.org/x/xerrors"

// secdataFirmwareSize/secdataKernelSize/secdataFWMPSize are the on-disk
// sizes of the three TPM-backed rollback stores. Unlike nvdata,
// secdata_firmware and secdata_kernel are never read speculatively: a CRC
// failure there means the store is genuinely untrustworthy (spec.md §5),
// not just "reset to defaults". A secdata_fwmp that fails to decode is
// treated as unprovisioned (see secdataFWMPInit).
const (
	secdataFirmwareSize = 8
	secdataKernelSize   = 8
	secdataFWMPSize     = 4

	secdataStructVersion = 2
)

// SecdataFirmwareFlags bits.
type SecdataFirmwareFlags uint8

const (
	SecdataFWFlagLastBootDeveloper SecdataFirmwareFlags = 1 << iota
)

// SecdataFirmware is the TPM-backed record of the highest firmware
// composite version (key_version<<16 | body_version) ever booted.
type SecdataFirmware struct {
	Flags    SecdataFirmwareFlags
	Versions uint32 // composite version
}

func decodeSecdataFirmware(raw []byte) (*SecdataFirmware, error) {
	if len(raw) != secdataFirmwareSize {
		return nil, NewError(KindSecdataVersion, "secdata_firmware size mismatch")
	}
	if raw[0] != secdataStructVersion {
		return nil, NewError(KindSecdataVersion, "secdata_firmware struct version mismatch")
	}
	if nvCRC(raw[:len(raw)-1]) != raw[len(raw)-1] {
		return nil, NewError(KindSecdataCRC, "secdata_firmware CRC mismatch")
	}
	s := &SecdataFirmware{Flags: SecdataFirmwareFlags(raw[1])}
	s.Versions = uint32(raw[2]) | uint32(raw[3])<<8 | uint32(raw[4])<<16 | uint32(raw[5])<<24
	return s, nil
}

func encodeSecdataFirmware(s *SecdataFirmware) []byte {
	raw := make([]byte, secdataFirmwareSize)
	raw[0] = secdataStructVersion
	raw[1] = byte(s.Flags)
	raw[2] = byte(s.Versions)
	raw[3] = byte(s.Versions >> 8)
	raw[4] = byte(s.Versions >> 16)
	raw[5] = byte(s.Versions >> 24)
	raw[len(raw)-1] = nvCRC(raw[:len(raw)-1])
	return raw
}

// SecdataKernel is the TPM-backed record of the highest kernel composite
// version ever booted.
type SecdataKernel struct {
	UID      uint8
	Versions uint32
}

func decodeSecdataKernel(raw []byte) (*SecdataKernel, error) {
	if len(raw) != secdataKernelSize {
		return nil, NewError(KindSecdataVersion, "secdata_kernel size mismatch")
	}
	if raw[0] != secdataStructVersion {
		return nil, NewError(KindSecdataVersion, "secdata_kernel struct version mismatch")
	}
	if nvCRC(raw[:len(raw)-1]) != raw[len(raw)-1] {
		return nil, NewError(KindSecdataCRC, "secdata_kernel CRC mismatch")
	}
	s := &SecdataKernel{UID: raw[1]}
	s.Versions = uint32(raw[2]) | uint32(raw[3])<<8 | uint32(raw[4])<<16 | uint32(raw[5])<<24
	return s, nil
}

func encodeSecdataKernel(s *SecdataKernel) []byte {
	raw := make([]byte, secdataKernelSize)
	raw[0] = secdataStructVersion
	raw[1] = s.UID
	raw[2] = byte(s.Versions)
	raw[3] = byte(s.Versions >> 8)
	raw[4] = byte(s.Versions >> 16)
	raw[5] = byte(s.Versions >> 24)
	raw[len(raw)-1] = nvCRC(raw[:len(raw)-1])
	return raw
}

// SecdataFWMPFlags bits (firmware management parameters).
type SecdataFWMPFlags uint16

const (
	FWMPDevDisableBoot SecdataFWMPFlags = 1 << iota
	FWMPDevDisableRecovery
	FWMPDevDisableFastboot
	FWMPDevEnableUSB
	FWMPDevEnableLegacy
)

// SecdataFWMP is the optional enterprise-enrollment policy blob. Unlike
// the other two stores it is legitimately allowed to not exist yet
// (ContextNoSecdataFWMP or "never provisioned"); callers see that as
// secFWMPOK == false rather than an error.
type SecdataFWMP struct {
	Flags SecdataFWMPFlags
}

func decodeSecdataFWMP(raw []byte) (*SecdataFWMP, error) {
	if len(raw) != secdataFWMPSize {
		return nil, NewError(KindSecdataVersion, "secdata_fwmp size mismatch")
	}
	if raw[0] != secdataStructVersion {
		return nil, NewError(KindSecdataVersion, "secdata_fwmp struct version mismatch")
	}
	if nvCRC(raw[:len(raw)-1]) != raw[len(raw)-1] {
		return nil, NewError(KindSecdataCRC, "secdata_fwmp CRC mismatch")
	}
	return &SecdataFWMP{Flags: SecdataFWMPFlags(raw[1]) | SecdataFWMPFlags(raw[2])<<8}, nil
}

func encodeSecdataFWMP(s *SecdataFWMP) []byte {
	raw := make([]byte, secdataFWMPSize)
	raw[0] = secdataStructVersion
	raw[1] = byte(s.Flags)
	raw[2] = byte(s.Flags >> 8)
	raw[len(raw)-1] = nvCRC(raw[:len(raw)-1])
	return raw
}

// secdataFirmwareInit loads secdata_firmware, initializing a fresh store
// (composite version 0) only if the backend reports no store at all
// (Read returning nil, nil) — a CRC or version mismatch on an existing
// store is never silently repaired, unlike nvdata.
func secdataFirmwareInit(ctx *Context) error {
	if ctx.secFWInit {
		return nil
	}
	raw, err := ctx.SecdataFirmware.Read()
	if err != nil {
		return WrapError(KindSecdataFirmwareInit, xerrors.Errorf("secdata_firmware backend read: %w", err))
	}
	if raw == nil {
		ctx.secFW = SecdataFirmware{}
		ctx.secFWDirty = true
	} else {
		s, err := decodeSecdataFirmware(raw)
		if err != nil {
			return err
		}
		ctx.secFW = *s
	}
	ctx.secFWInit = true
	ctx.sd.Status |= SDStatusSecdataFirmwareInit
	return nil
}

func secdataFirmwareCommit(ctx *Context) error {
	if !ctx.secFWDirty {
		return nil
	}
	if err := ctx.SecdataFirmware.Write(encodeSecdataFirmware(&ctx.secFW)); err != nil {
		flagTPMWriteErrorAndRetry(ctx, KindSecdataFirmwareWrite)
		return WrapError(KindSecdataFirmwareWrite, xerrors.Errorf("secdata_firmware backend write: %w", err))
	}
	ctx.secFWDirty = false
	return nil
}

// GetFWVersionSecdata returns the highest firmware composite version ever
// recorded as booted successfully.
func (ctx *Context) GetFWVersionSecdata() (uint32, error) {
	if err := secdataFirmwareInit(ctx); err != nil {
		return 0, err
	}
	return ctx.secFW.Versions, nil
}

// SetFWVersionSecdata raises the recorded composite version. Per spec.md
// §5 this must never be allowed to decrease; callers (firmware_phase3)
// are responsible for only calling this after confirming v is >= current.
func (ctx *Context) SetFWVersionSecdata(v uint32) error {
	if err := secdataFirmwareInit(ctx); err != nil {
		return err
	}
	if v == ctx.secFW.Versions {
		return nil
	}
	ctx.secFW.Versions = v
	ctx.secFWDirty = true
	return secdataFirmwareCommit(ctx)
}

func secdataKernelInit(ctx *Context) error {
	if ctx.secKernInit {
		return nil
	}
	raw, err := ctx.SecdataKernel.Read()
	if err != nil {
		return WrapError(KindSecdataKernelInit, xerrors.Errorf("secdata_kernel backend read: %w", err))
	}
	if raw == nil {
		ctx.secKern = SecdataKernel{}
		ctx.secKernDirty = true
	} else {
		s, err := decodeSecdataKernel(raw)
		if err != nil {
			return err
		}
		ctx.secKern = *s
	}
	ctx.secKernInit = true
	ctx.sd.Status |= SDStatusSecdataKernelInit
	return nil
}

func secdataKernelCommit(ctx *Context) error {
	if !ctx.secKernDirty {
		return nil
	}
	if err := ctx.SecdataKernel.Write(encodeSecdataKernel(&ctx.secKern)); err != nil {
		flagTPMWriteErrorAndRetry(ctx, KindSecdataKernelWrite)
		return WrapError(KindSecdataKernelWrite, xerrors.Errorf("secdata_kernel backend write: %w", err))
	}
	ctx.secKernDirty = false
	return nil
}

// flagTPMWriteErrorAndRetry records recovery reason RW_TPM_W_ERROR
// through apiFail and makes one attempt to flush nvdata, so that flag
// survives this boot even though the secdata write which triggered it is
// still broken. Grounded on vb2_commit_data's documented "flag recovery
// reason and retry commit once"; skipped once already in recovery mode,
// since a second recovery reason is never recorded over the first one
// and there would be nothing new to persist. Both the flag and the retry
// are best-effort: a caller that wants the underlying failure reported
// still gets it back from the write that invoked this.
func flagTPMWriteErrorAndRetry(ctx *Context, kind ErrorKind) {
	if ctx.Flags.has(ContextRecoveryMode) {
		return
	}
	if err := apiFail(ctx, RecoveryRWTPMWriteError, uint8(kind)); err != nil {
		return
	}
	_ = nvCommit(ctx)
}

// commitData flushes nvdata, secdata_firmware and secdata_kernel if
// dirty, in that order, and reports the most serious failure. Grounded
// on vb2_commit_data as a single choke point a boot path calls once it
// has run its course, rather than leaving each mutation site to flush
// for itself — a phase that fails and returns early still needs whatever
// it dirtied (most commonly a freshly recorded recovery request) written
// out. secdata_fwmp never appears here: this core only ever reads the
// enrollment policy blob, never writes it, so it has no dirty flag to
// flush.
func commitData(ctx *Context) error {
	var result error
	if err := nvCommit(ctx); err != nil {
		result = err
	}
	if err := secdataFirmwareCommit(ctx); err != nil {
		result = moreSerious(result, err)
	}
	if err := secdataKernelCommit(ctx); err != nil {
		result = moreSerious(result, err)
	}
	return result
}

// moreSerious picks which of two possibly-nil errors a caller should
// keep when a final commit fails on top of an already-failing phase. An
// nvdata write failure is the worst outcome this core can have: with
// nvdata unwritable there's no way to even persist a recovery request,
// so it always wins. Otherwise the first (already in progress) error is
// kept, since that's the one that actually explains why this boot didn't
// succeed.
func moreSerious(first, second error) error {
	if first == nil {
		return second
	}
	if second == nil {
		return first
	}
	if KindOf(second) == KindNVWrite {
		return second
	}
	return first
}

// GetKernelVersionSecdata returns the highest kernel composite version
// ever recorded as booted successfully.
func (ctx *Context) GetKernelVersionSecdata() (uint32, error) {
	if err := secdataKernelInit(ctx); err != nil {
		return 0, err
	}
	return ctx.secKern.Versions, nil
}

// SetKernelVersionSecdata raises the recorded kernel composite version,
// gated the same way as SetFWVersionSecdata.
func (ctx *Context) SetKernelVersionSecdata(v uint32) error {
	if err := secdataKernelInit(ctx); err != nil {
		return err
	}
	if v == ctx.secKern.Versions {
		return nil
	}
	ctx.secKern.Versions = v
	ctx.secKernDirty = true
	return secdataKernelCommit(ctx)
}

// secdataFWMPInit loads secdata_fwmp if present. A missing store is not
// an error: it just means this device was never enterprise-enrolled, so
// ctx.secFWMPOK stays false and FWMPFlags reports zero.
func secdataFWMPInit(ctx *Context) error {
	if ctx.secFWMPInit {
		return nil
	}
	ctx.secFWMPInit = true
	if ctx.Flags.has(ContextNoSecdataFWMP) || ctx.SecdataFWMP == nil {
		return nil
	}
	raw, err := ctx.SecdataFWMP.Read()
	if err != nil {
		return WrapError(KindSecdataFWMPInit, xerrors.Errorf("secdata_fwmp backend read: %w", err))
	}
	if raw == nil {
		return nil
	}
	s, err := decodeSecdataFWMP(raw)
	if err != nil {
		ctx.debugf("secdata_fwmp: %v, treating as unprovisioned\n", err)
		return nil
	}
	ctx.secFWMP = *s
	ctx.secFWMPOK = true
	ctx.sd.Status |= SDStatusSecdataFWMPInit
	return nil
}

// FWMPFlags returns the enrollment policy flags, or zero if this device
// has no FWMP store.
func (ctx *Context) FWMPFlags() (SecdataFWMPFlags, error) {
	if err := secdataFWMPInit(ctx); err != nil {
		return 0, err
	}
	if !ctx.secFWMPOK {
		return 0, nil
	}
	return ctx.secFWMP.Flags, nil
}
