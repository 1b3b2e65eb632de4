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

// KernelSubkeySource records which key kernel_phase1 selected to verify
// the kernel keyblock: the GBB's baked-in recovery key when in recovery
// mode, or the subkey certified by the firmware preamble otherwise.
// Grounded on vb2api_kernel_phase1's split between
// vb2_get_workbuf_gbb_recovery_key and the firmware preamble's kernel
// subkey.
type KernelSubkeySource int

const (
	KernelSubkeyFromFWPreamble KernelSubkeySource = iota
	KernelSubkeyFromGBBRecoveryKey
)

// KernelPhase1 initializes secdata_kernel (and secdata_fwmp if not
// disabled) and resolves the key that will certify the kernel keyblock
// for this boot, along with which of the two sources it came from.
func KernelPhase1(ctx *Context, pre *FWPreamble) (*PackedKey, KernelSubkeySource, error) {
	if err := secdataKernelInit(ctx); err != nil {
		return nil, 0, apiFailAndReturn(ctx, RecoverySecdataKernInit, err)
	}
	if !ctx.Flags.has(ContextNoSecdataFWMP) {
		if err := secdataFWMPInit(ctx); err != nil {
			return nil, 0, apiFailAndReturn(ctx, RecoverySecdataFWMPInit, err)
		}
	}

	if ctx.Flags.has(ContextRecoveryMode) {
		gbb, err := getGBB(ctx)
		if err != nil {
			return nil, 0, err
		}
		wb := ctx.freeWorkbuf()
		buf := wb.Alloc(gbb.RecoveryKeySize)
		if buf == nil {
			return nil, 0, NewError(KindAPIKPhase1Preamble, "no room in workbuf for recovery key")
		}
		if err := ctx.ReadResource(ResGBB, gbb.RecoveryKeyOffset, gbb.RecoveryKeySize, buf); err != nil {
			return nil, 0, WrapError(KindAPIKPhase1Preamble, err)
		}
		key, err := unpackKey(ctx, &wb, buf)
		if err != nil {
			return nil, 0, err
		}
		ctx.commit(wb)
		return key, KernelSubkeyFromGBBRecoveryKey, nil
	}

	if pre == nil || pre.KernelSubkey == nil {
		return nil, 0, NewError(KindAPIKPhase1Preamble, "no firmware preamble available for kernel subkey")
	}
	return pre.KernelSubkey, KernelSubkeyFromFWPreamble, nil
}
