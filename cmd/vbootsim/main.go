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

// Command vbootsim drives the vboot2core firmware and kernel verification
// phases against a set of plain files standing in for a board's flash
// chip, TPM-backed secdata stores and boot disk, the way a developer
// bench-testing a new board's images would want to before flashing real
// hardware.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/bsiegert/ranges"
	flags "github.com/jessevdk/go-flags"

	vboot2 "github.com/snapcore/vboot2core"
	"github.com/snapcore/vboot2core/internal/diag"
	"github.com/snapcore/vboot2core/internal/efinvdata"
	"github.com/snapcore/vboot2core/internal/hostio"
	"github.com/snapcore/vboot2core/internal/tpmsecdata"
)

type options struct {
	Board    string `short:"b" long:"board" description:"path to a board YAML descriptor" required:"true"`
	Phases   string `long:"phases" description:"phase range to simulate: 1 for firmware only, 1-2 to also certify a kernel" default:"1-2"`
	TPM      bool   `long:"tpm" description:"back secdata_firmware/secdata_kernel with a real TPM device instead of plain files"`
	EFI      bool   `long:"efi-nvdata" description:"back nvdata with a real UEFI variable instead of a plain file"`
	EventLog string `long:"event-log" description:"path to a TCG measured-boot event log to summarize before EC sync, purely for diagnostics"`
	Verbose  bool   `short:"v" long:"verbose" description:"print debug messages emitted by the core"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if err := run(&opts); err != nil {
		log.Fatalf("vbootsim: %v", err)
	}
}

func run(opts *options) error {
	cfg, err := loadBoardConfig(opts.Board)
	if err != nil {
		return err
	}

	phases, err := ranges.Parse(opts.Phases)
	if err != nil {
		return fmt.Errorf("cannot parse --phases %q: %w", opts.Phases, err)
	}
	runFirmware := containsPhase(phases, 1)
	runKernel := containsPhase(phases, 2)

	images := &hostio.ImageSet{Paths: cfg.imagePaths()}
	if err := images.Open(); err != nil {
		return err
	}
	defer images.Close()

	ctx, err := newContext(cfg, opts)
	if err != nil {
		return err
	}
	if opts.Verbose {
		ctx.DebugPrintf = func(format string, args ...any) { fmt.Printf(format, args...) }
	}
	ctx.ReadResource = images.ReadResource
	if cfg.DeveloperMode {
		ctx.Flags |= vboot2.ContextDeveloperMode
	}
	if cfg.RecoveryMode {
		ctx.Flags |= vboot2.ContextRecoveryMode
	}

	if opts.EventLog != "" {
		narrative, err := diag.SummarizeFile(opts.EventLog)
		if err != nil {
			fmt.Fprintf(os.Stderr, "vbootsim: event log diagnostics unavailable: %v\n", err)
		} else {
			fmt.Print(narrative)
		}
	}

	if !runFirmware {
		return nil
	}

	path, pre, err := vboot2.RunFirmwareVerification(ctx, nil)
	if err != nil {
		return fmt.Errorf("firmware verification failed choosing %s path: %w", path, err)
	}
	fmt.Printf("boot path: %s\n", path)

	if !runKernel {
		return nil
	}
	if pre == nil {
		return fmt.Errorf("firmware verification produced no preamble to certify a kernel against")
	}
	if cfg.KernelBody == "" {
		return fmt.Errorf("board descriptor has no kernel_body to verify")
	}

	body, err := os.ReadFile(cfg.KernelBody)
	if err != nil {
		return fmt.Errorf("cannot read kernel body: %w", err)
	}

	kpre, err := vboot2.RunKernelVerification(ctx, pre, body)
	if err != nil {
		return fmt.Errorf("kernel verification failed: %w", err)
	}
	fmt.Printf("kernel verified: body load address 0x%x\n", kpre.BodyLoadAddress)
	return nil
}

// newContext wires up a Context's persistence collaborators either
// against plain files (the default, portable across any workstation) or
// against a real TPM device / UEFI variable store when the caller asked
// for one, so the same board descriptor can drive both a pure simulation
// and a smoke test against real firmware-adjacent hardware.
func newContext(cfg *boardConfig, opts *options) (*vboot2.Context, error) {
	buf := make([]byte, cfg.WorkbufSize)
	ctx, err := vboot2.NewContext(buf)
	if err != nil {
		return nil, err
	}

	if opts.EFI {
		ctx.NV = efinvdata.NewBackend()
	} else {
		ctx.NV = hostio.NewFileStore(cfg.NVData)
	}

	if opts.TPM {
		dev, err := tpmsecdata.DefaultDevice(tpmsecdata.DeviceModeTryResourceManaged)
		if err != nil {
			return nil, fmt.Errorf("cannot open TPM device: %w", err)
		}
		fw, err := tpmsecdata.NewBackend(dev, tpmsecdata.HandleSecdataFirmware, 8)
		if err != nil {
			return nil, fmt.Errorf("cannot open secdata_firmware TPM backend: %w", err)
		}
		kern, err := tpmsecdata.NewBackend(dev, tpmsecdata.HandleSecdataKernel, 8)
		if err != nil {
			return nil, fmt.Errorf("cannot open secdata_kernel TPM backend: %w", err)
		}
		ctx.SecdataFirmware = fw
		ctx.SecdataKernel = kern
		if cfg.SecdataFWMP != "" {
			fwmp, err := tpmsecdata.NewBackend(dev, tpmsecdata.HandleSecdataFWMP, 4)
			if err != nil {
				return nil, fmt.Errorf("cannot open secdata_fwmp TPM backend: %w", err)
			}
			ctx.SecdataFWMP = fwmp
		}
		return ctx, nil
	}

	ctx.SecdataFirmware = hostio.NewFileStore(cfg.SecdataFirmware)
	ctx.SecdataKernel = hostio.NewFileStore(cfg.SecdataKernel)
	if cfg.SecdataFWMP != "" {
		ctx.SecdataFWMP = hostio.NewFileStore(cfg.SecdataFWMP)
	}
	return ctx, nil
}

func containsPhase(phases []int, want int) bool {
	for _, p := range phases {
		if p == want {
			return true
		}
	}
	return false
}
