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

// Command vbfixture generates the RSA keypairs cmd/vbootsim's board
// descriptors reference, deterministically, so a test suite can commit a
// short list of labels instead of a set of binary key blobs. Given the
// same master secret and label, it always derives the same key: two
// developers running it on different machines get byte-identical PEM
// files.
package main

import (
	"crypto"
	"crypto/rsa"
	_ "crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"log"
	"os"
	"path/filepath"

	drbg "github.com/canonical/go-sp800.90a-drbg"
	kdf "github.com/canonical/go-sp800.108-kdf"
	flags "github.com/jessevdk/go-flags"
	"golang.org/x/xerrors"
)

type options struct {
	Output string   `short:"o" long:"output" description:"directory to write generated key PEM files into" required:"true"`
	Secret string   `long:"secret" description:"hex-encoded master secret; a fixed default is used when omitted, which is fine for fixtures that only need to be reproducible, not secret"`
	Bits   int      `long:"bits" description:"RSA modulus size in bits" default:"2048"`
	Labels []string `short:"l" long:"label" description:"name of a key to generate; may be given multiple times" required:"true"`
}

// defaultMasterSecret seeds every fixture repository checks in by
// default. It carries no confidentiality requirement: changing it just
// changes which keys every existing board descriptor's fixtures resolve
// to.
var defaultMasterSecret = []byte("vbfixture-default-master-secret")

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if err := run(&opts); err != nil {
		log.Fatalf("vbfixture: %v", err)
	}
}

func run(opts *options) error {
	secret := defaultMasterSecret
	if opts.Secret != "" {
		decoded, err := decodeHex(opts.Secret)
		if err != nil {
			return xerrors.Errorf("cannot decode --secret: %w", err)
		}
		secret = decoded
	}

	if err := os.MkdirAll(opts.Output, 0700); err != nil {
		return xerrors.Errorf("cannot create output directory: %w", err)
	}

	for _, label := range opts.Labels {
		key, err := deriveRSAKey(secret, label, opts.Bits)
		if err != nil {
			return xerrors.Errorf("cannot derive key %q: %w", label, err)
		}
		path := filepath.Join(opts.Output, label+".pem")
		if err := writePrivateKeyPEM(path, key); err != nil {
			return xerrors.Errorf("cannot write key %q: %w", label, err)
		}
		fmt.Printf("wrote %s\n", path)
	}
	return nil
}

// deriveRSAKey derives an RSA private key from secret and label. The
// label is fed to the KDF as the label parameter, so distinct labels
// under the same secret always yield distinct, independent-looking
// seeds; that seed then becomes the DRBG's entropy input, and the DRBG
// stands in for crypto/rand.Reader when generating the key itself. The
// whole chain is a pure function of (secret, label, bits): no host
// entropy is ever consumed.
func deriveRSAKey(secret []byte, label string, bits int) (*rsa.PrivateKey, error) {
	seed := kdf.CounterModeKey(kdf.NewHMACPRF(crypto.SHA256), secret, []byte(label), []byte("RSA-KEYGEN"), 256)

	rng, err := drbg.NewCTRWithExternalEntropy(32, seed, []byte(label), []byte("vbfixture"), nil)
	if err != nil {
		return nil, xerrors.Errorf("cannot seed DRBG: %w", err)
	}

	return rsa.GenerateKey(rng, bits)
}

func writePrivateKeyPEM(path string, key *rsa.PrivateKey) error {
	der := x509.MarshalPKCS1PrivateKey(key)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}
	return os.WriteFile(path, pem.EncodeToMemory(block), 0600)
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
