// Copyright 2018-2024 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Package transform decodes upload bodies on the fly. A pipeline is a
// fixed composition of streaming readers selected once from the
// request Content-Type; every stage holds O(chunk) memory regardless
// of body size.
package transform

import (
	"compress/gzip"
	"io"

	"github.com/opencloud-eu/fileapi/pkg/errtypes"
)

// Pipeline enumerates the supported body encodings.
type Pipeline int

const (
	// Identity passes the body through untouched.
	Identity Pipeline = iota
	// Aes is base64-encoded AES-256-CBC ciphertext.
	Aes
	// AesBin is raw AES-256-CBC ciphertext without base64.
	AesBin
	// Gz is gzip-compressed data.
	Gz
	// GzAes is base64-encoded AES ciphertext of gzipped data.
	GzAes
	// Tar is a tar archive, extracted entry by entry.
	Tar
	// TarGz is a gzipped tar archive.
	TarGz
	// TarAes is base64-encoded AES ciphertext of a tar archive.
	TarAes
	// TarGzAes is base64-encoded AES ciphertext of a gzipped tar archive.
	TarGzAes
)

// FromContentType selects the pipeline for a request Content-Type.
// Types outside the transform family pass through as identity, the
// way plain uploads always have.
func FromContentType(ct string) Pipeline {
	switch ct {
	case "application/aes":
		return Aes
	case "application/aes-octet-stream":
		return AesBin
	case "application/gz":
		return Gz
	case "application/gz.aes":
		return GzAes
	case "application/tar":
		return Tar
	case "application/tar.gz":
		return TarGz
	case "application/tar.aes":
		return TarAes
	case "application/tar.gz.aes":
		return TarGzAes
	default:
		return Identity
	}
}

// NeedsKey reports whether the pipeline requires AES key material.
func (p Pipeline) NeedsKey() bool {
	switch p {
	case Aes, AesBin, GzAes, TarAes, TarGzAes:
		return true
	}
	return false
}

// IsTar reports whether the pipeline ends in a tar fan-out rather
// than a single output stream.
func (p Pipeline) IsTar() bool {
	switch p {
	case Tar, TarGz, TarAes, TarGzAes:
		return true
	}
	return false
}

func (p Pipeline) base64Encoded() bool {
	switch p {
	case Aes, GzAes, TarAes, TarGzAes:
		return true
	}
	return false
}

func (p Pipeline) encrypted() bool {
	return p.NeedsKey()
}

func (p Pipeline) gzipped() bool {
	switch p {
	case Gz, GzAes, TarGz, TarGzAes:
		return true
	}
	return false
}

// Wrap composes the decoding stages over the raw body. For tar
// pipelines the returned reader yields the decoded tar stream, to be
// driven through Extract.
func (p Pipeline) Wrap(body io.Reader, key *KeyMaterial) (io.Reader, error) {
	r := body
	if p.encrypted() {
		if key == nil {
			return nil, errtypes.TransformError("missing aes key material")
		}
		if p.base64Encoded() {
			r = newBase64Reader(r)
		}
		r = newCBCReader(r, key)
	}
	if p.gzipped() {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, errtypes.TransformError("bad gzip header: " + err.Error())
		}
		r = gz
	}
	return r, nil
}
