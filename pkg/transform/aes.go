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

package transform

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"io"
	"strings"

	"github.com/opencloud-eu/fileapi/pkg/errtypes"
)

const (
	aesBlockSize = aes.BlockSize
	aesKeySize   = 32
	readChunk    = 32 * 1024

	// opensslMagic prefixes passphrase-encrypted OpenSSL output; the
	// eight bytes after it are the salt.
	opensslMagic = "Salted__"
)

// KeyMaterial is the decrypted content of the Aes-Key/Aes-Iv headers.
// Either Key and IV are set (hex key mode) or Passphrase is set
// (OpenSSL Salted__ mode, key and IV derived from the stream's salt).
type KeyMaterial struct {
	Key        []byte
	IV         []byte
	Passphrase []byte
}

// NewKeyMaterial interprets the decrypted Aes-Key header. When ivHex
// is non-empty the key is a hex-encoded 32-byte AES key; otherwise the
// value is an OpenSSL passphrase.
func NewKeyMaterial(decryptedKey []byte, ivHex string) (*KeyMaterial, error) {
	if ivHex == "" {
		pass := bytes.TrimRight(decryptedKey, "\r\n")
		if len(pass) == 0 {
			return nil, errtypes.TransformError("empty aes passphrase")
		}
		return &KeyMaterial{Passphrase: pass}, nil
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(decryptedKey)))
	if err != nil || len(key) != aesKeySize {
		return nil, errtypes.TransformError("aes key is not a hex encoded 32 byte key")
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aesBlockSize {
		return nil, errtypes.TransformError("aes iv is not a hex encoded 16 byte iv")
	}
	return &KeyMaterial{Key: key, IV: iv}, nil
}

// newBase64Reader decodes standard base64, tolerating the line breaks
// openssl -a inserts.
func newBase64Reader(r io.Reader) io.Reader {
	return base64.NewDecoder(base64.StdEncoding, &lineFilterReader{r: r})
}

// lineFilterReader drops CR and LF bytes from the stream.
type lineFilterReader struct {
	r io.Reader
}

func (f *lineFilterReader) Read(p []byte) (int, error) {
	for {
		n, err := f.r.Read(p)
		keep := 0
		for i := 0; i < n; i++ {
			if p[i] == '\n' || p[i] == '\r' {
				continue
			}
			p[keep] = p[i]
			keep++
		}
		if keep > 0 || err != nil {
			return keep, err
		}
	}
}

// cbcReader decrypts an AES-256-CBC stream incrementally. The last
// block is withheld until EOF so the PKCS#7 padding can be stripped.
type cbcReader struct {
	src  io.Reader
	key  *KeyMaterial
	mode cipher.BlockMode

	raw    []byte // ciphertext not yet decrypted, len < block size once processed
	out    []byte // plaintext ready to be handed out
	held   []byte // last decrypted block, padding candidate
	srcEOF bool
	done   bool
	err    error
}

func newCBCReader(src io.Reader, key *KeyMaterial) io.Reader {
	return &cbcReader{src: src, key: key}
}

func (d *cbcReader) Read(p []byte) (int, error) {
	for len(d.out) == 0 && d.err == nil && !d.done {
		d.fill()
	}
	if len(d.out) > 0 {
		n := copy(p, d.out)
		d.out = d.out[n:]
		return n, nil
	}
	if d.err != nil {
		return 0, d.err
	}
	return 0, io.EOF
}

func (d *cbcReader) fill() {
	if !d.srcEOF {
		buf := make([]byte, readChunk)
		n, err := d.src.Read(buf)
		d.raw = append(d.raw, buf[:n]...)
		switch err {
		case nil:
		case io.EOF:
			d.srcEOF = true
		default:
			d.err = errtypes.TransformError("reading ciphertext: " + err.Error())
			return
		}
	}

	if d.mode == nil && !d.initMode() {
		return
	}

	if d.mode != nil && len(d.raw) >= aesBlockSize {
		n := len(d.raw) / aesBlockSize * aesBlockSize
		d.mode.CryptBlocks(d.raw[:n], d.raw[:n])

		d.out = append(d.out, d.held...)
		d.held = d.held[:0]
		d.out = append(d.out, d.raw[:n-aesBlockSize]...)
		d.held = append(d.held, d.raw[n-aesBlockSize:n]...)

		rest := make([]byte, len(d.raw)-n)
		copy(rest, d.raw[n:])
		d.raw = rest
	}

	if d.srcEOF {
		d.finish()
	}
}

// initMode sets up the block mode once key and IV are known. In
// passphrase mode that requires the Salted__ header from the stream.
func (d *cbcReader) initMode() bool {
	key, iv := d.key.Key, d.key.IV
	if d.key.Passphrase != nil {
		if len(d.raw) < len(opensslMagic)+8 {
			if d.srcEOF {
				d.err = errtypes.TransformError("ciphertext shorter than the openssl header")
			}
			return false
		}
		if string(d.raw[:len(opensslMagic)]) != opensslMagic {
			d.err = errtypes.TransformError("ciphertext lacks the openssl salt header")
			return false
		}
		salt := d.raw[len(opensslMagic) : len(opensslMagic)+8]
		key, iv = evpBytesToKey(d.key.Passphrase, salt, aesKeySize, aesBlockSize)
		rest := make([]byte, len(d.raw)-len(opensslMagic)-8)
		copy(rest, d.raw[len(opensslMagic)+8:])
		d.raw = rest
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		d.err = errtypes.TransformError("bad aes key: " + err.Error())
		return false
	}
	d.mode = cipher.NewCBCDecrypter(block, iv)
	return true
}

// finish validates stream framing and strips the PKCS#7 padding from
// the withheld final block.
func (d *cbcReader) finish() {
	if len(d.raw) != 0 {
		d.err = errtypes.TransformError("ciphertext truncated mid block")
		return
	}
	if len(d.held) != aesBlockSize {
		d.err = errtypes.TransformError("ciphertext empty")
		return
	}
	pad := int(d.held[aesBlockSize-1])
	if pad < 1 || pad > aesBlockSize {
		d.err = errtypes.TransformError("bad padding")
		return
	}
	for _, b := range d.held[aesBlockSize-pad:] {
		if int(b) != pad {
			d.err = errtypes.TransformError("bad padding")
			return
		}
	}
	d.out = append(d.out, d.held[:aesBlockSize-pad]...)
	d.held = nil
	d.done = true
}

// evpBytesToKey derives key and IV from a passphrase and salt the way
// OpenSSL's legacy EVP_BytesToKey does with MD5 and one iteration.
// Kept for wire compatibility with openssl enc defaults.
func evpBytesToKey(pass, salt []byte, keyLen, ivLen int) (key, iv []byte) {
	var d, prev []byte
	for len(d) < keyLen+ivLen {
		h := md5.New()
		h.Write(prev)
		h.Write(pass)
		h.Write(salt)
		prev = h.Sum(nil)
		d = append(d, prev...)
	}
	return d[:keyLen], d[keyLen : keyLen+ivLen]
}
