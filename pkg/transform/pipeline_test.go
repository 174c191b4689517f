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
	"compress/gzip"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

const plaintext = "x,y\n4,5\n2,1\n"

const (
	hexKey = "ed6d4be32230db647bc63627f98daba0ac1c5d04ab6d1b44b74501ff445ddd97"
	hexIV  = "a53c9b54b5f84e543b592050c52531ef"
)

// encryptCBC produces ciphertext the way openssl enc -aes-256-cbc does,
// PKCS#7 padded, optionally with the Salted__ passphrase header.
func encryptCBC(t *testing.T, plain, key, iv []byte, salt []byte) []byte {
	t.Helper()
	pad := aes.BlockSize - len(plain)%aes.BlockSize
	padded := append(append([]byte{}, plain...), bytes.Repeat([]byte{byte(pad)}, pad)...)

	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	if salt != nil {
		return append(append([]byte(opensslMagic), salt...), out...)
	}
	return out
}

func gzipped(t *testing.T, plain []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write(plain)
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

// base64WithLineBreaks mimics openssl -a output, 64 chars per line.
func base64WithLineBreaks(raw []byte) []byte {
	enc := base64.StdEncoding.EncodeToString(raw)
	var out bytes.Buffer
	for len(enc) > 0 {
		n := 64
		if n > len(enc) {
			n = len(enc)
		}
		out.WriteString(enc[:n])
		out.WriteByte('\n')
		enc = enc[n:]
	}
	return out.Bytes()
}

func hexKeyMaterial(t *testing.T) *KeyMaterial {
	t.Helper()
	km, err := NewKeyMaterial([]byte(hexKey), hexIV)
	require.NoError(t, err)
	return km
}

func TestFromContentType(t *testing.T) {
	tests := []struct {
		ct   string
		want Pipeline
	}{
		{ct: "", want: Identity},
		{ct: "application/octet-stream", want: Identity},
		{ct: "text/csv", want: Identity},
		{ct: "application/aes", want: Aes},
		{ct: "application/aes-octet-stream", want: AesBin},
		{ct: "application/gz", want: Gz},
		{ct: "application/gz.aes", want: GzAes},
		{ct: "application/tar", want: Tar},
		{ct: "application/tar.gz", want: TarGz},
		{ct: "application/tar.aes", want: TarAes},
		{ct: "application/tar.gz.aes", want: TarGzAes},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, FromContentType(tt.ct), tt.ct)
	}
}

func TestIdentityWrap(t *testing.T) {
	r, err := Identity.Wrap(bytes.NewReader([]byte(plaintext)), nil)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, plaintext, string(got))
}

func TestAesBinWithKeyAndIV(t *testing.T) {
	km := hexKeyMaterial(t)
	ct := encryptCBC(t, []byte(plaintext), km.Key, km.IV, nil)

	r, err := AesBin.Wrap(bytes.NewReader(ct), km)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, plaintext, string(got))
}

func TestAesBase64WithKeyAndIV(t *testing.T) {
	km := hexKeyMaterial(t)
	ct := base64WithLineBreaks(encryptCBC(t, []byte(plaintext), km.Key, km.IV, nil))

	r, err := Aes.Wrap(bytes.NewReader(ct), km)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, plaintext, string(got))
}

func TestAesWithPassphrase(t *testing.T) {
	pass := []byte("correct horse battery staple")
	salt := []byte("saltsalt")
	key, iv := evpBytesToKey(pass, salt, aesKeySize, aesBlockSize)
	ct := base64WithLineBreaks(encryptCBC(t, []byte(plaintext), key, iv, salt))

	km, err := NewKeyMaterial(append(pass, '\n'), "")
	require.NoError(t, err)

	r, err := Aes.Wrap(bytes.NewReader(ct), km)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, plaintext, string(got))
}

func TestGzAesChain(t *testing.T) {
	km := hexKeyMaterial(t)
	ct := base64WithLineBreaks(encryptCBC(t, gzipped(t, []byte(plaintext)), km.Key, km.IV, nil))

	r, err := GzAes.Wrap(bytes.NewReader(ct), km)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, plaintext, string(got))
}

func TestGzWrap(t *testing.T) {
	r, err := Gz.Wrap(bytes.NewReader(gzipped(t, []byte(plaintext))), nil)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, plaintext, string(got))
}

func TestLargeBodyStreams(t *testing.T) {
	km := hexKeyMaterial(t)
	big := make([]byte, 1<<20+13)
	_, err := rand.Read(big)
	require.NoError(t, err)
	ct := encryptCBC(t, big, km.Key, km.IV, nil)

	r, err := AesBin.Wrap(bytes.NewReader(ct), km)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.True(t, bytes.Equal(big, got))
}

func TestDecodeFailures(t *testing.T) {
	km := hexKeyMaterial(t)
	good := encryptCBC(t, []byte(plaintext), km.Key, km.IV, nil)

	// A full-block buffer whose final byte is 0x00 decrypts to an
	// invalid PKCS#7 pad length.
	badPadded := bytes.Repeat([]byte{'a'}, aes.BlockSize)
	badPadded[aes.BlockSize-1] = 0
	block, err := aes.NewCipher(km.Key)
	require.NoError(t, err)
	badPadCT := make([]byte, aes.BlockSize)
	cipher.NewCBCEncrypter(block, km.IV).CryptBlocks(badPadCT, badPadded)

	tests := []struct {
		name string
		p    Pipeline
		body []byte
	}{
		{name: "truncated mid block", p: AesBin, body: good[:len(good)-5]},
		{name: "empty ciphertext", p: AesBin, body: nil},
		{name: "invalid padding", p: AesBin, body: badPadCT},
		{name: "missing openssl header", p: AesBin, body: good[8:]},
		{name: "bad base64", p: Aes, body: []byte("!!!not base64!!!")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := km
			if tt.name == "missing openssl header" {
				key = &KeyMaterial{Passphrase: []byte("pw")}
			}
			r, err := tt.p.Wrap(bytes.NewReader(tt.body), key)
			if err != nil {
				return
			}
			_, err = io.ReadAll(r)
			require.Error(t, err)
		})
	}

	_, err = Gz.Wrap(bytes.NewReader([]byte("not gzip")), nil)
	require.Error(t, err)
}

func TestNewKeyMaterialRejects(t *testing.T) {
	tests := []struct {
		name string
		key  string
		iv   string
	}{
		{name: "short hex key", key: "abcd", iv: hexIV},
		{name: "non hex key", key: "zz" + hexKey[2:], iv: hexIV},
		{name: "short iv", key: hexKey, iv: "abcd"},
		{name: "empty passphrase", key: "\n", iv: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewKeyMaterial([]byte(tt.key), tt.iv)
			require.Error(t, err)
		})
	}
}
