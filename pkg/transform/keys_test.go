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
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/stretchr/testify/require"
)

// newTestRing generates a throwaway key pair and writes the private
// ring to disk the way the deployment ships its secring.
func newTestRing(t *testing.T) (string, *openpgp.Entity) {
	t.Helper()
	entity, err := openpgp.NewEntity("fileapi-test", "", "fileapi-test@localhost", nil)
	require.NoError(t, err)

	var ring bytes.Buffer
	require.NoError(t, entity.SerializePrivate(&ring, nil))

	path := filepath.Join(t.TempDir(), "secring.gpg")
	require.NoError(t, os.WriteFile(path, ring.Bytes(), 0o600))
	return path, entity
}

func pgpEncryptAndEncode(t *testing.T, to *openpgp.Entity, secret []byte) string {
	t.Helper()
	var ct bytes.Buffer
	w, err := openpgp.Encrypt(&ct, []*openpgp.Entity{to}, nil, nil, nil)
	require.NoError(t, err)
	_, err = w.Write(secret)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return base64.StdEncoding.EncodeToString(ct.Bytes())
}

func TestKeyDecryptorRoundTrip(t *testing.T) {
	path, entity := newTestRing(t)
	d, err := NewKeyDecryptor(path)
	require.NoError(t, err)

	secret := []byte(hexKey)
	got, err := d.Decrypt(pgpEncryptAndEncode(t, entity, secret))
	require.NoError(t, err)
	require.Equal(t, secret, got)
}

func TestKeyDecryptorRejects(t *testing.T) {
	path, _ := newTestRing(t)
	d, err := NewKeyDecryptor(path)
	require.NoError(t, err)

	_, err = d.Decrypt("not base64 at all ///")
	require.Error(t, err)

	_, err = d.Decrypt(base64.StdEncoding.EncodeToString([]byte("not a pgp message")))
	require.Error(t, err)

	// A message for a different recipient must not decrypt.
	_, other := newTestRing(t)
	_, err = d.Decrypt(pgpEncryptAndEncode(t, other, []byte("secret")))
	require.Error(t, err)
}

func TestNewKeyDecryptorMissingFile(t *testing.T) {
	_, err := NewKeyDecryptor(filepath.Join(t.TempDir(), "nope.gpg"))
	require.Error(t, err)
}
