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
	"io"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/pkg/errors"

	"github.com/opencloud-eu/fileapi/pkg/errtypes"
)

// KeyDecryptor unwraps the PGP layer around the Aes-Key header using
// the server's private keyring.
type KeyDecryptor struct {
	ring openpgp.EntityList
}

// NewKeyDecryptor loads the private keyring at path. Both armored and
// binary keyrings are accepted.
func NewKeyDecryptor(path string) (*KeyDecryptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening private keyring")
	}
	defer f.Close()

	ring, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		if _, serr := f.Seek(0, io.SeekStart); serr != nil {
			return nil, errors.Wrap(serr, "rewinding keyring")
		}
		ring, err = openpgp.ReadKeyRing(f)
	}
	if err != nil {
		return nil, errors.Wrap(err, "parsing private keyring")
	}
	return &KeyDecryptor{ring: ring}, nil
}

// Decrypt decodes and decrypts a base64, PGP-encrypted header value.
func (d *KeyDecryptor) Decrypt(value string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, errtypes.TransformError("aes key header is not base64")
	}
	md, err := openpgp.ReadMessage(bytes.NewReader(raw), d.ring, nil, nil)
	if err != nil {
		return nil, errtypes.TransformError("aes key header is not decryptable")
	}
	plain, err := io.ReadAll(md.UnverifiedBody)
	if err != nil {
		return nil, errtypes.TransformError("aes key header is not decryptable")
	}
	return plain, nil
}
