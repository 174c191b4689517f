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

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var exampleConfig = []byte(`
port: 3003
jwt_secrets:
  p11: testsecret
  p12: othersecret
uploads_root:
  p11: /data/p11/import
  p12: /data/p12/import
sns_uploads_root: /data/pXX/durable
export_root:
  p11: /data/p11/export
resumable_ttl_seconds: 3600
set_owner: false
gpg_secring: /etc/fileapi/secring.gpg
public_key_id: CAFEBABE
`)

func TestParse(t *testing.T) {
	c, err := Parse(exampleConfig)
	require.NoError(t, err)
	require.Equal(t, 3003, c.Port)
	require.Equal(t, "testsecret", c.JWTSecrets["p11"])
	require.Equal(t, "/data/p12/import", c.UploadsRoot["p12"])
	require.Equal(t, "/data/pXX/durable", c.SNSUploadsRoot)
	require.Equal(t, 3600, c.ResumableTTLSeconds)
	require.False(t, c.SetOwner)
}

func TestParseDefaults(t *testing.T) {
	c, err := Parse([]byte(`
jwt_secrets:
  p11: s
uploads_root:
  p11: /tmp
`))
	require.NoError(t, err)
	require.EqualValues(t, 40*1024*1024, c.MaxBodyBytes)
	require.Equal(t, 24*60*60, c.ResumableTTLSeconds)
	require.Equal(t, 60*60, c.JWTMaxAgeSeconds)
	require.Equal(t, 60, c.IdleTimeoutSeconds)
}

func TestParseRejectsIncomplete(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "no secrets", raw: "uploads_root:\n  p11: /tmp\n"},
		{name: "no uploads root", raw: "jwt_secrets:\n  p11: s\n"},
		{name: "not yaml", raw: "{{{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			require.Error(t, err)
		})
	}
}
