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

package paths

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCleanFilename(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "plain", in: "example.csv", want: "example.csv"},
		{name: "spaces and plus", in: "my file+v2.csv", want: "my file+v2.csv"},
		{name: "trailing slash", in: "example.csv/", want: "example.csv"},
		{name: "empty", in: "", wantErr: true},
		{name: "dot", in: ".", wantErr: true},
		{name: "traversal", in: "../../etc/passwd", wantErr: true},
		{name: "absolute", in: "/bin/bash -c", wantErr: true},
		{name: "metacharacters", in: "~!@#$%", wantErr: true},
		{name: "backslash", in: "a\\b", wantErr: true},
		{name: "quote", in: "it's.csv", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CleanFilename(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got %q", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestImportFile(t *testing.T) {
	roots := map[string]string{"p11": "/data/p11/import"}

	tests := []struct {
		name     string
		pnum     string
		group    string
		filename string
		want     string
		wantErr  bool
	}{
		{
			name:     "default group",
			pnum:     "p11",
			filename: "f.csv",
			want:     "/data/p11/import/p11-member-group/f.csv",
		},
		{
			name:     "explicit group",
			pnum:     "p11",
			group:    "p11-data-group",
			filename: "f.csv",
			want:     "/data/p11/import/p11-data-group/f.csv",
		},
		{name: "unconfigured project", pnum: "p12", filename: "f.csv", wantErr: true},
		{name: "bad pnum", pnum: "11", filename: "f.csv", wantErr: true},
		{name: "bad group", pnum: "p11", group: "echo $PATH", filename: "f.csv", wantErr: true},
		{name: "group without suffix", pnum: "p11", group: "p11-member", filename: "f.csv", wantErr: true},
		{name: "traversal filename", pnum: "p11", filename: "../../etc/passwd", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ImportFile(roots, tt.pnum, tt.group, tt.filename)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestSNSDir(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "pXX", "durable")
	if err := os.MkdirAll(filepath.Join(tmp, "p11", "durable"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := SNSDir(root, "p11", "255CE5ED50A7558B", "98765")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := filepath.Join(tmp, "p11", "durable", "nettskjema-submissions", "255CE5ED50A7558B", "98765")
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	tests := []struct {
		name   string
		pnum   string
		keyID  string
		formID string
	}{
		{name: "unconfigured project", pnum: "p1000", keyID: "255CE5ED50A7558B", formID: "98765"},
		{name: "lowercase key id", pnum: "p11", keyID: "255cE5ED50A7558B", formID: "98765"},
		{name: "key id too long", pnum: "p11", keyID: "255CE5ED50A7558BXIJIJ87878", formID: "98765"},
		{name: "non numeric form id", pnum: "p11", keyID: "255CE5ED50A7558B", formID: "99999-%$%&*"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := SNSDir(root, tt.pnum, tt.keyID, tt.formID); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSNSShadowDir(t *testing.T) {
	tmp := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmp, "p11"), 0o755); err != nil {
		t.Fatal(err)
	}
	got, err := SNSShadowDir(tmp, "p11", "255CE5ED50A7558B", "98765")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := filepath.Join(tmp, "p11", ".tsd", "255CE5ED50A7558B", "98765")
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestExportFile(t *testing.T) {
	roots := map[string]string{"p11": "/data/p11/export"}

	if _, err := ExportFile(roots, "p11", "file1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, name := range []string{
		"/bin/bash -c",
		"!#/bin/bash",
		"~!@#$%^&*()-+",
		"../../../p01/data/durable",
		"",
	} {
		if _, err := ExportFile(roots, "p11", name); err == nil {
			t.Fatalf("expected rejection of %q", name)
		}
	}

	if _, err := ExportFile(roots, "p12", "file1"); err == nil {
		t.Fatal("expected rejection of unconfigured project")
	}
}

func TestWithinRoot(t *testing.T) {
	tmp := t.TempDir()
	outside := t.TempDir()

	inside := filepath.Join(tmp, "ok")
	if err := os.WriteFile(inside, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	escape := filepath.Join(outside, "secret")
	if err := os.WriteFile(escape, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(tmp, "link")
	if err := os.Symlink(escape, link); err != nil {
		t.Fatal(err)
	}

	if err := WithinRoot(tmp, inside); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := WithinRoot(tmp, link); err == nil {
		t.Fatal("expected symlink escape to be rejected")
	}
}
