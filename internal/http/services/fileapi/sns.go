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

package fileapi

import (
	"io"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/opencloud-eu/fileapi/pkg/errtypes"
	"github.com/opencloud-eu/fileapi/pkg/paths"
	"github.com/opencloud-eu/fileapi/pkg/sink"
	"github.com/opencloud-eu/fileapi/pkg/token"
)

// snsUpload stores nettskjema submissions under the per-key, per-form
// directory, mirroring each file into the hidden audit subtree. Empty
// submissions are rejected.
func (s *Service) snsUpload(w http.ResponseWriter, r *http.Request) {
	pnum, claims, err := s.authorize(r, token.RoleAppUser)
	if err != nil {
		writeError(w, r, err)
		return
	}
	keyID := chi.URLParam(r, "keyID")
	formID := chi.URLParam(r, "formID")

	dir, err := paths.SNSDir(s.c.SNSUploadsRoot, pnum, keyID, formID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	shadow, err := paths.SNSShadowDir(s.c.SNSUploadsRoot, pnum, keyID, formID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	open := func(filename string) (*sink.Writer, error) {
		name, err := paths.CleanFilename(filename)
		if err != nil {
			return nil, err
		}
		return s.sink.Open(sink.Dest{
			Dir:      dir,
			Filename: name,
			Owner:    claims.User,
			Group:    paths.MemberGroup(pnum),
		})
	}

	count, err := s.saveFormFiles(r, open, true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if count == 0 {
		writeError(w, r, errtypes.MissingFilename("no file part in request"))
		return
	}
	if err := mirrorDir(dir, shadow); err != nil {
		writeError(w, r, errors.Wrap(err, "mirroring sns submission"))
		return
	}
	writeJSON(w, r, http.StatusCreated, map[string]string{"message": "data uploaded"})
}

// mirrorDir copies the visible submission files into the audit shadow.
func mirrorDir(dir, shadow string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(shadow, 0o755); err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := copyFile(dir+"/"+e.Name(), shadow+"/"+e.Name()); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
