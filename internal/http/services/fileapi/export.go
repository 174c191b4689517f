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
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opencloud-eu/fileapi/pkg/appctx"
	"github.com/opencloud-eu/fileapi/pkg/errtypes"
	"github.com/opencloud-eu/fileapi/pkg/paths"
	"github.com/opencloud-eu/fileapi/pkg/token"
)

type exportEntry struct {
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	Mtime string `json:"mtime"`
}

// exportList returns the immediate regular files of the project export
// root. No recursion, no directories.
func (s *Service) exportList(w http.ResponseWriter, r *http.Request) {
	pnum, _, err := s.authorize(r, token.RoleExportUser, token.RoleAdminUser)
	if err != nil {
		writeError(w, r, err)
		return
	}
	root, err := paths.ExportDir(s.c.ExportRoot, pnum)
	if err != nil {
		writeError(w, r, err)
		return
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		writeError(w, r, errtypes.NotFound("export directory unavailable"))
		return
	}

	files := []exportEntry{}
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		files = append(files, exportEntry{
			Name:  e.Name(),
			Size:  fi.Size(),
			Mtime: fi.ModTime().Format(time.RFC3339),
		})
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{"files": files})
}

// exportDownload streams one file out of the export root. Anything
// resembling traversal, shell input or a symlink escape is denied.
func (s *Service) exportDownload(w http.ResponseWriter, r *http.Request) {
	pnum, _, err := s.authorize(r, token.RoleExportUser, token.RoleAdminUser)
	if err != nil {
		writeError(w, r, err)
		return
	}
	filename := chi.URLParam(r, "*")
	path, err := paths.ExportFile(s.c.ExportRoot, pnum, filename)
	if err != nil {
		writeError(w, r, err)
		return
	}
	root, err := paths.ExportDir(s.c.ExportRoot, pnum)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := paths.WithinRoot(root, path); err != nil {
		writeError(w, r, err)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		writeError(w, r, errtypes.NotFound(filename))
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil || !fi.Mode().IsRegular() {
		writeError(w, r, errtypes.Forbidden(filename))
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(fi.Size(), 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		appctx.GetLogger(r.Context()).Warn().Err(err).Msg("export download interrupted")
	}
}
