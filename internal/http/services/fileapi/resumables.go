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
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opencloud-eu/fileapi/pkg/errtypes"
	"github.com/opencloud-eu/fileapi/pkg/paths"
	"github.com/opencloud-eu/fileapi/pkg/resumable"
	"github.com/opencloud-eu/fileapi/pkg/token"
)

// resumableInfo lets a client discover where to resume: by filename,
// by id, or both. The answer carries the highest contiguous chunk and
// its digest so the client can detect divergence before continuing.
func (s *Service) resumableInfo(w http.ResponseWriter, r *http.Request) {
	pnum, _, err := s.authorize(r, token.RoleAppUser)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id := r.URL.Query().Get("id")
	filename := chi.URLParam(r, "filename")

	var info resumable.Info
	switch {
	case filename != "" && id != "":
		if filename, err = paths.CleanFilename(filename); err == nil {
			info, err = s.resumables.Lookup(pnum, id, filename)
		}
	case filename != "":
		if filename, err = paths.CleanFilename(filename); err == nil {
			info, err = s.resumables.LookupByFilename(pnum, filename)
		}
	case id != "":
		info, err = s.resumables.LookupByID(pnum, id)
	default:
		err = errtypes.ResumableNotFound("supply a filename or an id")
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"id":        info.ID,
		"filename":  info.Filename,
		"max_chunk": info.MaxChunk,
		"md5":       info.MD5,
	})
}

// resumableAbort drops an upload's chunk directory.
func (s *Service) resumableAbort(w http.ResponseWriter, r *http.Request) {
	pnum, _, err := s.authorize(r, token.RoleAppUser)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, r, errtypes.ResumableNotFound("an id is required"))
		return
	}
	filename := chi.URLParam(r, "filename")
	if filename != "" {
		if filename, err = paths.CleanFilename(filename); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if err := s.resumables.Abort(pnum, id, filename); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"message": "resumable deleted"})
}
