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
	"strconv"

	"github.com/opencloud-eu/fileapi/pkg/errtypes"
	"github.com/opencloud-eu/fileapi/pkg/paths"
	"github.com/opencloud-eu/fileapi/pkg/sink"
	"github.com/opencloud-eu/fileapi/pkg/token"
	"github.com/opencloud-eu/fileapi/pkg/transform"
)

// stream accepts a request body, runs it through the decode pipeline
// and sinks the result. Authorization, group and destination are all
// settled before the first body read, so clients sending
// Expect: 100-Continue get their verdict before transmitting.
func (s *Service) stream(w http.ResponseWriter, r *http.Request) {
	pnum, claims, err := s.authorize(r, token.RoleAppUser)
	if err != nil {
		writeError(w, r, err)
		return
	}
	group, err := resolveGroup(r, pnum, claims)
	if err != nil {
		writeError(w, r, err)
		return
	}
	filename, err := requestFilename(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if r.URL.Query().Get("chunk") != "" {
		s.streamChunk(w, r, pnum, group, claims, filename)
		return
	}

	dir, err := paths.ImportDir(s.c.UploadsRoot, pnum, group)
	if err != nil {
		writeError(w, r, err)
		return
	}

	pl := transform.FromContentType(r.Header.Get("Content-Type"))
	key, err := s.keyMaterial(r, pl)
	if err != nil {
		writeError(w, r, err)
		return
	}

	body := s.body(w, r, s.c.MaxStreamBytes)
	reader, err := pl.Wrap(body, key)
	if err != nil {
		writeError(w, r, err)
		return
	}

	owner := claims.User
	if pl.IsTar() {
		err = transform.Extract(reader, func(rel string) (transform.EntryWriter, error) {
			return s.sink.Open(sink.Dest{Dir: dir, Filename: rel, Owner: owner, Group: group})
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
	} else {
		sw, err := s.sink.Open(sink.Dest{Dir: dir, Filename: filename, Owner: owner, Group: group})
		if err != nil {
			writeError(w, r, err)
			return
		}
		if _, err := io.Copy(sw, reader); err != nil {
			sw.Abort()
			writeError(w, r, asTransformError(err))
			return
		}
		if err := sw.Commit(); err != nil {
			writeError(w, r, err)
			return
		}
	}

	writeJSON(w, r, http.StatusCreated, map[string]string{"message": "data streamed"})
}

// streamChunk handles the ?chunk= branch of the streaming endpoint:
// numbered chunks append to the ledger, chunk=end triggers the merge.
func (s *Service) streamChunk(w http.ResponseWriter, r *http.Request, pnum, group string, claims *token.Claims, filename string) {
	chunk := r.URL.Query().Get("chunk")
	id := r.URL.Query().Get("id")

	if chunk == "end" {
		if id == "" {
			writeError(w, r, errtypes.ResumableNotFound("chunk=end requires an id"))
			return
		}
		dir, err := paths.ImportDir(s.c.UploadsRoot, pnum, group)
		if err != nil {
			writeError(w, r, err)
			return
		}
		dest := sink.Dest{Dir: dir, Filename: filename, Owner: claims.User, Group: group}
		contentMD5 := r.Header.Get("Content-MD5")
		if contentMD5 == "" {
			// trailers are only populated once the body has been read
			_, _ = io.Copy(io.Discard, r.Body)
			contentMD5 = r.Trailer.Get("Content-MD5")
		}
		if err := s.resumables.Finalize(pnum, id, filename, s.sink, dest, contentMD5); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusCreated, map[string]interface{}{
			"id":        id,
			"filename":  filename,
			"max_chunk": "end",
		})
		return
	}

	seq, err := strconv.Atoi(chunk)
	if err != nil {
		writeError(w, r, errtypes.InvalidPath("chunk must be a number or \"end\""))
		return
	}
	info, err := s.resumables.Append(pnum, id, filename, seq, s.body(w, r, s.c.MaxStreamBytes))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, map[string]interface{}{
		"id":        info.ID,
		"filename":  info.Filename,
		"max_chunk": info.MaxChunk,
		"md5":       info.MD5,
	})
}

// headStream mirrors the preconditions of a streaming upload without
// consuming a body.
func (s *Service) headStream(w http.ResponseWriter, r *http.Request) {
	if _, _, err := s.authorize(r, token.RoleAppUser); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := requestFilename(r); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// asTransformError keeps decode and disconnect failures in the 400
// family; everything else stays a server error.
func asTransformError(err error) error {
	switch err.(type) {
	case errtypes.TransformError, errtypes.PayloadTooLarge:
		return err
	}
	if err == io.ErrUnexpectedEOF {
		return errtypes.TransformError("body ended unexpectedly")
	}
	return err
}
