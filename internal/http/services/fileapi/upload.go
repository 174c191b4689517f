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
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/opencloud-eu/fileapi/pkg/errtypes"
	"github.com/opencloud-eu/fileapi/pkg/paths"
	"github.com/opencloud-eu/fileapi/pkg/sink"
	"github.com/opencloud-eu/fileapi/pkg/token"
)

// formUpload accepts multipart/form-data and stores every file part
// directly under the project import root. Parts are streamed one at a
// time, never buffered whole.
func (s *Service) formUpload(w http.ResponseWriter, r *http.Request) {
	pnum, claims, err := s.authorize(r, token.RoleAppUser)
	if err != nil {
		writeError(w, r, err)
		return
	}

	root, ok := s.c.UploadsRoot[pnum]
	if !ok {
		writeError(w, r, errtypes.InvalidPath("project not configured: "+pnum))
		return
	}

	open := func(filename string) (*sink.Writer, error) {
		name, err := paths.CleanFilename(filename)
		if err != nil {
			return nil, err
		}
		return s.sink.Open(sink.Dest{
			Dir:      root,
			Filename: name,
			Owner:    claims.User,
			Group:    paths.MemberGroup(pnum),
		})
	}

	count, err := s.saveFormFiles(r, open, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if count == 0 {
		writeError(w, r, errtypes.MissingFilename("no file part in request"))
		return
	}
	writeJSON(w, r, http.StatusCreated, map[string]string{"message": "uploaded files"})
}

// saveFormFiles streams the file parts of a multipart body through
// open. rejectEmpty makes zero-byte parts an error instead of a file.
func (s *Service) saveFormFiles(r *http.Request, open func(string) (*sink.Writer, error), rejectEmpty bool) (int, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, s.c.MaxBodyBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		return 0, errtypes.TransformError("request is not multipart form data")
	}

	count := 0
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, asMultipartError(err)
		}
		if part.FileName() == "" {
			continue
		}
		// FileName reduces the name to its last element; validate the
		// name as sent so directory parts are rejected, not stripped
		name := part.FileName()
		if _, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
			name = params["filename"]
		}
		sw, err := open(name)
		if err != nil {
			return count, err
		}
		if _, err := io.Copy(sw, part); err != nil {
			sw.Abort()
			return count, asMultipartError(err)
		}
		if rejectEmpty && sw.Size() == 0 {
			sw.Abort()
			return count, errtypes.EmptyBody(part.FileName())
		}
		if err := sw.Commit(); err != nil {
			return count, err
		}
		count++
	}
}

func asMultipartError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return errtypes.PayloadTooLarge("form data body exceeds the cap")
	}
	return errtypes.TransformError("reading form data: " + err.Error())
}

// headUpload reports what a POST with the same headers would do:
// 401 without a valid token, 400 without a form body, 201 otherwise.
func (s *Service) headUpload(w http.ResponseWriter, r *http.Request) {
	if _, _, err := s.authorize(r, token.RoleAppUser); err != nil {
		writeError(w, r, err)
		return
	}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		writeError(w, r, errtypes.TransformError("multipart content type required"))
		return
	}
	w.WriteHeader(http.StatusCreated)
}
