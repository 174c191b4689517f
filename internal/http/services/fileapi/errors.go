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
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"github.com/opencloud-eu/fileapi/pkg/appctx"
	"github.com/opencloud-eu/fileapi/pkg/errtypes"
)

// writeError maps an error to its status code and a short JSON
// message. Internal details are logged, never returned to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := classify(errors.Cause(err))
	log := appctx.GetLogger(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	} else {
		log.Info().Err(err).Int("status", status).Msg("request denied")
	}
	writeJSON(w, r, status, map[string]string{"message": message})
}

func classify(err error) (int, string) {
	switch err.(type) {
	case errtypes.MissingToken:
		return http.StatusUnauthorized, "no token provided"
	case errtypes.WrongProject:
		return http.StatusUnauthorized, "access forbidden, token not valid for this project"
	case errtypes.WrongRole:
		return http.StatusUnauthorized, "access forbidden, your role does not allow this operation"
	case errtypes.NotAMember:
		return http.StatusUnauthorized, "access forbidden, not a member of the requested group"
	case errtypes.InvalidSignature:
		return http.StatusForbidden, "access forbidden, unable to verify signature"
	case errtypes.Expired:
		return http.StatusForbidden, "access forbidden, token expired"
	case errtypes.Forbidden:
		return http.StatusForbidden, "access forbidden"
	case errtypes.InvalidPath:
		return http.StatusBadRequest, "invalid path"
	case errtypes.InvalidSNSParam:
		return http.StatusBadRequest, "invalid sns parameters"
	case errtypes.MissingFilename:
		return http.StatusBadRequest, "no filename specified"
	case errtypes.EmptyBody:
		return http.StatusBadRequest, "empty file not allowed"
	case errtypes.TransformError:
		return http.StatusBadRequest, "could not decode request body"
	case errtypes.ChecksumMismatch:
		return http.StatusBadRequest, "checksum mismatch"
	case errtypes.PayloadTooLarge:
		return http.StatusRequestEntityTooLarge, "payload too large"
	case errtypes.ResumableNotFound:
		return http.StatusNotFound, "resumable not found"
	case errtypes.NotFound:
		return http.StatusNotFound, "not found"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appctx.GetLogger(r.Context()).Error().Err(err).Msg("writing response")
	}
}
