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

// Package errtypes contains definitions for the errors the service
// hands back to clients. It would have been nice to call this package
// errors, but that clashes with github.com/pkg/errors.
package errtypes

// MissingToken is the error to use when no bearer token was supplied.
type MissingToken string

func (e MissingToken) Error() string { return "error: missing token: " + string(e) }

// IsMissingToken is the method to check for w
func (e MissingToken) IsMissingToken() {}

// InvalidSignature is the error to use when a token fails signature verification.
type InvalidSignature string

func (e InvalidSignature) Error() string { return "error: invalid signature: " + string(e) }

// IsInvalidSignature is the method to check for w
func (e InvalidSignature) IsInvalidSignature() {}

// Expired is the error to use when a token is outside its validity window.
type Expired string

func (e Expired) Error() string { return "error: expired: " + string(e) }

// IsExpired is the method to check for w
func (e Expired) IsExpired() {}

// WrongProject is the error to use when a token was minted for another project.
type WrongProject string

func (e WrongProject) Error() string { return "error: wrong project: " + string(e) }

// IsWrongProject is the method to check for w
func (e WrongProject) IsWrongProject() {}

// WrongRole is the error to use when the token role does not allow the operation.
type WrongRole string

func (e WrongRole) Error() string { return "error: wrong role: " + string(e) }

// IsWrongRole is the method to check for w
func (e WrongRole) IsWrongRole() {}

// NotAMember is the error to use when the requested group is not in the token.
type NotAMember string

func (e NotAMember) Error() string { return "error: not a member: " + string(e) }

// IsNotAMember is the method to check for w
func (e NotAMember) IsNotAMember() {}

// InvalidPath is the error to use when a destination path fails validation.
type InvalidPath string

func (e InvalidPath) Error() string { return "error: invalid path: " + string(e) }

// IsInvalidPath is the method to check for w
func (e InvalidPath) IsInvalidPath() {}

// InvalidSNSParam is the error to use when an sns key or form id fails validation.
type InvalidSNSParam string

func (e InvalidSNSParam) Error() string { return "error: invalid sns param: " + string(e) }

// IsInvalidSNSParam is the method to check for w
func (e InvalidSNSParam) IsInvalidSNSParam() {}

// MissingFilename is the error to use when no filename accompanies an upload.
type MissingFilename string

func (e MissingFilename) Error() string { return "error: missing filename: " + string(e) }

// IsMissingFilename is the method to check for w
func (e MissingFilename) IsMissingFilename() {}

// EmptyBody is the error to use when an upload produced zero bytes.
type EmptyBody string

func (e EmptyBody) Error() string { return "error: empty body: " + string(e) }

// IsEmptyBody is the method to check for w
func (e EmptyBody) IsEmptyBody() {}

// TransformError is the error to use when a body decoder fails mid-stream.
type TransformError string

func (e TransformError) Error() string { return "error: transform: " + string(e) }

// IsTransformError is the method to check for w
func (e TransformError) IsTransformError() {}

// ChecksumMismatch is the error to use when stored and reported digests differ.
type ChecksumMismatch string

func (e ChecksumMismatch) Error() string { return "error: checksum mismatch: " + string(e) }

// IsChecksumMismatch is the method to check for w
func (e ChecksumMismatch) IsChecksumMismatch() {}

// PayloadTooLarge is the error to use when a body exceeds the configured cap.
type PayloadTooLarge string

func (e PayloadTooLarge) Error() string { return "error: payload too large: " + string(e) }

// IsPayloadTooLarge is the method to check for w
func (e PayloadTooLarge) IsPayloadTooLarge() {}

// ResumableNotFound is the error to use when no matching resumable upload exists.
type ResumableNotFound string

func (e ResumableNotFound) Error() string { return "error: resumable not found: " + string(e) }

// IsResumableNotFound is the method to check for w
func (e ResumableNotFound) IsResumableNotFound() {}

// Forbidden is the error to use when an authenticated request is denied.
type Forbidden string

func (e Forbidden) Error() string { return "error: forbidden: " + string(e) }

// IsForbidden is the method to check for w
func (e Forbidden) IsForbidden() {}

// NotFound is the error to use when a resource is not found.
type NotFound string

func (e NotFound) Error() string { return "error: not found: " + string(e) }

// IsNotFound is the method to check for w
func (e NotFound) IsNotFound() {}

// InternalError is the error to use for unexpected server-side failures.
type InternalError string

func (e InternalError) Error() string { return "error: internal: " + string(e) }

// IsInternalError is the method to check for w
func (e InternalError) IsInternalError() {}
