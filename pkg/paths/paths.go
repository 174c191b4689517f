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

// Package paths maps request parameters to validated destination paths.
// All functions are deterministic; the only filesystem access is the
// existence check on configured project roots and the symlink check
// used by export downloads.
package paths

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/opencloud-eu/fileapi/pkg/errtypes"
)

var (
	pnumRegex  = regexp.MustCompile(`^p[0-9]+$`)
	groupRegex = regexp.MustCompile(`^p[0-9]+-[a-z0-9-]+-group$`)
	keyIDRegex = regexp.MustCompile(`^[0-9A-F]{16}$`)
	formRegex  = regexp.MustCompile(`^[0-9]+$`)

	// filenames are restricted to a conservative whitelist, everything
	// else is rejected rather than escaped.
	filenameRegex = regexp.MustCompile(`^[a-zA-Z0-9 _+,.=@-]+$`)
)

// snsPlaceholder in the configured sns root is substituted with the
// project number, e.g. /data/pXX/durable -> /data/p11/durable.
const snsPlaceholder = "pXX"

// submissionsDir is the subtree sns uploads land in.
const submissionsDir = "nettskjema-submissions"

// shadowDir mirrors the submissions subtree for internal auditing.
const shadowDir = ".tsd"

// MemberGroup returns the default group for a project.
func MemberGroup(pnum string) string {
	return pnum + "-member-group"
}

// ValidPnum reports whether pnum is a well-formed project number.
func ValidPnum(pnum string) bool {
	return pnumRegex.MatchString(pnum)
}

// ValidGroup reports whether group is a well-formed group name.
func ValidGroup(group string) bool {
	return groupRegex.MatchString(group)
}

// CleanFilename validates an upload filename against the whitelist.
// Names carrying directory components or traversal sequences are
// rejected outright rather than stripped down to something writable.
func CleanFilename(name string) (string, error) {
	name = strings.TrimSuffix(name, "/")
	if name == "" || name == "." {
		return "", errtypes.MissingFilename(name)
	}
	if strings.Contains(name, "..") || !filenameRegex.MatchString(name) {
		return "", errtypes.InvalidPath(name)
	}
	return filepath.Base(name), nil
}

// ImportDir resolves the directory streamed uploads for the given
// group land in. An empty group defaults to the project member group.
func ImportDir(roots map[string]string, pnum, group string) (string, error) {
	if !ValidPnum(pnum) {
		return "", errtypes.InvalidPath(pnum)
	}
	root, ok := roots[pnum]
	if !ok {
		return "", errtypes.InvalidPath("project not configured: " + pnum)
	}
	if group == "" {
		group = MemberGroup(pnum)
	}
	if !ValidGroup(group) {
		return "", errtypes.InvalidPath(group)
	}
	return insideRoot(root, group)
}

// ImportFile resolves the final destination of a streamed upload.
func ImportFile(roots map[string]string, pnum, group, filename string) (string, error) {
	dir, err := ImportDir(roots, pnum, group)
	if err != nil {
		return "", err
	}
	name, err := CleanFilename(filename)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// FormFile resolves the destination of a form-data upload, which lands
// directly under the project import root.
func FormFile(roots map[string]string, pnum, filename string) (string, error) {
	if !ValidPnum(pnum) {
		return "", errtypes.InvalidPath(pnum)
	}
	root, ok := roots[pnum]
	if !ok {
		return "", errtypes.InvalidPath("project not configured: " + pnum)
	}
	name, err := CleanFilename(filename)
	if err != nil {
		return "", err
	}
	return insideRoot(root, name)
}

// SNSDir resolves the directory for nettskjema submissions. The
// project base directory must already exist; key ids are matched
// case-sensitively, mixed case is rejected rather than folded.
func SNSDir(root, pnum, keyID, formID string) (string, error) {
	base, err := snsBase(root, pnum)
	if err != nil {
		return "", err
	}
	if !keyIDRegex.MatchString(keyID) {
		return "", errtypes.InvalidSNSParam(keyID)
	}
	if !formRegex.MatchString(formID) {
		return "", errtypes.InvalidSNSParam(formID)
	}
	if _, err := os.Stat(base); err != nil {
		return "", errtypes.InvalidSNSParam("project directory missing: " + base)
	}
	return filepath.Join(base, submissionsDir, keyID, formID), nil
}

// SNSShadowDir resolves the hidden companion of SNSDir.
func SNSShadowDir(root, pnum, keyID, formID string) (string, error) {
	dir, err := SNSDir(root, pnum, keyID, formID)
	if err != nil {
		return "", err
	}
	base := filepath.Dir(filepath.Dir(filepath.Dir(dir))) // strip submissions/key/form
	return filepath.Join(base, shadowDir, keyID, formID), nil
}

func snsBase(root, pnum string) (string, error) {
	if !ValidPnum(pnum) {
		return "", errtypes.InvalidSNSParam(pnum)
	}
	if root == "" {
		return "", errtypes.InvalidSNSParam("sns root not configured")
	}
	if strings.Contains(root, snsPlaceholder) {
		return strings.Replace(root, snsPlaceholder, pnum, 1), nil
	}
	return filepath.Join(root, pnum), nil
}

// ExportDir resolves the export root of a project.
func ExportDir(roots map[string]string, pnum string) (string, error) {
	if !ValidPnum(pnum) {
		return "", errtypes.Forbidden(pnum)
	}
	root, ok := roots[pnum]
	if !ok {
		return "", errtypes.Forbidden("project not configured: " + pnum)
	}
	return root, nil
}

// ExportFile resolves a file inside the export root. Traversal and
// shell metacharacters are treated as access violations, not as bad
// input.
func ExportFile(roots map[string]string, pnum, filename string) (string, error) {
	root, err := ExportDir(roots, pnum)
	if err != nil {
		return "", err
	}
	if filename == "" || strings.Contains(filename, "..") || !filenameRegex.MatchString(filename) {
		return "", errtypes.Forbidden(filename)
	}
	return insideRoot(root, filename)
}

// WithinRoot resolves symlinks in path and verifies the target is
// still under root.
func WithinRoot(root, path string) error {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return errtypes.NotFound(path)
	}
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return errtypes.Forbidden(root)
	}
	if resolved != resolvedRoot && !strings.HasPrefix(resolved, resolvedRoot+string(filepath.Separator)) {
		return errtypes.Forbidden(path)
	}
	return nil
}

// insideRoot joins and re-checks that the result did not escape.
func insideRoot(root string, elems ...string) (string, error) {
	joined := filepath.Join(append([]string{root}, elems...)...)
	cleanRoot := filepath.Clean(root)
	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) {
		return "", errtypes.InvalidPath(joined)
	}
	return joined, nil
}
