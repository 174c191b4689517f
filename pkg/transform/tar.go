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

package transform

import (
	"archive/tar"
	"io"
	"path"
	"strings"

	"github.com/opencloud-eu/fileapi/pkg/errtypes"
)

// EntryWriter receives one tar entry's content. Commit makes the
// entry visible, Abort drops it.
type EntryWriter interface {
	io.Writer
	Commit() error
	Abort()
}

// Extract reads a tar stream and fans each regular file entry out
// through open. Directory entries are implied by entry paths; links
// and special files are rejected. Entry names may not point outside
// the destination.
func Extract(r io.Reader, open func(relpath string) (EntryWriter, error)) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errtypes.TransformError("reading tar: " + err.Error())
		}

		name, err := cleanEntryName(hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			continue
		case tar.TypeReg:
			if err := writeEntry(tr, name, open); err != nil {
				return err
			}
		default:
			return errtypes.TransformError("unsupported tar entry type for " + hdr.Name)
		}
	}
}

func writeEntry(tr *tar.Reader, name string, open func(string) (EntryWriter, error)) error {
	w, err := open(name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, tr); err != nil {
		w.Abort()
		return errtypes.TransformError("extracting " + name + ": " + err.Error())
	}
	return w.Commit()
}

func cleanEntryName(name string) (string, error) {
	name = strings.TrimPrefix(name, "./")
	cleaned := path.Clean(name)
	if cleaned == "." || cleaned == "" ||
		path.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errtypes.TransformError("tar entry escapes destination: " + name)
	}
	return cleaned, nil
}
