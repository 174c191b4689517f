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

// Package sink persists decoded upload streams. Bytes go to a pending
// temp file in the destination directory and only become visible
// through an atomic rename on Commit, so readers never observe a
// partial file and an interrupted upload leaves nothing behind.
package sink

import (
	"os"
	"os/user"
	"path/filepath"
	"strconv"

	"github.com/google/renameio/v2"
	"github.com/pkg/errors"
)

// Dest describes where a stream ends up and who owns it afterwards.
type Dest struct {
	Dir      string
	Filename string
	Owner    string
	Group    string
}

// Path returns the final destination path.
func (d Dest) Path() string {
	return filepath.Join(d.Dir, d.Filename)
}

// Sink opens writers for destinations. SetOwner controls the chown
// after rename; it requires Owner and Group to resolve in the OS user
// database.
type Sink struct {
	SetOwner bool
}

// Writer streams one file to its destination. Exactly one of Commit
// or Abort must be called.
type Writer struct {
	pending  *renameio.PendingFile
	dest     Dest
	setOwner bool
	size     int64
}

// Open prepares a pending file for dest, creating the destination
// directory as needed. Overwriting an existing file is always
// permitted; last writer wins, atomically.
func (s *Sink) Open(dest Dest) (*Writer, error) {
	dir := filepath.Dir(dest.Path())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating destination directory")
	}
	pending, err := renameio.NewPendingFile(dest.Path(),
		renameio.WithTempDir(dir),
		renameio.WithPermissions(0o644),
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating pending file")
	}
	return &Writer{pending: pending, dest: dest, setOwner: s.SetOwner}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.pending.Write(p)
	w.size += int64(n)
	return n, err
}

// Size returns the number of bytes written so far.
func (w *Writer) Size() int64 {
	return w.size
}

// Commit fsyncs, renames the pending file over the destination and
// applies ownership.
func (w *Writer) Commit() error {
	if err := w.pending.CloseAtomicallyReplace(); err != nil {
		return errors.Wrap(err, "committing "+w.dest.Filename)
	}
	if !w.setOwner {
		return nil
	}
	uid, gid, err := resolveOwner(w.dest.Owner, w.dest.Group)
	if err != nil {
		return err
	}
	if err := os.Chown(w.dest.Path(), uid, gid); err != nil {
		return errors.Wrap(err, "chowning "+w.dest.Filename)
	}
	return nil
}

// Abort drops the pending temp file. Safe to call after Commit.
func (w *Writer) Abort() {
	_ = w.pending.Cleanup()
}

func resolveOwner(owner, group string) (int, int, error) {
	u, err := user.Lookup(owner)
	if err != nil {
		return 0, 0, errors.Wrap(err, "looking up owner")
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, 0, errors.Wrap(err, "parsing uid")
	}
	gid := uid
	if group != "" {
		g, err := user.LookupGroup(group)
		if err != nil {
			return 0, 0, errors.Wrap(err, "looking up group")
		}
		if gid, err = strconv.Atoi(g.Gid); err != nil {
			return 0, 0, errors.Wrap(err, "parsing gid")
		}
	}
	return uid, gid, nil
}
