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

// Package resumable manages multi-request chunked uploads. The ledger
// is the filesystem itself: each upload owns a directory named by its
// id under the project uploads root, chunks are files with the
// sequence number encoded in the name, and state markers are hidden
// files in the same directory. That keeps the ledger recoverable
// after a crash without an embedded database.
package resumable

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/opencloud-eu/fileapi/pkg/errtypes"
	"github.com/opencloud-eu/fileapi/pkg/sink"
)

const (
	chunkInfix     = ".chunk."
	partSuffix     = ".part"
	mergingMarker  = ".merging"
	abortedMarker  = ".aborted"
	ledgerLockFile = ".lock"
)

// Info describes the observable state of a resumable upload.
type Info struct {
	ID       string
	Filename string
	// MaxChunk is the highest contiguously received sequence number.
	MaxChunk int
	// MD5 is the digest of chunk MaxChunk in lookups, used by clients to
	// detect divergence before resuming. Append reports the digest of
	// the chunk it just stored instead.
	MD5 string
	// Finalized is not set by any Manager method: a merge removes the
	// upload directory, after which lookups return ResumableNotFound.
	Finalized bool
}

// Manager owns the chunk directories and the per-upload locks.
type Manager struct {
	roots map[string]string
	ttl   time.Duration
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns a Manager over the per-project uploads roots.
func New(roots map[string]string, ttl time.Duration) *Manager {
	return &Manager{
		roots: roots,
		ttl:   ttl,
		now:   time.Now,
		locks: map[string]*sync.Mutex{},
	}
}

// lockFor returns the in-process mutex serializing ledger mutations of
// one upload. It is never held across network reads.
func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

func (m *Manager) dropLock(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, id)
}

func (m *Manager) uploadDir(pnum, id string) (string, error) {
	root, ok := m.roots[pnum]
	if !ok {
		return "", errtypes.InvalidPath("project not configured: " + pnum)
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", errtypes.ResumableNotFound(id)
	}
	return filepath.Join(root, id), nil
}

// Append stores one chunk. An empty id allocates a new upload. The
// chunk body is streamed to a partial file without holding the upload
// lock; only the final rename into the ledger is serialized.
func (m *Manager) Append(pnum, id, filename string, seq int, body io.Reader) (Info, error) {
	if seq < 1 {
		return Info{}, errtypes.InvalidPath(fmt.Sprintf("chunk sequence must start at 1, got %d", seq))
	}
	allocated := false
	if id == "" {
		id = uuid.NewString()
		allocated = true
	}
	dir, err := m.uploadDir(pnum, id)
	if err != nil {
		return Info{}, err
	}
	if allocated {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Info{}, errors.Wrap(err, "creating upload directory")
		}
	} else if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return Info{}, errtypes.ResumableNotFound(id)
	}
	if m.aborted(dir) {
		return Info{}, errtypes.ResumableNotFound("upload was aborted: " + id)
	}

	part, err := os.CreateTemp(dir, filename+chunkInfix+strconv.Itoa(seq)+partSuffix+"-*")
	if err != nil {
		return Info{}, errors.Wrap(err, "creating chunk file")
	}
	digest := md5.New()
	_, err = io.Copy(io.MultiWriter(part, digest), body)
	if cerr := part.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		// the interrupted chunk is dropped, the ledger stays usable
		os.Remove(part.Name())
		return Info{}, errors.Wrap(err, "storing chunk")
	}

	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	fl := flock.New(filepath.Join(dir, ledgerLockFile))
	if err := fl.Lock(); err != nil {
		os.Remove(part.Name())
		return Info{}, errors.Wrap(err, "locking ledger")
	}
	defer fl.Unlock()

	target := filepath.Join(dir, filename+chunkInfix+strconv.Itoa(seq))
	if err := os.Rename(part.Name(), target); err != nil {
		os.Remove(part.Name())
		return Info{}, errors.Wrap(err, "recording chunk")
	}

	maxChunk, _, err := m.chunkState(dir, filename)
	if err != nil {
		return Info{}, err
	}
	return Info{
		ID:       id,
		Filename: filename,
		MaxChunk: maxChunk,
		MD5:      hex.EncodeToString(digest.Sum(nil)),
	}, nil
}

// Lookup returns the state of an upload by id.
func (m *Manager) Lookup(pnum, id, filename string) (Info, error) {
	dir, err := m.uploadDir(pnum, id)
	if err != nil {
		return Info{}, err
	}
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return Info{}, errtypes.ResumableNotFound(id)
	}
	if m.aborted(dir) {
		return Info{}, errtypes.ResumableNotFound("upload was aborted: " + id)
	}
	return m.info(dir, id, filename)
}

// LookupByID derives the filename from the stored chunks when the
// client only remembers its upload id.
func (m *Manager) LookupByID(pnum, id string) (Info, error) {
	dir, err := m.uploadDir(pnum, id)
	if err != nil {
		return Info{}, err
	}
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return Info{}, errtypes.ResumableNotFound(id)
	}
	if m.aborted(dir) {
		return Info{}, errtypes.ResumableNotFound("upload was aborted: " + id)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Info{}, errors.Wrap(err, "reading upload directory")
	}
	for _, e := range entries {
		i := strings.LastIndex(e.Name(), chunkInfix)
		if e.IsDir() || i <= 0 || strings.Contains(e.Name(), partSuffix) {
			continue
		}
		return m.info(dir, id, e.Name()[:i])
	}
	return Info{}, errtypes.ResumableNotFound(id)
}

// LookupByFilename finds the most recently active open upload for a
// filename, for clients resuming without their id.
func (m *Manager) LookupByFilename(pnum, filename string) (Info, error) {
	root, ok := m.roots[pnum]
	if !ok {
		return Info{}, errtypes.InvalidPath("project not configured: " + pnum)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return Info{}, errtypes.ResumableNotFound(filename)
	}

	var (
		bestDir string
		bestID  string
		bestAt  time.Time
	)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := uuid.Parse(e.Name()); err != nil {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if m.aborted(dir) || m.merging(dir) {
			continue
		}
		max, _, err := m.chunkState(dir, filename)
		if err != nil || max == 0 {
			continue
		}
		at := m.lastActivity(dir)
		if bestDir == "" || at.After(bestAt) {
			bestDir, bestID, bestAt = dir, e.Name(), at
		}
	}
	if bestDir == "" {
		return Info{}, errtypes.ResumableNotFound(filename)
	}
	return m.info(bestDir, bestID, filename)
}

// Finalize merges chunks 1..N into dest through the sink in one
// streaming pass. A client supplied digest is verified before the
// merged file becomes visible; on mismatch the upload is marked
// aborted and the chunks are kept for inspection until the TTL reaper
// collects them.
func (m *Manager) Finalize(pnum, id, filename string, s *sink.Sink, dest sink.Dest, contentMD5 string) error {
	dir, err := m.uploadDir(pnum, id)
	if err != nil {
		return err
	}
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return errtypes.ResumableNotFound(id)
	}

	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	fl := flock.New(filepath.Join(dir, ledgerLockFile))
	if err := fl.Lock(); err != nil {
		return errors.Wrap(err, "locking ledger")
	}
	defer fl.Unlock()

	if m.aborted(dir) {
		return errtypes.ResumableNotFound("upload was aborted: " + id)
	}

	maxChunk, seqs, err := m.chunkState(dir, filename)
	if err != nil {
		return err
	}
	if len(seqs) == 0 {
		return errtypes.ResumableNotFound("no chunks for " + filename)
	}
	if maxChunk != seqs[len(seqs)-1] {
		return errtypes.ChecksumMismatch(
			fmt.Sprintf("cannot merge %s, chunks are not contiguous up to %d", filename, seqs[len(seqs)-1]))
	}

	if err := touch(filepath.Join(dir, mergingMarker)); err != nil {
		return errors.Wrap(err, "marking merge")
	}

	if err := m.merge(dir, filename, seqs, s, dest, contentMD5); err != nil {
		// keep the chunks, hand the upload to the reaper
		_ = touch(filepath.Join(dir, abortedMarker))
		_ = os.Remove(filepath.Join(dir, mergingMarker))
		return err
	}

	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrap(err, "removing merged upload")
	}
	m.dropLock(id)
	return nil
}

func (m *Manager) merge(dir, filename string, seqs []int, s *sink.Sink, dest sink.Dest, contentMD5 string) error {
	w, err := s.Open(dest)
	if err != nil {
		return err
	}
	digest := md5.New()
	for _, seq := range seqs {
		f, err := os.Open(filepath.Join(dir, filename+chunkInfix+strconv.Itoa(seq)))
		if err != nil {
			w.Abort()
			return errors.Wrap(err, "opening chunk")
		}
		_, err = io.Copy(io.MultiWriter(w, digest), f)
		f.Close()
		if err != nil {
			w.Abort()
			return errors.Wrap(err, "merging chunk")
		}
	}
	if contentMD5 != "" && !strings.EqualFold(contentMD5, hex.EncodeToString(digest.Sum(nil))) {
		w.Abort()
		return errtypes.ChecksumMismatch("merged digest differs from Content-MD5")
	}
	return w.Commit()
}

// Abort removes the upload directory and its chunks.
func (m *Manager) Abort(pnum, id, filename string) error {
	dir, err := m.uploadDir(pnum, id)
	if err != nil {
		return err
	}
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return errtypes.ResumableNotFound(id)
	}

	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrap(err, "removing upload")
	}
	m.dropLock(id)
	return nil
}

// Sweep removes uploads idle longer than the TTL and returns how many
// it reaped.
func (m *Manager) Sweep() int {
	reaped := 0
	cutoff := m.now().Add(-m.ttl)
	for _, root := range m.roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			if _, err := uuid.Parse(e.Name()); err != nil {
				continue
			}
			dir := filepath.Join(root, e.Name())
			if m.lastActivity(dir).After(cutoff) {
				continue
			}
			lock := m.lockFor(e.Name())
			lock.Lock()
			if err := os.RemoveAll(dir); err == nil {
				reaped++
			}
			lock.Unlock()
			m.dropLock(e.Name())
		}
	}
	return reaped
}

// chunkState lists the stored sequence numbers for filename and the
// highest contiguous one.
func (m *Manager) chunkState(dir, filename string) (int, []int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, nil, errors.Wrap(err, "reading upload directory")
	}
	var seqs []int
	prefix := filename + chunkInfix
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		tail := strings.TrimPrefix(e.Name(), prefix)
		if strings.Contains(tail, partSuffix) {
			continue
		}
		seq, err := strconv.Atoi(tail)
		if err != nil || seq < 1 {
			continue
		}
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)

	max := 0
	for _, seq := range seqs {
		if seq == max+1 {
			max = seq
		} else if seq > max+1 {
			break
		}
	}
	return max, seqs, nil
}

func (m *Manager) info(dir, id, filename string) (Info, error) {
	maxChunk, _, err := m.chunkState(dir, filename)
	if err != nil {
		return Info{}, err
	}
	if maxChunk == 0 {
		return Info{}, errtypes.ResumableNotFound(filename)
	}
	sum, err := chunkMD5(filepath.Join(dir, filename+chunkInfix+strconv.Itoa(maxChunk)))
	if err != nil {
		return Info{}, err
	}
	return Info{ID: id, Filename: filename, MaxChunk: maxChunk, MD5: sum}, nil
}

func (m *Manager) lastActivity(dir string) time.Time {
	latest := time.Time{}
	st, err := os.Stat(dir)
	if err == nil {
		latest = st.ModTime()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return latest
	}
	for _, e := range entries {
		if fi, err := e.Info(); err == nil && fi.ModTime().After(latest) {
			latest = fi.ModTime()
		}
	}
	return latest
}

func (m *Manager) aborted(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, abortedMarker))
	return err == nil
}

func (m *Manager) merging(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, mergingMarker))
	return err == nil
}

func chunkMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "opening chunk")
	}
	defer f.Close()
	digest := md5.New()
	if _, err := io.Copy(digest, f); err != nil {
		return "", errors.Wrap(err, "digesting chunk")
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

func touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}
