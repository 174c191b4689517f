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

package sink

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommit(t *testing.T) {
	dir := t.TempDir()
	s := &Sink{}

	w, err := s.Open(Dest{Dir: dir, Filename: "out.csv"})
	require.NoError(t, err)
	_, err = io.Copy(w, strings.NewReader("x,y\n4,5\n2,1\n"))
	require.NoError(t, err)
	require.EqualValues(t, 12, w.Size())
	require.NoError(t, w.Commit())

	got, err := os.ReadFile(filepath.Join(dir, "out.csv"))
	require.NoError(t, err)
	require.Equal(t, "x,y\n4,5\n2,1\n", string(got))

	// nothing pending left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestAbortLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	s := &Sink{}

	w, err := s.Open(Dest{Dir: dir, Filename: "out.csv"})
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)
	w.Abort()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestOverwrite(t *testing.T) {
	dir := t.TempDir()
	s := &Sink{}

	for _, content := range []string{"first", "second"} {
		w, err := s.Open(Dest{Dir: dir, Filename: "f"})
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
		require.NoError(t, w.Commit())
	}

	got, err := os.ReadFile(filepath.Join(dir, "f"))
	require.NoError(t, err)
	require.Equal(t, "second", string(got))
}

func TestNestedDestination(t *testing.T) {
	dir := t.TempDir()
	s := &Sink{}

	w, err := s.Open(Dest{Dir: dir, Filename: filepath.Join("tree", "nested", "b.csv")})
	require.NoError(t, err)
	_, err = w.Write([]byte("2,1\n"))
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	got, err := os.ReadFile(filepath.Join(dir, "tree", "nested", "b.csv"))
	require.NoError(t, err)
	require.Equal(t, "2,1\n", string(got))
}

func TestInvisibleUntilCommit(t *testing.T) {
	dir := t.TempDir()
	s := &Sink{}

	w, err := s.Open(Dest{Dir: dir, Filename: "f"})
	require.NoError(t, err)
	_, err = w.Write([]byte("data"))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "f"))
	require.True(t, os.IsNotExist(err))
	require.NoError(t, w.Commit())
	_, err = os.Stat(filepath.Join(dir, "f"))
	require.NoError(t, err)
}
