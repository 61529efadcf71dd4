// Copyright 2023 The Cockroach Authors
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
// SPDX-License-Identifier: Apache-2.0

package schemasvc

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"

	"github.com/sqlxcore/sqlxcore/internal/ident"
	"github.com/sqlxcore/sqlxcore/internal/types"
)

// entrySnapshot is the L2-serializable form of a cache entry: exactly
// one of Procedure/Tvp is populated, matching the entry's Kind. Fields
// are flattened to gob-friendly exported primitives because
// ident.Table's internal parts are unexported and would otherwise
// silently decode as empty.
type entrySnapshot struct {
	Key          types.CacheKey
	Procedure    *procedureSnapshot
	Tvp          *tvpSnapshot
	NextCheckDue int64 // unix nanos
}

type procedureSnapshot struct {
	Name       string
	Instance   types.InstanceId
	Version    types.VersionToken
	Parameters []types.ParameterMetadata
	ObservedAt int64 // unix nanos
}

type tvpSnapshot struct {
	Name       string
	Instance   types.InstanceId
	Version    types.VersionToken
	Columns    []types.ColumnDescriptor
	ObservedAt int64 // unix nanos
}

// l2Store is the cross-process tier: a single memory-mapped file per
// isolation key, holding a gob-encoded snapshot of every entry known to
// any process sharing that key. Publication replaces the whole file
// under the isolation key's procMutex; callers never mutate the mapped
// bytes directly.
//
// fingerprintDir/<isolation-key>.l2 is the file; a 8-byte big-endian
// length prefix precedes the gob payload so a reader never has to parse
// past a partially-flushed tail after a crash mid-write.
type l2Store struct {
	path string
}

// isolationKey derives a filesystem-safe fingerprint from a connection
// string, so two pools pointed at different servers never share an L2
// region.
func isolationKey(connectionString string) string {
	sum := sha256.Sum256([]byte(connectionString))
	return fmt.Sprintf("%x", sum[:8])
}

func newL2Store(dir, connectionString string) *l2Store {
	return &l2Store{path: filepath.Join(dir, isolationKey(connectionString)+".l2")}
}

// load reads and decodes the current snapshot. A missing file is not an
// error; it simply means no process has published yet.
func (s *l2Store) load() (map[types.CacheKey]entrySnapshot, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[types.CacheKey]entrySnapshot{}, nil
		}
		return nil, errors.Wrapf(err, "opening L2 region %q", s.path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "statting L2 region")
	}
	if info.Size() < 8 {
		return map[types.CacheKey]entrySnapshot{}, nil
	}

	region, err := mmap.MapRegion(f, int(info.Size()), mmap.RDONLY, 0, 0)
	if err != nil {
		return nil, errors.Wrap(err, "mapping L2 region")
	}
	defer region.Unmap()

	length := binary.BigEndian.Uint64(region[:8])
	if uint64(len(region)) < 8+length {
		// A writer's length prefix and payload were observed mid-flush;
		// treat as an empty snapshot rather than fail the request.
		return map[types.CacheKey]entrySnapshot{}, nil
	}

	var snapshots []entrySnapshot
	dec := gob.NewDecoder(bytes.NewReader(region[8 : 8+length]))
	if err := dec.Decode(&snapshots); err != nil {
		// The region is garbage (truncated write that passed the length
		// check, bit rot, a format change). Remove it so the next publish
		// starts clean instead of every future load failing forever; the
		// deferred Unmap/Close above still run against the now-unlinked
		// file, which POSIX permits.
		if rmErr := os.Remove(s.path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, errors.Wrapf(rmErr, "removing corrupt L2 region %q", s.path)
		}
		return map[types.CacheKey]entrySnapshot{}, nil
	}

	out := make(map[types.CacheKey]entrySnapshot, len(snapshots))
	for _, s := range snapshots {
		out[s.Key] = s
	}
	return out, nil
}

// publish overwrites the L2 region with the full snapshot set. Callers
// must hold the isolation key's procMutex for the duration of the call.
func (s *l2Store) publish(all map[types.CacheKey]entrySnapshot) error {
	snapshots := make([]entrySnapshot, 0, len(all))
	for _, e := range all {
		snapshots = append(snapshots, e)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snapshots); err != nil {
		return errors.Wrap(err, "encoding L2 snapshot")
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o600)
	if err != nil {
		return errors.Wrapf(err, "creating L2 region %q", tmp)
	}

	size := int64(8 + buf.Len())
	if err := f.Truncate(size); err != nil {
		f.Close()
		return errors.Wrap(err, "sizing L2 region")
	}

	region, err := mmap.MapRegion(f, int(size), mmap.RDWR, 0, 0)
	if err != nil {
		f.Close()
		return errors.Wrap(err, "mapping L2 region for write")
	}

	binary.BigEndian.PutUint64(region[:8], uint64(buf.Len()))
	copy(region[8:], buf.Bytes())

	if err := region.Flush(); err != nil {
		region.Unmap()
		f.Close()
		return errors.Wrap(err, "flushing L2 region")
	}
	if err := region.Unmap(); err != nil {
		f.Close()
		return errors.Wrap(err, "unmapping L2 region")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "closing L2 region")
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrapf(err, "publishing L2 region %q", s.path)
	}
	return nil
}

func toProcedureSnapshot(s *types.ProcedureSchema) *procedureSnapshot {
	if s == nil {
		return nil
	}
	return &procedureSnapshot{
		Name:       s.Name.Raw(),
		Instance:   s.Instance,
		Version:    s.Version,
		Parameters: s.Parameters,
		ObservedAt: s.ObservedAt.UnixNano(),
	}
}

func (s *procedureSnapshot) toProcedureSchema() *types.ProcedureSchema {
	if s == nil {
		return nil
	}
	return &types.ProcedureSchema{
		Name:       ident.NewQualifiedTable(s.Name),
		Instance:   s.Instance,
		Version:    s.Version,
		Parameters: s.Parameters,
		ObservedAt: time.Unix(0, s.ObservedAt),
	}
}

func toTvpSnapshot(s *types.TvpSchema) *tvpSnapshot {
	if s == nil {
		return nil
	}
	return &tvpSnapshot{
		Name:       s.Name.Raw(),
		Instance:   s.Instance,
		Version:    s.Version,
		Columns:    s.Columns,
		ObservedAt: s.ObservedAt.UnixNano(),
	}
}

func (s *tvpSnapshot) toTvpSchema() *types.TvpSchema {
	if s == nil {
		return nil
	}
	return &types.TvpSchema{
		Name:       ident.NewQualifiedTable(s.Name),
		Instance:   s.Instance,
		Version:    s.Version,
		Columns:    s.Columns,
		ObservedAt: time.Unix(0, s.ObservedAt),
	}
}
