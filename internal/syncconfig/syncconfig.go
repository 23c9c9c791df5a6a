// Copyright (C) 2014 Jakob Borg and Contributors (see the CONTRIBUTORS file).
//
// This program is free software: you can redistribute it and/or modify it
// under the terms of the GNU General Public License as published by the Free
// Software Foundation, either version 3 of the License, or (at your option)
// any later version.
//
// This program is distributed in the hope that it will be useful, but WITHOUT
// ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
// FITNESS FOR A PARTICULAR PURPOSE. See the GNU General Public License for
// more details.
//
// You should have received a copy of the GNU General Public License along
// with this program. If not, see <http://www.gnu.org/licenses/>.

// Package syncconfig loads the Folder entity of spec §3: a sync id, a
// root path, a sync mode, and an ignore file path. This is deliberately
// thin compared to the teacher's XML-backed internal/config
// (Configuration/FolderConfiguration and its device/GUI/versioning
// surface) — the full config tree is explicitly out of scope (§1), so
// this is a new, small package rather than a rewrite of that one. Uses
// sigs.k8s.io/yaml (a teacher dependency, used elsewhere for the REST
// API's JSON/YAML bridging) instead of the teacher's encoding/xml, since
// the reduced schema here has no legacy XML format to stay compatible
// with.
package syncconfig

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/calmh/peersync/internal/osutil"
)

// Mode selects which direction(s) a folder synchronizes in. The spec's
// core algorithm (DecisionEngine) is direction-agnostic. Load defaults
// Mode to ModeSendReceive and rejects unknown values, but Mode is not
// passed on to the coordinator: every folder synchronizes in both
// directions whatever its Mode.
type Mode string

const (
	ModeSendReceive Mode = "sendreceive"
	ModeSendOnly    Mode = "sendonly"
	ModeReceiveOnly Mode = "receiveonly"
)

// Folder is one synchronized folder's configuration.
type Folder struct {
	SyncID     string `json:"syncID"`
	Path       string `json:"path"`
	Mode       Mode   `json:"mode,omitempty"`
	IgnoreFile string `json:"ignoreFile,omitempty"`
}

// file is the on-disk document shape: a list of folders, so one file can
// describe everything a peersyncd instance participates in.
type file struct {
	Folders []Folder `json:"folders"`
}

// Load reads and validates every Folder entry from a YAML document at
// path.
func Load(path string) ([]Folder, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f file
	if err := yaml.Unmarshal(bs, &f); err != nil {
		return nil, fmt.Errorf("syncconfig: parsing %s: %w", path, err)
	}
	for i := range f.Folders {
		if f.Folders[i].Mode == "" {
			f.Folders[i].Mode = ModeSendReceive
		}
		expanded, err := osutil.ExpandTilde(f.Folders[i].Path)
		if err != nil {
			return nil, fmt.Errorf("syncconfig: folder %d: expanding path: %w", i, err)
		}
		f.Folders[i].Path = expanded
		if f.Folders[i].IgnoreFile != "" {
			expanded, err := osutil.ExpandTilde(f.Folders[i].IgnoreFile)
			if err != nil {
				return nil, fmt.Errorf("syncconfig: folder %d: expanding ignore file path: %w", i, err)
			}
			f.Folders[i].IgnoreFile = expanded
		}
		if err := f.Folders[i].validate(); err != nil {
			return nil, fmt.Errorf("syncconfig: folder %d: %w", i, err)
		}
	}
	return f.Folders, nil
}

func (f Folder) validate() error {
	if f.SyncID == "" {
		return fmt.Errorf("missing syncID")
	}
	if f.Path == "" {
		return fmt.Errorf("missing path")
	}
	switch f.Mode {
	case ModeSendReceive, ModeSendOnly, ModeReceiveOnly:
	default:
		return fmt.Errorf("unknown mode %q", f.Mode)
	}
	return nil
}
