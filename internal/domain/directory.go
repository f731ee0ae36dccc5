package domain

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
)

// DirectoryNodeKind tags encoded directory nodes.
const DirectoryNodeKind = "directory/v1"

// FileEntry is a file inside a directory node.
type FileEntry struct {
	Name       string      `json:"name"`
	Locator    BlobLocator `json:"locator"`
	Length     int64       `json:"length"`
	Executable bool        `json:"executable,omitempty"`
}

// DirectoryEntry is a sub-directory inside a directory node.
type DirectoryEntry struct {
	Name    string      `json:"name"`
	Locator BlobLocator `json:"locator"`
	// Length is the total size of all files below this directory.
	Length int64 `json:"length"`
}

// DirectoryNode is a tree node describing one directory of a deployment's payload.
type DirectoryNode struct {
	Directories []DirectoryEntry `json:"directories,omitempty"`
	Files       []FileEntry      `json:"files,omitempty"`
}

type encodedDirectoryNode struct {
	Kind        string           `json:"kind"`
	Directories []DirectoryEntry `json:"directories,omitempty"`
	Files       []FileEntry      `json:"files,omitempty"`
}

// Length returns the total size of every file below the node.
func (n DirectoryNode) Length() int64 {
	var total int64
	for _, f := range n.Files {
		total += f.Length
	}
	for _, d := range n.Directories {
		total += d.Length
	}
	return total
}

// Normalize sorts entries by name so equal trees encode identically.
func (n *DirectoryNode) Normalize() {
	sort.Slice(n.Directories, func(i, j int) bool { return n.Directories[i].Name < n.Directories[j].Name })
	sort.Slice(n.Files, func(i, j int) bool { return n.Files[i].Name < n.Files[j].Name })
}

// Validate checks entry names and locators.
func (n DirectoryNode) Validate() error {
	seen := make(map[string]struct{}, len(n.Directories)+len(n.Files))
	check := func(name string, loc BlobLocator) error {
		if err := ValidateEntryName(name); err != nil {
			return err
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate entry %q", ErrInvalidPath, name)
		}
		seen[name] = struct{}{}
		return loc.Validate()
	}
	for _, d := range n.Directories {
		if err := check(d.Name, d.Locator); err != nil {
			return err
		}
	}
	for _, f := range n.Files {
		if err := check(f.Name, f.Locator); err != nil {
			return err
		}
	}
	return nil
}

// EncodeDirectoryNode returns the canonical encoding of a directory node.
func EncodeDirectoryNode(node DirectoryNode) ([]byte, error) {
	node.Directories = append([]DirectoryEntry(nil), node.Directories...)
	node.Files = append([]FileEntry(nil), node.Files...)
	node.Normalize()
	if err := node.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(encodedDirectoryNode{
		Kind:        DirectoryNodeKind,
		Directories: node.Directories,
		Files:       node.Files,
	})
}

// DecodeDirectoryNode parses an encoded directory node. Any failure wraps ErrCorrupt.
func DecodeDirectoryNode(data []byte) (DirectoryNode, error) {
	var enc encodedDirectoryNode
	if err := json.Unmarshal(data, &enc); err != nil {
		return DirectoryNode{}, fmt.Errorf("%w: decode directory node: %v", ErrCorrupt, err)
	}
	if enc.Kind != DirectoryNodeKind {
		return DirectoryNode{}, fmt.Errorf("%w: unexpected node kind %q", ErrCorrupt, enc.Kind)
	}
	node := DirectoryNode{Directories: enc.Directories, Files: enc.Files}
	if err := node.Validate(); err != nil {
		return DirectoryNode{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return node, nil
}

// ValidateEntryName rejects names that could escape a directory.
func ValidateEntryName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: entry name %q", ErrInvalidPath, name)
	}
	return nil
}

// SplitArchivePath cleans an archive member path and splits it into segments.
func SplitArchivePath(p string) ([]string, error) {
	p = strings.ReplaceAll(p, `\`, "/")
	if strings.HasPrefix(p, "/") {
		return nil, fmt.Errorf("%w: absolute path %q", ErrInvalidPath, p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return nil, fmt.Errorf("%w: parent reference in %q", ErrInvalidPath, p)
		}
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return nil, nil
	}
	parts := strings.Split(cleaned, "/")
	for _, seg := range parts {
		if err := ValidateEntryName(seg); err != nil {
			return nil, err
		}
	}
	return parts, nil
}
