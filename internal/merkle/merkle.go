// Package merkle builds pairwise SHA-256 Merkle trees over hex-encoded leaf
// hashes. It performs no I/O.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// EmptyRoot is the root of a tree with no leaves: the SHA-256 of "".
const EmptyRoot = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

var hexDigest = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Tree is the result of BuildTree. Levels[0] holds the leaves and the last
// level holds only the root.
type Tree struct {
	Root   string     `json:"root"`
	Levels [][]string `json:"levels"`
}

// Hash returns the lowercase hex SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashString returns the lowercase hex SHA-256 digest of s.
func HashString(s string) string {
	return Hash([]byte(s))
}

// IsDigest reports whether s is a 64-character lowercase hex digest.
func IsDigest(s string) bool {
	return hexDigest.MatchString(s)
}

// BuildTree hashes leaves pairwise, level by level, until one hash remains.
// A pair is combined by hashing the concatenation of the two hex strings.
// An odd trailing hash is promoted to the next level unchanged.
func BuildTree(leaves []string) Tree {
	if len(leaves) == 0 {
		return Tree{Root: EmptyRoot, Levels: [][]string{{}}}
	}

	level := make([]string, len(leaves))
	copy(level, leaves)
	levels := [][]string{level}

	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, HashString(level[i]+level[i+1]))
		}
		levels = append(levels, next)
		level = next
	}

	return Tree{Root: level[0], Levels: levels}
}

// Root is shorthand for BuildTree(leaves).Root.
func Root(leaves []string) string {
	return BuildTree(leaves).Root
}

// Combine hashes the concatenation of roots in the given order. It is used
// to fold independently built roots into a single published value.
func Combine(roots ...string) string {
	return HashString(strings.Join(roots, ""))
}
