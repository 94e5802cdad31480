// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package call

import (
	"bytes"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"
)

// MaxPrincipalLen is the maximum length of a principal, in bytes.
const MaxPrincipalLen = 29

// Principal identifies a canister or user, as raw bytes.
type Principal []byte

// ManagementCanister is the principal of the management canister,
// textually "aaaaa-aa".
var ManagementCanister = Principal{}

var principalEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// ErrInvalidPrincipal is wrapped by the errors returned by ParsePrincipal.
var ErrInvalidPrincipal = errors.New(`call: invalid principal`)

// String returns the textual form: the base32 (lower case, unpadded)
// encoding of a big-endian CRC32 checksum followed by the bytes, grouped in
// fives, separated by dashes.
func (x Principal) String() string {
	buf := make([]byte, 4, 4+len(x))
	binary.BigEndian.PutUint32(buf, crc32.ChecksumIEEE(x))
	buf = append(buf, x...)
	s := strings.ToLower(principalEncoding.EncodeToString(buf))
	var b strings.Builder
	b.Grow(len(s) + len(s)/5)
	for i := 0; i < len(s); i += 5 {
		if i != 0 {
			b.WriteByte('-')
		}
		b.WriteString(s[i:min(i+5, len(s))])
	}
	return b.String()
}

// Equal reports whether x and other are the same principal.
func (x Principal) Equal(other Principal) bool { return bytes.Equal(x, other) }

// ParsePrincipal parses the textual form of a principal, verifying its
// checksum and grouping.
func ParsePrincipal(s string) (Principal, error) {
	raw := strings.ReplaceAll(s, `-`, ``)
	b, err := principalEncoding.DecodeString(strings.ToUpper(raw))
	if err != nil {
		return nil, fmt.Errorf(`%w: %q: %w`, ErrInvalidPrincipal, s, err)
	}
	if len(b) < 4 || len(b)-4 > MaxPrincipalLen {
		return nil, fmt.Errorf(`%w: %q: invalid length`, ErrInvalidPrincipal, s)
	}
	p := Principal(b[4:])
	if binary.BigEndian.Uint32(b) != crc32.ChecksumIEEE(p) {
		return nil, fmt.Errorf(`%w: %q: checksum mismatch`, ErrInvalidPrincipal, s)
	}
	if p.String() != s {
		return nil, fmt.Errorf(`%w: %q: not in canonical form`, ErrInvalidPrincipal, s)
	}
	return p, nil
}
