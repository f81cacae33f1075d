// Squeezebox Controller - Logitech Media Server Integration Service
// Copyright 2026 Autolog
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/autolog/squeezebox-controller

// Package protocol implements the wire codec for the Logitech Media Server
// CLI protocol: newline-terminated ASCII/UTF-8 text lines with
// percent-encoded tokens.
//
// Outbound command grammar is `<scope> <verb> [args...]` where scope is
// empty (server-scoped) or a MAC-like player address. Inbound responses echo
// the scope/verb followed by percent-encoded result tokens, optionally
// containing embedded `key:value` pairs.
package protocol

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Terminator ends every protocol line in both directions.
const Terminator = '\n'

// ErrInvalidUTF8 is returned by DecodeLine for undecodable input.
var ErrInvalidUTF8 = fmt.Errorf("protocol: line is not valid UTF-8")

// Encode converts an outbound command into wire bytes by appending the line
// terminator. Callers are responsible for percent-encoding any embedded
// paths or URLs before calling Encode.
func Encode(command string) []byte {
	buf := make([]byte, 0, len(command)+1)
	buf = append(buf, command...)
	return append(buf, Terminator)
}

// DecodeLine converts a raw wire line into its text form: UTF-8 validation
// followed by percent-decoding. Trailing whitespace is preserved; callers
// trim as needed.
func DecodeLine(raw []byte) (string, error) {
	if !utf8.Valid(raw) {
		return "", ErrInvalidUTF8
	}
	return Unquote(string(raw)), nil
}

// Unquote percent-decodes a token or line. Malformed escapes are passed
// through untouched rather than failing the whole line; the server is the
// authority on what it sent.
func Unquote(s string) string {
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}

// Quote encodes a path or URL for embedding in an outbound command.
// Only spaces need escaping for the server's file arguments; slashes and
// colons must pass through untouched.
func Quote(s string) string {
	return strings.ReplaceAll(s, " ", "%20")
}

// Tokenize splits a decoded line on whitespace. The first one or two tokens
// form the dispatch keyword: a single keyword for global responses such as
// `serverstatus`, or a MAC-like address plus sub-command for player-scoped
// responses such as `00:11:22:33:44:55 playlist newsong`.
func Tokenize(line string) []string {
	return strings.Fields(line)
}

// Pair is one key:value element extracted from a tagged response.
type Pair struct {
	Key   string
	Value string
}

// pairPattern matches `key:value` runs where the key may contain spaces
// (`info total albums:162`) and the value runs to the next whitespace.
var pairPattern = regexp.MustCompile(`([^:]*:[^ ]*) *`)

// Pairs extracts key:value pairs from a tagged response line. Each matched
// run is split at its first colon, so values like `ip:192.168.1.5:41004`
// keep their embedded colons.
func Pairs(line string) []Pair {
	matches := pairPattern.FindAllStringSubmatch(line, -1)
	pairs := make([]Pair, 0, len(matches))
	for _, m := range matches {
		entry := m[1]
		idx := strings.Index(entry, ":")
		if idx < 0 {
			continue
		}
		pairs = append(pairs, Pair{
			Key:   strings.TrimSpace(entry[:idx]),
			Value: strings.TrimRight(entry[idx+1:], " \r\n"),
		})
	}
	return pairs
}

// fieldPattern marks `key:` boundaries for responses whose values may
// contain spaces (readdirectory paths in particular). Splitting on these
// boundaries keeps everything up to the next recognized key as the value.
var fieldPattern = regexp.MustCompile(`\w+:`)

// FieldPairs extracts key:value pairs from a response whose values may
// contain spaces, attributing all text up to the next `key:` boundary to
// the preceding key.
func FieldPairs(line string) []Pair {
	bounds := fieldPattern.FindAllStringIndex(line, -1)
	pairs := make([]Pair, 0, len(bounds))
	for i, b := range bounds {
		key := line[b[0] : b[1]-1]
		end := len(line)
		if i+1 < len(bounds) {
			end = bounds[i+1][0]
		}
		value := strings.TrimSpace(line[b[1]:end])
		pairs = append(pairs, Pair{Key: key, Value: value})
	}
	return pairs
}

// macPattern is the MAC-address shape used to recognize player-scoped
// responses. Player device configuration additionally accepts `-` as the
// separator; the wire always uses `:`.
var macPattern = regexp.MustCompile(`^[0-9A-Fa-f]{2}(:[0-9A-Fa-f]{2}){5}$`)

// configMACPattern validates user-supplied player addresses, accepting
// either `:` or `-` separators (consistently). RE2 has no backreferences,
// so each separator gets its own alternative.
var configMACPattern = regexp.MustCompile(`^[0-9a-f]{2}(:[0-9a-f]{2}){5}$|^[0-9a-f]{2}(-[0-9a-f]{2}){5}$`)

// IsMAC reports whether s is a wire-format player address.
func IsMAC(s string) bool {
	return macPattern.MatchString(s)
}

// ValidConfigMAC reports whether s is an acceptable user-supplied player
// address.
func ValidConfigMAC(s string) bool {
	return configMACPattern.MatchString(strings.ToLower(s))
}

// PlayerCommand builds a player-scoped outbound command line.
func PlayerCommand(mac string, args ...string) string {
	return mac + " " + strings.Join(args, " ")
}
