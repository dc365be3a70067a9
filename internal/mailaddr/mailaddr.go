// Copyright (c) 2026 John Earle
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

// Package mailaddr extracts display-name/address pairs from raw header values.
// Parsing never fails: input that yields no usable address degrades to
// Unknown so the inbound pipeline keeps moving.
package mailaddr

import (
	"mime"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Unknown is substituted when a header carries no usable address.
const Unknown = "unknown@invalid"

var namedAddress = regexp.MustCompile(`^(.+?)\s*<(.+?)>$`)

var wordDecoder = &mime.WordDecoder{}

// Address is a parsed header value. Name is empty when the header had none.
type Address struct {
	Name  string
	Email string
}

// HasName reports whether a display name was present.
func (a Address) HasName() bool { return a.Name != "" }

// Parse splits `"Jane Doe" <jane@example.com>` into its parts. A value
// without angle brackets is taken whole as the address.
func Parse(raw string) Address {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Address{Email: Unknown}
	}

	var addr Address
	if m := namedAddress.FindStringSubmatch(raw); m != nil {
		addr.Name = decodeWords(strings.TrimSpace(strings.Trim(strings.TrimSpace(m[1]), `"`)))
		addr.Email = strings.TrimSpace(m[2])
	} else {
		addr.Email = raw
	}

	if !strings.Contains(addr.Email, "@") || strings.ContainsAny(addr.Email, " \t<>") {
		// Keep whatever human-readable text we got as the name.
		if addr.Name == "" {
			addr.Name = decodeWords(strings.Trim(raw, `"<> `))
		}
		addr.Email = Unknown
	}
	return addr
}

// LocalPart returns the portion of email before the last '@'.
func LocalPart(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 {
		return email[:i]
	}
	return email
}

// Domain returns the portion of email after the last '@'.
func Domain(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 {
		return email[i+1:]
	}
	return ""
}

var localPartSeparators = strings.NewReplacer(".", " ", "_", " ", "-", " ")

// DisplayNameFromLocalPart turns "jane.doe@x.com" into "Jane Doe".
func DisplayNameFromLocalPart(email string) string {
	local := strings.TrimSpace(localPartSeparators.Replace(LocalPart(email)))
	if local == "" {
		return email
	}
	return cases.Title(language.Und).String(strings.Join(strings.Fields(local), " "))
}

func decodeWords(s string) string {
	if !strings.Contains(s, "=?") {
		return s
	}
	decoded, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}
