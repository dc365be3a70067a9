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

package threading

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	replyPrefix  = regexp.MustCompile(`(?i)^(?:\s*(?:re|fwd|fw)\s*:\s*)+`)
	threadMarker = regexp.MustCompile(`(?i)thread-([^@\s<>]+)@`)
)

// CleanSubject strips any run of leading Re:/Fwd:/Fw: prefixes.
func CleanSubject(subject string) string {
	return strings.TrimSpace(replyPrefix.ReplaceAllString(strings.TrimSpace(subject), ""))
}

// ExtractThreadIDs returns the conversation ids found in thread-{id}@domain
// markers, in header order. Tokens that are not well-formed ids are dropped
// so forged or mangled headers never reach the database.
func ExtractThreadIDs(header string) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, m := range threadMarker.FindAllStringSubmatch(header, -1) {
		id, err := uuid.Parse(m[1])
		if err != nil {
			continue
		}
		s := id.String()
		if seen[s] {
			continue
		}
		seen[s] = true
		ids = append(ids, s)
	}
	return ids
}

// ParseMailboxHash decodes the "{contactId}_{conversationId}" token carried
// in the plus-addressed Reply-To of outbound mail.
func ParseMailboxHash(hash string) (contactID, conversationID string, ok bool) {
	contact, conversation, found := strings.Cut(strings.TrimSpace(hash), "_")
	if !found {
		return "", "", false
	}
	c, err := uuid.Parse(contact)
	if err != nil {
		return "", "", false
	}
	v, err := uuid.Parse(conversation)
	if err != nil {
		return "", "", false
	}
	return c.String(), v.String(), true
}

// MailboxHash is the inverse of ParseMailboxHash.
func MailboxHash(contactID, conversationID string) string {
	return contactID + "_" + conversationID
}
