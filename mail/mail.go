// SPDX-License-Identifier: GPL-3.0-or-later
package mail

import (
	"fmt"
	"mime"
	"strings"
	"unicode"

	"github.com/emersion/go-message/charset"
)

// NormalizeMessageID strips the angle brackets from a protocol message-id.
// Message-ids must be consistent everywhere they are used as keys, and the
// bracket-free form is the one the store indexes.
func NormalizeMessageID(id string) string {
	if strings.HasPrefix(id, "<") && strings.HasSuffix(id, ">") {
		return id[1 : len(id)-1]
	}
	return id
}

// ASCIIOnly reports whether every field contains only 7bit data. IMAP
// envelopes are 7bit by definition; anything else cannot be held by the
// store and marks the envelope as unusable.
func ASCIIOnly(fields ...string) bool {
	for _, field := range fields {
		for _, r := range field {
			if r > unicode.MaxASCII {
				return false
			}
		}
	}
	return true
}

// DecodeSubject decodes a MIME-encoded subject header for log output.
// Undecodable subjects are returned as-is.
func DecodeSubject(subject string) string {
	dec := &mime.WordDecoder{
		CharsetReader: charset.Reader,
	}
	decoded, err := dec.DecodeHeader(subject)
	if err != nil {
		return subject
	}
	return decoded
}

func ShortSubject(subject string) string {
	if (len(subject)) > 30 {
		subject = subject[:30] + "..."
	}
	return subject
}

// FormatAddress renders a mailbox/host pair the way envelopes carry them.
func FormatAddress(mailbox, host string) string {
	if mailbox == "" || host == "" {
		return ""
	}
	return fmt.Sprintf("%s@%s", mailbox, host)
}
