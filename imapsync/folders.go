// SPDX-License-Identifier: GPL-3.0-or-later
package imapsync

import (
	"strings"

	"github.com/driftmail/imapsync/domain"
)

// Folder attributes as reported by LIST/XLIST style listings. Gmail uses
// \AllMail and \Spam where special-use servers report \All and \Junk, so
// both spellings are recognized.
const (
	attrNoselect = "\\Noselect"
	attrAll      = "\\All"
	attrAllMail  = "\\AllMail"
	attrTrash    = "\\Trash"
	attrJunk     = "\\Junk"
	attrSpam     = "\\Spam"
	attrInbox    = "\\Inbox"
	attrSent     = "\\Sent"
	attrDrafts   = "\\Drafts"
)

var skippedAttributes = []string{attrNoselect, attrAll, attrAllMail, attrTrash, attrJunk, attrSpam}

// buildCatalog filters the raw listing and orders the survivors for
// processing: the inbox first, then other special folders in listing
// order, then remaining top-level folders, then nested folders.
func buildCatalog(listing []domain.FolderListing, allow, exclude []string) []domain.FolderDescriptor {
	allowSet := lowerSet(allow)
	excludeSet := lowerSet(exclude)

	special := []domain.FolderDescriptor{}
	top := []domain.FolderDescriptor{}
	sub := []domain.FolderDescriptor{}

	for _, f := range listing {
		if hasAnyAttribute(f.Attributes, skippedAttributes) {
			continue
		}
		if len(allowSet) > 0 && !allowSet[strings.ToLower(f.Name)] {
			continue
		}
		if excludeSet[strings.ToLower(f.Name)] {
			continue
		}

		descriptor := domain.FolderDescriptor{
			Name:      f.Name,
			Delimiter: f.Delimiter,
			Class:     classifyFolder(f),
		}

		switch descriptor.Class {
		case domain.FolderInbox:
			// Use the canonical name rather than any localized alias;
			// Gmail in particular rejects the localized one.
			descriptor.Name = "INBOX"
			special = append([]domain.FolderDescriptor{descriptor}, special...)
		case domain.FolderSent, domain.FolderDraft:
			special = append(special, descriptor)
		default:
			if f.Delimiter != "" && strings.Contains(f.Name, f.Delimiter) {
				sub = append(sub, descriptor)
			} else {
				top = append(top, descriptor)
			}
		}
	}

	catalog := append(special, top...)
	return append(catalog, sub...)
}

func classifyFolder(f domain.FolderListing) domain.FolderClass {
	for _, attr := range f.Attributes {
		switch attr {
		case attrInbox:
			return domain.FolderInbox
		case attrSent:
			return domain.FolderSent
		case attrDrafts:
			return domain.FolderDraft
		}
	}
	// Servers without special-use attributes still have exactly one inbox,
	// always named INBOX.
	if strings.EqualFold(f.Name, "INBOX") {
		return domain.FolderInbox
	}
	return domain.FolderOther
}

func hasAnyAttribute(attributes, wanted []string) bool {
	for _, attr := range attributes {
		for _, w := range wanted {
			if attr == w {
				return true
			}
		}
	}
	return false
}

func lowerSet(values []string) map[string]bool {
	set := map[string]bool{}
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			set[strings.ToLower(v)] = true
		}
	}
	return set
}
