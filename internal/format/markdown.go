// Package format renders calendar data and turn events as chat text, and
// converts the Markdown the model writes into Telegram message entities.
package format

import (
	"regexp"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ParseResult contains plain text and message entities
type ParseResult struct {
	Text     string
	Entities []tgbotapi.MessageEntity
}

var (
	headerRe = regexp.MustCompile(`(?m)^#{1,6}\s+(.+?)$`)
	boldRe   = regexp.MustCompile(`\*\*(.+?)\*\*|__(.+?)__`)
	codeRe   = regexp.MustCompile("`([^`\n]+?)`")
	// Underscore italics are not supported: tool names like find_free_slots
	// would be mangled.
	italicRe = regexp.MustCompile(`\*([^*\n]+?)\*`)
)

// UTF16Len returns the length of s in UTF-16 code units, the unit Telegram
// uses for entity offsets.
func UTF16Len(s string) int {
	n := 0
	for _, r := range s {
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// ParseMarkdown strips **bold**, __bold__, `code`, *italic* and # headers
// (rendered bold) from text and returns the matching entities.
func ParseMarkdown(text string) ParseResult {
	result := headerRe.ReplaceAllString(text, "**$1**")

	var entities []tgbotapi.MessageEntity
	result, entities = strip(result, entities, boldRe, "bold")
	result, entities = strip(result, entities, codeRe, "code")
	result, entities = strip(result, entities, italicRe, "italic")

	// Telegram requires entities ordered by offset
	sort.SliceStable(entities, func(i, j int) bool { return entities[i].Offset < entities[j].Offset })

	return ParseResult{
		Text:     strings.TrimRight(result, " \n"),
		Entities: entities,
	}
}

// strip removes every match of re, keeping its first non-empty group, and
// shifts entities found earlier so their offsets stay valid.
func strip(s string, entities []tgbotapi.MessageEntity, re *regexp.Regexp, typ string) (string, []tgbotapi.MessageEntity) {
	for {
		loc := re.FindStringSubmatchIndex(s)
		if loc == nil {
			return s, entities
		}
		innerStart, innerEnd := -1, -1
		for g := 2; g+1 < len(loc); g += 2 {
			if loc[g] != -1 {
				innerStart, innerEnd = loc[g], loc[g+1]
				break
			}
		}
		if innerStart == -1 {
			return s, entities
		}

		start := UTF16Len(s[:loc[0]])
		end := UTF16Len(s[:innerEnd])
		open := UTF16Len(s[loc[0]:innerStart])
		closing := UTF16Len(s[innerEnd:loc[1]])
		for i := range entities {
			switch {
			case entities[i].Offset >= end:
				entities[i].Offset -= open + closing
			case entities[i].Offset >= start:
				entities[i].Offset -= open
			}
		}

		inner := s[innerStart:innerEnd]
		entities = append(entities, tgbotapi.MessageEntity{
			Type:   typ,
			Offset: start,
			Length: UTF16Len(inner),
		})
		s = s[:loc[0]] + inner + s[loc[1]:]
	}
}
