package rag

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ErrEmptyContent is returned when there is nothing to chunk.
var ErrEmptyContent = errors.New("rag: document content is empty")

// ChunkOptions controls the chunker. Overlap is the number of trailing
// characters of a chunk carried into the next one so sentences cut at a
// boundary keep their context.
type ChunkOptions struct {
	Size    int
	Overlap int
}

func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{Size: 800, Overlap: 50}
}

func (o ChunkOptions) validate() error {
	if o.Size < 100 {
		return fmt.Errorf("rag: chunk size must be at least 100, got %d", o.Size)
	}
	if o.Overlap < 0 || o.Overlap >= o.Size {
		return fmt.Errorf("rag: chunk overlap must be non-negative and smaller than size, got %d", o.Overlap)
	}
	return nil
}

var soapMarker = regexp.MustCompile(`(?m)^[SOAP]:`)

// ChunkDocument splits clinical text into retrieval-sized chunks. Structure
// is preserved where it exists: SOAP sections first, then paragraphs, then
// sentences, with a hard word-boundary split as the last resort. Non-empty
// input always yields at least one chunk.
func ChunkDocument(content string, opts ChunkOptions) ([]string, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(content)
	if text == "" {
		return nil, ErrEmptyContent
	}
	if len(text) <= opts.Size {
		return []string{text}, nil
	}

	var units []string
	for _, section := range splitSOAPSections(text) {
		units = append(units, splitToUnits(section, opts.Size)...)
	}
	return assembleChunks(units, opts), nil
}

// splitSOAPSections splits a note on SOAP markers (S:, O:, A:, P: at line
// start) when at least two are present, keeping each marker with its
// section.
func splitSOAPSections(text string) []string {
	locs := soapMarker.FindAllStringIndex(text, -1)
	if len(locs) < 2 {
		return []string{text}
	}

	var sections []string
	if head := strings.TrimSpace(text[:locs[0][0]]); head != "" {
		sections = append(sections, head)
	}
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		if sec := strings.TrimSpace(text[loc[0]:end]); sec != "" {
			sections = append(sections, sec)
		}
	}
	return sections
}

// splitToUnits reduces a section to pieces no larger than size: paragraphs,
// then sentences, then hard word-boundary splits.
func splitToUnits(section string, size int) []string {
	if len(section) <= size {
		return []string{section}
	}

	var units []string
	for _, para := range strings.Split(section, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) <= size {
			units = append(units, para)
			continue
		}
		for _, sent := range splitSentences(para) {
			if len(sent) <= size {
				units = append(units, sent)
				continue
			}
			units = append(units, hardSplit(sent, size)...)
		}
	}
	return units
}

var sentenceEnd = regexp.MustCompile(`([.!?])\s+`)

func splitSentences(text string) []string {
	marked := sentenceEnd.ReplaceAllString(text, "$1\x00")
	parts := strings.Split(marked, "\x00")
	var sentences []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			sentences = append(sentences, p)
		}
	}
	return sentences
}

// hardSplit cuts text into pieces of at most size bytes, backing up to the
// previous space where one exists. Cuts land on rune boundaries so a
// delimiter-free multibyte run never yields invalid UTF-8.
func hardSplit(text string, size int) []string {
	var pieces []string
	for len(text) > size {
		cut := size
		if idx := strings.LastIndex(text[:size], " "); idx > size/2 {
			cut = idx
		} else {
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
		}
		pieces = append(pieces, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		pieces = append(pieces, text)
	}
	return pieces
}

// assembleChunks packs units into chunks up to the size limit, seeding each
// new chunk with the overlap tail of the previous one.
func assembleChunks(units []string, opts ChunkOptions) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, unit := range units {
		if current.Len() == 0 {
			if len(chunks) > 0 && opts.Overlap > 0 {
				tail := overlapTail(chunks[len(chunks)-1], opts.Overlap)
				if tail != "" && len(tail)+1+len(unit) <= opts.Size {
					current.WriteString(tail)
					current.WriteString("\n")
				}
			}
			current.WriteString(unit)
			continue
		}
		if current.Len()+1+len(unit) <= opts.Size {
			current.WriteString("\n")
			current.WriteString(unit)
			continue
		}
		flush()
		if len(chunks) > 0 && opts.Overlap > 0 {
			tail := overlapTail(chunks[len(chunks)-1], opts.Overlap)
			if tail != "" && len(tail)+1+len(unit) <= opts.Size {
				current.WriteString(tail)
				current.WriteString("\n")
			}
		}
		current.WriteString(unit)
	}
	flush()
	return chunks
}

// overlapTail returns roughly the last n bytes of text, trimmed forward to
// a rune boundary and then to the nearest word boundary.
func overlapTail(text string, n int) string {
	if len(text) <= n {
		return text
	}
	start := len(text) - n
	for start < len(text) && !utf8.RuneStart(text[start]) {
		start++
	}
	tail := text[start:]
	if idx := strings.IndexAny(tail, " \n"); idx >= 0 {
		tail = tail[idx+1:]
	}
	return strings.TrimSpace(tail)
}
