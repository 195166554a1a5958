package pdfrender

import "strings"

type BlockKind int

const (
	BlockParagraph BlockKind = iota
	BlockHeading1
	BlockHeading2
	BlockHeading3
	BlockBullet
	BlockCode
	BlockSpacer
)

func (k BlockKind) String() string {
	switch k {
	case BlockHeading1:
		return "heading1"
	case BlockHeading2:
		return "heading2"
	case BlockHeading3:
		return "heading3"
	case BlockBullet:
		return "bullet"
	case BlockCode:
		return "code"
	case BlockSpacer:
		return "spacer"
	default:
		return "paragraph"
	}
}

// Block is one layout unit. Code blocks carry their lines verbatim in Lines.
type Block struct {
	Kind  BlockKind
	Text  string
	Lines []string
}

const fence = "```"

var (
	headingPrefixes = []struct {
		prefix string
		kind   BlockKind
	}{
		{"# ", BlockHeading1},
		{"## ", BlockHeading2},
		{"### ", BlockHeading3},
	}
	bulletPrefixes = []string{"- ", "* ", "• "}
)

// Parse splits markdown into blocks line by line. Anything that is not a heading,
// bullet, fence or blank line is a paragraph. Markers may be indented. An unterminated
// fence is closed at the end of input.
func Parse(markdown string) []Block {
	markdown = strings.ReplaceAll(markdown, "\r\n", "\n")

	var (
		blocks []Block
		inCode bool
		code   []string
	)
	for _, raw := range strings.Split(markdown, "\n") {
		line := strings.TrimRight(raw, " \t\r")
		trimmed := strings.TrimLeft(line, " \t")

		if strings.HasPrefix(trimmed, fence) {
			if inCode {
				blocks = append(blocks, Block{Kind: BlockCode, Lines: code})
				code = nil
			}
			inCode = !inCode
			continue
		}
		if inCode {
			code = append(code, strings.ReplaceAll(line, "\t", "    "))
			continue
		}

		blocks = append(blocks, classify(trimmed))
	}
	if inCode {
		blocks = append(blocks, Block{Kind: BlockCode, Lines: code})
	}
	return blocks
}

func classify(line string) Block {
	if strings.TrimSpace(line) == "" {
		return Block{Kind: BlockSpacer}
	}
	for _, h := range headingPrefixes {
		if strings.HasPrefix(line, h.prefix) {
			return Block{Kind: h.kind, Text: strings.TrimSpace(line[len(h.prefix):])}
		}
	}
	for _, b := range bulletPrefixes {
		if strings.HasPrefix(line, b) {
			return Block{Kind: BlockBullet, Text: strings.TrimSpace(line[len(b):])}
		}
	}
	return Block{Kind: BlockParagraph, Text: strings.TrimSpace(line)}
}
