package format

import (
	"log/slog"
	"strings"
)

// Kind is the content kind a clipboard payload normalizes to.
type Kind uint8

const (
	KindNone Kind = iota
	KindText
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindImage:
		return "image"
	default:
		return "none"
	}
}

// Raw holds what a single clipboard read produced. Only the highest-priority
// populated field is used: Unicode text, then the file-drop list, then the DIB.
type Raw struct {
	Text  string
	Files []string
	DIB   []byte
}

// Content is a normalized capture, ready for the history store.
type Content struct {
	Kind Kind
	Text string
	PNG  []byte
}

// Normalize reduces raw to a single Content. Whitespace-only text and empty
// file lists fall through to the next format; an undecodable bitmap yields
// KindNone so the capture is dropped.
func Normalize(raw Raw) Content {
	if strings.TrimSpace(raw.Text) != "" {
		return Content{Kind: KindText, Text: raw.Text}
	}
	if len(raw.Files) > 0 {
		joined := strings.Join(raw.Files, "\n")
		if strings.TrimSpace(joined) != "" {
			return Content{Kind: KindText, Text: joined}
		}
	}
	if len(raw.DIB) > 0 {
		data, err := DIBToPNG(raw.DIB)
		if err != nil {
			slog.Debug("bitmap capture dropped", "size_bytes", len(raw.DIB), "err", err)
			return Content{}
		}
		return Content{Kind: KindImage, PNG: data}
	}
	return Content{}
}
