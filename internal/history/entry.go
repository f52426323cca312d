package history

import (
	"fmt"
	"strings"
	"time"
)

// Kind tags the payload of an entry.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Payload is the content of an entry. It is either Text or Image.
type Payload interface {
	Kind() Kind
}

// Text is a captured Unicode string.
type Text struct {
	Content string
}

// Image is a captured bitmap, stored as PNG. Hash is the lowercase hex SHA-256
// of Data.
type Image struct {
	Data []byte
	Hash string
}

func (Text) Kind() Kind  { return KindText }
func (Image) Kind() Kind { return KindImage }

// Entry is a full history record including its payload.
type Entry struct {
	ID        int64
	Timestamp time.Time
	Pinned    bool
	Preview   string
	Payload   Payload
}

// Kind returns the payload kind.
func (e *Entry) Kind() Kind {
	if e.Payload == nil {
		return KindText
	}
	return e.Payload.Kind()
}

// Summary is the list form of an entry. Image bytes are never included.
type Summary struct {
	ID            int64
	Kind          Kind
	Timestamp     time.Time
	Pinned        bool
	Preview       string
	ImageHash     string
	ContentLength int
}

const previewRunes = 200

var newlines = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// textPreview returns the first previewRunes characters with line breaks
// folded to spaces.
func textPreview(s string) string {
	return strings.TrimSpace(newlines.Replace(truncateRunes(s, previewRunes)))
}

func imagePreview(n int) string {
	return fmt.Sprintf("Image (%d KB)", n/1024)
}

func truncateRunes(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// likeEscaper escapes the LIKE wildcards so a query matches literally. Used
// with ESCAPE '\'.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(q string) string {
	return "%" + likeEscaper.Replace(q) + "%"
}

func toSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*float64(time.Second)))
}
