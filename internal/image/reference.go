// Package image turns image references (open streams, local paths or HTTP URLs)
// into seekable byte streams and inspects firmware image headers.
package image

import (
	"context"
	"io"
	"regexp"
	"strings"
)

// urlPattern is intentionally permissive: anything URL-shaped is fetched over HTTP,
// everything else is treated as a local path.
var urlPattern = regexp.MustCompile(`^https?://(www\.)?[-a-zA-Z0-9@:%._+~#=]{2,256}\.[a-z]{2,6}\b([-a-zA-Z0-9@:%_+.~#?&/=]*)`)

// Placeholders substituted in bootloader references.
const (
	FlashModePlaceholder = "$FLASH_MODE$"
	FlashFreqPlaceholder = "$FLASH_FREQ$"
)

// Reference names the source of an image. It is one of Stream, Path or URL.
type Reference interface {
	String() string

	resolve(ctx context.Context, r *Resolver) (io.ReadSeeker, error)
	substitute(rep *strings.Replacer) Reference
}

// Stream is an already open image.
type Stream struct {
	R io.ReadSeeker
}

// Path is a local file path.
type Path string

// URL is an HTTP(S) resource.
type URL string

var (
	_ Reference = Stream{}
	_ Reference = Path("")
	_ Reference = URL("")
)

// Parse classifies s as a URL if it is URL-shaped, otherwise as a local path.
func Parse(s string) Reference {
	if urlPattern.MatchString(s) {
		return URL(s)
	}

	return Path(s)
}

// WithFlashParams replaces the flash mode and frequency placeholders in ref.
// Streams are returned unchanged.
func WithFlashParams(ref Reference, mode FlashMode, freq FlashFreq) Reference {
	rep := strings.NewReplacer(
		FlashModePlaceholder, mode.String(),
		FlashFreqPlaceholder, freq.String(),
	)

	return ref.substitute(rep)
}

func (s Stream) String() string { return "<stream>" }
func (p Path) String() string   { return string(p) }
func (u URL) String() string    { return string(u) }

func (s Stream) substitute(*strings.Replacer) Reference     { return s }
func (p Path) substitute(rep *strings.Replacer) Reference { return Path(rep.Replace(string(p))) }
func (u URL) substitute(rep *strings.Replacer) Reference  { return URL(rep.Replace(string(u))) }
