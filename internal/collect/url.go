package collect

import (
	"net/url"
	"path"
	"strconv"
	"strings"

	"scrapekit/internal/emit"
)

// PageURL renders the URL for page n. Templates may carry a {page} token;
// without one, page 1 is the template itself and later pages get a page
// query parameter appended.
func PageURL(template string, n int) string {
	if strings.Contains(template, "{page}") {
		return strings.ReplaceAll(template, "{page}", strconv.Itoa(n))
	}
	if n <= 1 {
		return template
	}
	sep := "?"
	if strings.Contains(template, "?") {
		sep = "&"
	}
	return template + sep + "page=" + strconv.Itoa(n)
}

// ResolveURL resolves href against base and reports whether the result is
// fetchable. Fragments, javascript:/mailto: style links, and unparseable
// values are not. data: URLs pass through untouched.
func ResolveURL(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	if strings.HasPrefix(href, "data:") {
		return href, true
	}
	u, err := base.Parse(href)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	return u.String(), true
}

// FilenameFromURL derives a filename from the URL path's last segment,
// query and fragment dropped. data: URLs have no path and return "": the
// producer names those. Returns "" when no usable segment exists.
func FilenameFromURL(rawURL string) string {
	if strings.HasPrefix(rawURL, "data:") {
		return ""
	}
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	} else if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	name := path.Base(p)
	if name == "." || name == "/" || name == "" {
		return ""
	}
	if dec, err := url.PathUnescape(name); err == nil {
		name = dec
	}
	return name
}

var kindByExt = map[string]emit.Kind{
	".jpg": emit.KindImage, ".jpeg": emit.KindImage, ".png": emit.KindImage,
	".gif": emit.KindImage, ".webp": emit.KindImage, ".svg": emit.KindImage,
	".bmp": emit.KindImage, ".avif": emit.KindImage,

	".mp4": emit.KindVideo, ".webm": emit.KindVideo, ".mkv": emit.KindVideo,
	".mov": emit.KindVideo, ".avi": emit.KindVideo, ".m4v": emit.KindVideo,

	".pdf": emit.KindDocument, ".txt": emit.KindDocument, ".md": emit.KindDocument,
	".doc": emit.KindDocument, ".docx": emit.KindDocument, ".epub": emit.KindDocument,
	".vcf": emit.KindDocument,
}

// KindForURL derives the item kind from the URL: the media type of a data:
// URL, otherwise the path extension. Unknown extensions are generic media.
func KindForURL(rawURL string) emit.Kind {
	if strings.HasPrefix(rawURL, "data:") {
		meta := strings.TrimPrefix(rawURL, "data:")
		if i := strings.IndexAny(meta, ";,"); i >= 0 {
			meta = meta[:i]
		}
		switch {
		case strings.HasPrefix(meta, "image/"):
			return emit.KindImage
		case strings.HasPrefix(meta, "video/"):
			return emit.KindVideo
		case strings.HasPrefix(meta, "text/"), strings.HasPrefix(meta, "application/"):
			return emit.KindDocument
		}
		return emit.KindMedia
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return emit.KindMedia
	}
	if k, ok := kindByExt[strings.ToLower(path.Ext(u.Path))]; ok {
		return k
	}
	return emit.KindMedia
}
