package vpat

import "strings"

const maxSlugLen = 60

// Slugify turns a report title into a filesystem and URL safe filename stem.
// Runs of anything other than ascii letters and digits collapse to a single
// hyphen, the result is lowercased and capped, and a title with no usable
// characters falls back to "vpat" so the download always has a name.
func Slugify(title string) string {
	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(title) {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !isAlnum {
			pendingHyphen = b.Len() > 0
			continue
		}
		if pendingHyphen {
			b.WriteByte('-')
			pendingHyphen = false
		}
		b.WriteRune(r)
	}

	slug := b.String()
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}
	if slug == "" {
		return "vpat"
	}
	return slug
}
