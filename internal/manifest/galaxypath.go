package manifest

import "strings"

// GalaxyPath derives the CDN path for a content-addressed blob from its MD5,
// splitting the first two hex-pair directory levels (spec.md §4.1).
func GalaxyPath(md5 string) string {
	if strings.Contains(md5, "/") {
		return md5
	}
	if len(md5) < 4 {
		return md5
	}
	return md5[0:2] + "/" + md5[2:4] + "/" + md5
}
