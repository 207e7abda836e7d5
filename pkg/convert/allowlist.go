package convert

import (
	"sort"
	"strings"
)

// convertible lists the file extensions the LibreOffice route of the
// conversion server accepts.
var convertible = newSet(
	// documents
	"bib", "doc", "xml", "docx", "fodt", "html", "ltx", "txt", "odt", "ott", "pdb", "pdf", "psw", "rtf", "sdw", "stw",
	"sxw", "uot", "vor", "wps", "epub", "xhtml",
	// graphics
	"png", "bmp", "emf", "eps", "fodg", "gif", "jpg", "jpeg", "met", "odd", "otg", "pbm", "pct", "pgm", "ppm", "ras",
	"std", "svg", "svm", "swf", "sxd", "tiff", "tif", "xpm", "wmf",
	// presentations
	"fodp", "potm", "pot", "pptx", "pps", "ppt", "pwp", "sda", "sdd", "sti", "sxi", "uop", "odp",
	// spreadsheets
	"csv", "dbf", "dif", "fods", "ods", "ots", "pxl", "sdc", "slk", "stc", "sxc", "uos", "xls", "xlt", "xlsx",
)

func newSet(exts ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		s[ext] = struct{}{}
	}
	return s
}

// IsConvertible reports whether files with the given extension can be
// rendered to PDF. The comparison ignores case.
func IsConvertible(ext string) bool {
	_, ok := convertible[strings.ToLower(ext)]
	return ok
}

// Extensions returns the convertible extensions, sorted.
func Extensions() []string {
	exts := make([]string, 0, len(convertible))
	for ext := range convertible {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
