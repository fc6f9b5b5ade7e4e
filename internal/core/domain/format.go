package domain

import (
	"bytes"
	"strings"
)

// Format is a printer command language family.
type Format string

const (
	FormatUnknown Format = ""
	FormatZPL     Format = "zpl"
	FormatCPCL    Format = "cpcl"
)

// DetectFormat inspects label data and returns the command language it is written in.
func DetectFormat(data []byte) Format {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return FormatUnknown
	}
	upper := bytes.ToUpper(trimmed)
	switch {
	case bytes.HasPrefix(upper, []byte("^XA")), bytes.HasPrefix(upper, []byte("~")):
		return FormatZPL
	case bytes.HasPrefix(trimmed, []byte("! ")):
		// "! U1" lines are SGD, not CPCL pages.
		if bytes.HasPrefix(upper, []byte("! U1")) {
			return FormatUnknown
		}
		return FormatCPCL
	case bytes.Contains(upper, []byte("^XA")) && bytes.Contains(upper, []byte("^XZ")):
		return FormatZPL
	}
	return FormatUnknown
}

// ParseLanguage maps a device.languages value to a Format.
// Hybrid values report the language the printer currently interprets first.
func ParseLanguage(raw string) Format {
	v := strings.ToLower(strings.Trim(strings.TrimSpace(raw), `"`))
	switch {
	case v == "":
		return FormatUnknown
	case strings.HasPrefix(v, "zpl"), strings.HasPrefix(v, "hybrid_xml_zpl"):
		return FormatZPL
	case strings.HasPrefix(v, "line_print"), strings.HasPrefix(v, "cpcl"):
		return FormatCPCL
	}
	return FormatUnknown
}
