package device

import (
	"fmt"
	"strings"

	"github.com/vietddude/printguard/internal/core/domain"
)

// MediaType selects the media sensing profile applied by SetMediaType.
type MediaType string

const (
	MediaLabel     MediaType = "label"
	MediaBlackMark MediaType = "blackmark"
	MediaJournal   MediaType = "journal"
)

// ParseMediaType accepts the media type names used in configuration.
func ParseMediaType(s string) (MediaType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "label", "gap":
		return MediaLabel, nil
	case "blackmark", "black_mark", "bar":
		return MediaBlackMark, nil
	case "journal", "continuous":
		return MediaJournal, nil
	}
	return "", fmt.Errorf("device: unknown media type %q", s)
}

// GetVar builds an SGD getvar line.
func GetVar(key string) []byte {
	return []byte(fmt.Sprintf("! U1 getvar \"%s\"\r\n", key))
}

// SetVar builds an SGD setvar line.
func SetVar(key, value string) []byte {
	return []byte(fmt.Sprintf("! U1 setvar \"%s\" \"%s\"\r\n", key, value))
}

// SGDCommands is the reference command catalog for SGD capable printers.
// Every command is idempotent.
type SGDCommands struct{}

// Unpause resumes a paused printer.
func (SGDCommands) Unpause() []byte {
	return SetVar(SettingPause, "0")
}

// ClearErrors resets latched host errors.
func (SGDCommands) ClearErrors() []byte {
	return []byte("~JR")
}

// Calibrate runs media calibration and saves the result.
func (SGDCommands) Calibrate() []byte {
	return []byte("~jc^xa^jus^xz")
}

// ClearBuffer cancels partially received formats for the given language.
func (SGDCommands) ClearBuffer(format domain.Format) []byte {
	if format == domain.FormatCPCL {
		return []byte("! U1 do \"device.reset_buffer\" \"\"\r\n")
	}
	return []byte("~JA")
}

// SwitchLanguage puts the printer into the language that interprets format.
func (SGDCommands) SwitchLanguage(format domain.Format) []byte {
	switch format {
	case domain.FormatZPL:
		return SetVar(SettingLanguages, "zpl")
	case domain.FormatCPCL:
		return SetVar(SettingLanguages, "line_print")
	}
	return nil
}

// SetDarkness sets print tone. Out of range values are clamped to the -99..200 SGD range.
func (SGDCommands) SetDarkness(level int) []byte {
	level = max(-99, min(200, level))
	return SetVar("print.tone", fmt.Sprint(level))
}

// SetMediaType configures media sensing and recalibrates where the profile needs it.
func (c SGDCommands) SetMediaType(media MediaType) []byte {
	switch media {
	case MediaLabel:
		return concat(SetVar("media.type", "label"), SetVar("media.sense_mode", "gap"), c.Calibrate())
	case MediaBlackMark:
		return concat(SetVar("media.type", "label"), SetVar("media.sense_mode", "bar"), c.Calibrate())
	default:
		return concat(SetVar("print.tone", "0"), SetVar("media.type", "journal"))
	}
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
