package readiness

import (
	"fmt"
	"strconv"
	"strings"
)

// FieldReport renders one field. Value is Unchecked for fields never read, so
// "never checked" cannot be mistaken for "checked and false".
type FieldReport struct {
	Checked bool   `json:"checked"`
	Raw     string `json:"raw,omitempty"`
	Value   string `json:"value"`
}

// Report is a point-in-time rendering of a snapshot.
type Report struct {
	Connection FieldReport `json:"connection"`
	Media      FieldReport `json:"media"`
	Head       FieldReport `json:"head"`
	Pause      FieldReport `json:"pause"`
	Errors     FieldReport `json:"errors"`
	Language   FieldReport `json:"language"`
}

func boolReport(f Field[bool]) FieldReport {
	if !f.checked {
		return FieldReport{Value: Unchecked}
	}
	return FieldReport{Checked: true, Raw: f.raw, Value: strconv.FormatBool(f.value)}
}

func (r *Readiness) snapshot() Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	lang := FieldReport{Value: Unchecked}
	if r.language.checked {
		v := string(r.language.value)
		if v == "" {
			v = "unknown"
		}
		lang = FieldReport{Checked: true, Raw: r.language.raw, Value: v}
	}

	return Report{
		Connection: boolReport(r.connection),
		Media:      boolReport(r.media),
		Head:       boolReport(r.head),
		Pause:      boolReport(r.pause),
		Errors:     boolReport(r.errors),
		Language:   lang,
	}
}

// Report renders the snapshot without triggering any reads.
func (r *Readiness) Report() Report {
	return r.snapshot()
}

// ToMap renders field values keyed by name.
func (r *Readiness) ToMap() map[string]string {
	rep := r.snapshot()
	return map[string]string{
		"connected":   rep.Connection.Value,
		"has_media":   rep.Media.Value,
		"head_closed": rep.Head.Value,
		"paused":      rep.Pause.Value,
		"has_errors":  rep.Errors.Value,
		"language":    rep.Language.Value,
	}
}

func (r *Readiness) String() string {
	rep := r.snapshot()
	parts := []string{
		"connected=" + rep.Connection.Value,
		"has_media=" + rep.Media.Value,
		"head_closed=" + rep.Head.Value,
		"paused=" + rep.Pause.Value,
		"has_errors=" + rep.Errors.Value,
		"language=" + rep.Language.Value,
	}
	return fmt.Sprintf("Readiness{%s}", strings.Join(parts, " "))
}
