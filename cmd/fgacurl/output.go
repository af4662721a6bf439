package main

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

func checkFormat(format string) error {
	switch format {
	case formatJSON, formatYAML:
		return nil
	default:
		return fmt.Errorf("unsupported output format %q: use %q or %q", format, formatJSON, formatYAML)
	}
}

type responseEnvelope struct {
	Status int    `json:"status" yaml:"status"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Body   any    `json:"body,omitempty" yaml:"body,omitempty"`
}

// envelope decodes a JSON body so it renders structurally; anything else is
// kept as text.
func envelope(status int, reason string, body []byte) responseEnvelope {
	env := responseEnvelope{Status: status, Reason: reason}
	if len(body) == 0 {
		return env
	}
	var decoded any
	if err := json.Unmarshal(body, &decoded); err == nil {
		env.Body = decoded
	} else {
		env.Body = string(body)
	}
	return env
}

func render(w io.Writer, format string, v any) error {
	switch format {
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}

// renderRecord prints one stream record: a compact JSON line, or a YAML
// document.
func renderRecord(w io.Writer, format string, rec json.RawMessage) error {
	if format == formatYAML {
		var decoded any
		if err := json.Unmarshal(rec, &decoded); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "---\n"); err != nil {
			return err
		}
		return render(w, formatYAML, decoded)
	}
	var decoded any
	if err := json.Unmarshal(rec, &decoded); err != nil {
		return err
	}
	line, err := json.Marshal(decoded)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", line)
	return err
}
