package app

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"contentsql/internal/appender"
	"contentsql/internal/compiler"
)

type jsonField struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	Type string `json:"type,omitempty"`
}

type jsonOutput struct {
	SQL        string                     `json:"sql"`
	Args       []any                      `json:"args"`
	Fields     []jsonField                `json:"fields"`
	Sources    int                        `json:"sources"`
	Descriptor []appender.DescriptorField `json:"descriptor,omitempty"`
}

// WriteResult prints a compiled result as text (SQL, then args as a
// comment) or as one JSON document.
func WriteResult(w io.Writer, res *compiler.Result, format string) error {
	if format == "json" {
		out := jsonOutput{
			SQL:        res.SQL,
			Args:       res.Args,
			Fields:     make([]jsonField, 0, len(res.Fields)),
			Sources:    res.Sources,
			Descriptor: res.Descriptor,
		}
		if out.Args == nil {
			out.Args = []any{}
		}
		for _, f := range res.Fields {
			out.Fields = append(out.Fields, jsonField{Name: f.Name, Kind: f.Kind.String(), Type: f.Type})
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if res.Sources == 0 {
		_, err := fmt.Fprintln(w, "-- no content")
		return err
	}
	var sb strings.Builder
	sb.WriteString(res.SQL)
	sb.WriteString(";\n")
	if len(res.Args) > 0 {
		args := make([]string, len(res.Args))
		for i, a := range res.Args {
			args[i] = formatArg(a)
		}
		sb.WriteString("-- args: ")
		sb.WriteString(strings.Join(args, ", "))
		sb.WriteString("\n")
	}
	for _, d := range res.Descriptor {
		fmt.Fprintf(&sb, "-- field %s %s (%s)", d.Name, d.Kind, d.Type)
		if d.Label != "" {
			fmt.Fprintf(&sb, " %q", d.Label)
		}
		sb.WriteString("\n")
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func formatArg(a any) string {
	switch v := a.(type) {
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case nil:
		return "NULL"
	default:
		return fmt.Sprint(v)
	}
}
