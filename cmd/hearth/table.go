package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/Veraticus/hearth/internal/cli"
)

// table writes aligned rows under a styled header.
type table struct {
	w *tabwriter.Writer
}

func newTable(out io.Writer, headers ...string) (*table, error) {
	t := &table{w: tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)}
	styled := make([]string, len(headers))
	rules := make([]string, len(headers))
	for i, h := range headers {
		styled[i] = cli.HeaderStyle.Render(h)
		rules[i] = strings.Repeat("─", len(h))
	}
	if err := t.row(styled...); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	if err := t.row(rules...); err != nil {
		return nil, fmt.Errorf("failed to write separator: %w", err)
	}
	return t, nil
}

func (t *table) row(cells ...string) error {
	_, err := fmt.Fprintln(t.w, strings.Join(cells, "\t"))
	return err
}

func (t *table) flush() error {
	return t.w.Flush()
}
