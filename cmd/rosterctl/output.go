package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/querycache"
)

// query subscribes to one page and waits for it to load or fail.
func (a *app) query(ctx context.Context, kind string, params map[string]string, page int) (*cache.ResultPage, error) {
	done := make(chan querycache.Entry, 1)
	sub, err := a.container.UseQuery(kind, params, page, func(e querycache.Entry) {
		if e.Status != querycache.StatusSuccess && e.Status != querycache.StatusError {
			return
		}
		select {
		case done <- e:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	defer sub.Close()

	select {
	case e := <-done:
		if e.Err != nil {
			return nil, e.Err
		}
		return e.Data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var userColumns = []string{"name", "email", "role"}

// printPage writes records as a table followed by a paging footer.
func printPage(w io.Writer, page *cache.ResultPage, number int, columns []string, selected map[string]bool) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := append([]string{"ID"}, columns...)
	for i := range header {
		header[i] = strings.ToUpper(header[i])
	}
	if selected != nil {
		header = append([]string{" "}, header...)
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))

	for _, rec := range page.Items {
		row := make([]string, 0, len(columns)+2)
		if selected != nil {
			mark := " "
			if selected[rec.ID] {
				mark = "*"
			}
			row = append(row, mark)
		}
		row = append(row, rec.ID)
		for _, c := range columns {
			row = append(row, rec.String(c))
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()

	more := "no"
	if page.HasMore() {
		more = "yes"
	}
	fmt.Fprintf(w, "page %d, %d shown, more: %s\n", number, len(page.Items), more)
}

// printRecord writes one record as sorted key/value lines.
func printRecord(w io.Writer, rec cache.Record) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "id\t%s\n", rec.ID)
	for _, k := range slices.Sorted(maps.Keys(rec.Fields)) {
		fmt.Fprintf(tw, "%s\t%s\n", k, rec.String(k))
	}
	tw.Flush()
}

func (a *app) emitPage(w io.Writer, page *cache.ResultPage, number int) error {
	if a.settings.JSON {
		return writeJSON(w, page)
	}
	printPage(w, page, number, userColumns, nil)
	return nil
}

func (a *app) emitRecord(w io.Writer, verb string, rec cache.Record) error {
	if a.settings.JSON {
		return writeJSON(w, rec)
	}
	if verb != "" {
		fmt.Fprintf(w, "%s %s\n", verb, rec.ID)
	}
	printRecord(w, rec)
	return nil
}
