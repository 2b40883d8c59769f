package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/listview"
	"github.com/goliatone/go-query-cache/mutation"
	"github.com/goliatone/go-query-cache/querycache"
)

const browseHelp = `commands:
  n             next page
  p             previous page
  s [TEXT]      search (empty clears)
  c CATEGORY    switch tab
  t ID          toggle selection
  o             reopen, clearing the selection
  e TYPE        enroll the selection into --course as TYPE
  d ID          delete a user
  r             retry the current page
  q             quit`

func newBrowseCmd(a *app) *cobra.Command {
	var (
		preset   string
		courseID string
		category string
		wait     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Page through a list interactively",
		Long: `browse opens a list screen and reads commands from stdin, printing the
screen after each one.

` + browseHelp,
		Example: `  rosterctl browse
  rosterctl browse --preset members --course c1
  rosterctl browse --preset enroll --course c2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := browsePreset(preset, courseID)
			if err != nil {
				return err
			}
			var opts []listview.Option
			if category != "" {
				opts = append(opts, listview.WithCategory(category))
			}
			view, err := a.container.UseList(p, opts...)
			if err != nil {
				return err
			}
			defer view.Close()

			b := &browser{app: a, view: view, course: courseID, wait: wait, changed: make(chan struct{}, 1)}
			remove := view.OnRender(b.onRender)
			defer remove()
			return b.run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&preset, "preset", "users", "screen to open (users, members, enroll)")
	cmd.Flags().StringVar(&courseID, "course", "", "course for the members and enroll screens")
	cmd.Flags().StringVar(&category, "category", "", "initial tab")
	cmd.Flags().DurationVar(&wait, "wait", 5*time.Second, "how long to wait for a page before printing it anyway")
	return cmd
}

func browsePreset(name, courseID string) (listview.Preset, error) {
	switch name {
	case "users":
		return listview.UserDirectory(), nil
	case "members":
		return listview.CourseMembers(courseID), nil
	case "enroll":
		if courseID == "" {
			return listview.Preset{}, &cache.InvalidParamError{Field: "course", Message: "required by the enroll screen"}
		}
		return listview.EnrollPicker(), nil
	}
	return listview.Preset{}, &cache.InvalidParamError{Field: "preset", Message: fmt.Sprintf("unknown screen %q", name)}
}

type browser struct {
	*app
	view    *listview.View
	course  string
	wait    time.Duration
	changed chan struct{}
}

func (b *browser) onRender(listview.Snapshot) {
	select {
	case b.changed <- struct{}{}:
	default:
	}
}

func (b *browser) run(ctx context.Context, in io.Reader, out io.Writer) error {
	b.print(out, b.settle(ctx))

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		cmd, arg, _ := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		arg = strings.TrimSpace(arg)

		switch cmd {
		case "":
			continue
		case "q", "quit", "exit":
			return nil
		case "h", "help", "?":
			fmt.Fprintln(out, browseHelp)
			continue
		case "n":
			if !b.view.Next() {
				fmt.Fprintln(out, "no next page")
				continue
			}
		case "p":
			if !b.view.Prev() {
				fmt.Fprintln(out, "already on the first page")
				continue
			}
		case "s":
			b.view.Filter().SetSearch(arg)
		case "c":
			if arg == "" {
				fmt.Fprintln(out, "usage: c CATEGORY")
				continue
			}
			b.view.Filter().SetCategory(arg)
		case "t":
			if _, err := b.view.Selected(); err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			b.view.Toggle(arg)
		case "o":
			b.view.Open()
		case "r":
			b.view.Retry()
		case "e":
			if err := b.enroll(ctx, arg); err != nil {
				fmt.Fprintln(out, "error:", err)
				continue
			}
			fmt.Fprintf(out, "enrolled into %s\n", b.course)
		case "d":
			if _, err := b.container.Mutate(ctx, mutation.ActionDelete, mutation.Payload{Kind: cache.KindUsers, ID: arg}); err != nil {
				fmt.Fprintln(out, "error:", err)
				continue
			}
			fmt.Fprintf(out, "deleted %s\n", arg)
		default:
			fmt.Fprintf(out, "unknown command %q, h for help\n", cmd)
			continue
		}
		b.print(out, b.settle(ctx))
	}
}

func (b *browser) enroll(ctx context.Context, memberType string) error {
	ids, err := b.view.Selected()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return &cache.InvalidParamError{Field: "selection", Message: "select users with t ID first"}
	}
	if _, err := b.container.Mutate(ctx, mutation.ActionEnroll, mutation.Payload{
		CourseID:   b.course,
		MemberType: memberType,
		UserIDs:    ids,
	}); err != nil {
		return err
	}
	b.view.Open()
	return nil
}

// settle waits until the screen shows a loaded or failed page for the current
// filter, or until the wait elapses.
func (b *browser) settle(ctx context.Context) listview.Snapshot {
	timeout := time.NewTimer(b.wait)
	defer timeout.Stop()
	for {
		snap := b.view.Snapshot()
		if isSettled(snap) {
			return snap
		}
		select {
		case <-b.changed:
		case <-timeout.C:
			return snap
		case <-ctx.Done():
			return snap
		}
	}
}

func isSettled(s listview.Snapshot) bool {
	if s.Entry.Key.Page() != s.Filter.Page {
		return false
	}
	return s.Entry.Status == querycache.StatusSuccess || s.Entry.Status == querycache.StatusError
}

func (b *browser) print(out io.Writer, s listview.Snapshot) {
	header := fmt.Sprintf("[%s]", s.Filter.Category)
	if s.Filter.Search != "" {
		header += fmt.Sprintf(" search=%q", s.Filter.Search)
	}
	fmt.Fprintln(out, header)

	switch s.Entry.Status {
	case querycache.StatusError:
		fmt.Fprintln(out, "error:", s.Entry.Err)
		fmt.Fprintln(out, "r to retry")
		return
	case querycache.StatusIdle, querycache.StatusLoading:
		if s.Entry.Data == nil {
			fmt.Fprintln(out, "loading...")
			return
		}
	}

	var selected map[string]bool
	if s.Selected != nil {
		selected = make(map[string]bool, len(s.Selected))
		for _, id := range s.Selected {
			selected[id] = true
		}
	}
	printPage(out, s.Entry.Data, s.Filter.Page, userColumns, selected)
	if s.Selected != nil {
		fmt.Fprintf(out, "selected: %s\n", strings.Join(s.Selected, ", "))
	}
}
