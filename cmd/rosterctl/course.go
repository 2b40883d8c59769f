package main

import (
	"github.com/spf13/cobra"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/mutation"
)

func newMembersCmd(a *app) *cobra.Command {
	var (
		memberType string
		search     string
		page       int
	)
	cmd := &cobra.Command{
		Use:   "members COURSE_ID",
		Short: "List the faculty or students of a course",
		Example: `  rosterctl members c1
  rosterctl members c1 --type student`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]string{
				cache.ParamCourseID:   args[0],
				cache.ParamMemberType: memberType,
			}
			if search != "" {
				params[cache.ParamSearch] = search
			}
			result, err := a.query(cmd.Context(), cache.KindCourseMembers, params, page)
			if err != nil {
				return err
			}
			return a.emitPage(cmd.OutOrStdout(), result, page)
		},
	}
	cmd.Flags().StringVar(&memberType, "type", mutation.MemberFaculty, "member type (faculty or student)")
	cmd.Flags().StringVar(&search, "search", "", "search text")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	return cmd
}

func newCourseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "course COURSE_ID",
		Short: "Show a course with its member counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := cache.CourseKey(args[0])
			if err != nil {
				return err
			}
			result, err := a.query(cmd.Context(), key.Kind(), key.Params(), key.Page())
			if err != nil {
				return err
			}
			if len(result.Items) == 0 {
				return &cache.InvalidParamError{Field: cache.ParamID, Message: "course " + args[0] + " returned no record"}
			}
			return a.emitRecord(cmd.OutOrStdout(), "", result.Items[0])
		},
	}
}

func newEnrollCmd(a *app) *cobra.Command {
	var memberType string
	cmd := &cobra.Command{
		Use:     "enroll COURSE_ID USER_ID...",
		Short:   "Add users to a course",
		Example: `  rosterctl enroll c2 s01 s02 --type student`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := a.container.Mutate(cmd.Context(), mutation.ActionEnroll, mutation.Payload{
				CourseID:   args[0],
				MemberType: memberType,
				UserIDs:    args[1:],
			})
			if err != nil {
				return err
			}
			return a.emitRecord(cmd.OutOrStdout(), "enrolled into", rec)
		},
	}
	cmd.Flags().StringVar(&memberType, "type", mutation.MemberStudent, "member type (faculty or student)")
	return cmd
}
