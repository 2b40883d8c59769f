package main

import (
	"github.com/spf13/cobra"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/mutation"
)

func newUsersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "List and edit directory users",
	}
	cmd.AddCommand(
		newUsersListCmd(a),
		newUsersCreateCmd(a),
		newUsersUpdateCmd(a),
		newUsersDeleteCmd(a),
	)
	return cmd
}

func newUsersListCmd(a *app) *cobra.Command {
	var (
		role   string
		search string
		page   int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List one page of users",
		Example: `  rosterctl users list
  rosterctl users list --role Faculty --page 2
  rosterctl users list --search hopper --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]string{cache.ParamRole: role}
			if search != "" {
				params[cache.ParamSearch] = search
			}
			result, err := a.query(cmd.Context(), cache.KindUsers, params, page)
			if err != nil {
				return err
			}
			return a.emitPage(cmd.OutOrStdout(), result, page)
		},
	}
	cmd.Flags().StringVar(&role, "role", cache.DefaultCatchAllCategory, "role tab (All, Faculty, Student)")
	cmd.Flags().StringVar(&search, "search", "", "search text")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	return cmd
}

func newUsersCreateCmd(a *app) *cobra.Command {
	var (
		name   string
		email  string
		role   string
		fields map[string]string
	)
	cmd := &cobra.Command{
		Use:     "create",
		Short:   "Create a user",
		Example: `  rosterctl users create --name "Ada Byron" --email ada@faculty.edu --role Faculty --field phone=555-0101`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := fieldMap(fields)
			body["name"] = name
			body["email"] = email
			rec, err := a.container.Mutate(cmd.Context(), mutation.ActionCreate, mutation.Payload{
				Kind:     cache.KindUsers,
				Category: role,
				Fields:   body,
			})
			if err != nil {
				return err
			}
			return a.emitRecord(cmd.OutOrStdout(), "created", rec)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "full name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&role, "role", "Student", "role (Faculty or Student)")
	cmd.Flags().StringToStringVar(&fields, "field", nil, "extra field as key=value")
	return cmd
}

func newUsersUpdateCmd(a *app) *cobra.Command {
	var (
		name   string
		email  string
		fields map[string]string
	)
	cmd := &cobra.Command{
		Use:   "update USER_ID",
		Short: "Update a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := fieldMap(fields)
			if cmd.Flags().Changed("name") {
				body["name"] = name
			}
			if cmd.Flags().Changed("email") {
				body["email"] = email
			}
			rec, err := a.container.Mutate(cmd.Context(), mutation.ActionUpdate, mutation.Payload{
				Kind:   cache.KindUsers,
				ID:     args[0],
				Fields: body,
			})
			if err != nil {
				return err
			}
			return a.emitRecord(cmd.OutOrStdout(), "updated", rec)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "full name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringToStringVar(&fields, "field", nil, "field to set as key=value")
	return cmd
}

func newUsersDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete USER_ID",
		Short: "Delete a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := a.container.Mutate(cmd.Context(), mutation.ActionDelete, mutation.Payload{
				Kind: cache.KindUsers,
				ID:   args[0],
			})
			if err != nil {
				return err
			}
			return a.emitRecord(cmd.OutOrStdout(), "deleted", rec)
		},
	}
}

func fieldMap(in map[string]string) map[string]any {
	out := make(map[string]any, len(in)+2)
	for k, v := range in {
		out[k] = v
	}
	return out
}
