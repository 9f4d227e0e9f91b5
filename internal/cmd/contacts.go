package cmd

import (
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"

	"github.com/chathook/chathook-cli/internal/api"
	"github.com/chathook/chathook-cli/internal/iocontext"
	"github.com/chathook/chathook-cli/internal/model"
	"github.com/chathook/chathook-cli/internal/normalize"
)

func newContactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "contacts",
		Aliases: []string{"contact"},
		Short:   "Manage contacts",
		Long:    "List, search, create, and update customer contacts",
	}

	cmd.AddCommand(newContactsListCmd())
	cmd.AddCommand(newContactsSearchCmd())
	cmd.AddCommand(newContactsCreateCmd())
	cmd.AddCommand(newContactsUpdateCmd())

	return cmd
}

func listNormalizedContacts(cmd *cobra.Command) ([]model.Contact, error) {
	client, err := getClient()
	if err != nil {
		return nil, err
	}
	raw, err := client.ListContacts(cmdContext(cmd))
	if err != nil {
		return nil, err
	}
	contacts, ok := normalize.NormalizeContacts(raw)
	if !ok {
		return []model.Contact{}, nil
	}
	return contacts, nil
}

func printContactsTable(cmd *cobra.Command, contacts []model.Contact) error {
	f := newFormatter(cmd)
	f.StartTable([]string{"ID", "NAME", "EMAIL", "PHONE", "LABELS"})
	for _, contact := range contacts {
		f.Row(fmt.Sprintf("%d", contact.ID), contact.Name, contact.Email, contact.Phone,
			strings.Join(contact.Labels, ","))
	}
	return f.EndTable()
}

func newContactsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all contacts",
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			contacts, err := listNormalizedContacts(cmd)
			if err != nil {
				return err
			}

			if isJSON(cmd) {
				return printJSON(cmd, contacts)
			}
			if len(contacts) == 0 {
				printEmpty(cmd, "No contacts found")
				return nil
			}
			return printContactsTable(cmd, contacts)
		}),
	}

	return cmd
}

func newContactsSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <term>",
		Short: "Fuzzy-search contacts by name or email",
		Args:  cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			contacts, err := listNormalizedContacts(cmd)
			if err != nil {
				return err
			}

			haystack := make([]string, len(contacts))
			for i, contact := range contacts {
				haystack[i] = contact.Name + " " + contact.Email
			}
			matches := fuzzy.Find(args[0], haystack)
			found := make([]model.Contact, 0, len(matches))
			for _, match := range matches {
				found = append(found, contacts[match.Index])
			}

			if isJSON(cmd) {
				return printJSON(cmd, found)
			}
			if len(found) == 0 {
				printEmpty(cmd, "No matching contacts")
				return nil
			}
			return printContactsTable(cmd, found)
		}),
	}

	return cmd
}

func newContactsCreateCmd() *cobra.Command {
	var (
		name  string
		email string
		phone string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new contact",
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			client, err := getClient()
			if err != nil {
				return err
			}

			raw, err := client.CreateContact(cmdContext(cmd), api.CreateContactRequest{
				Name:  name,
				Email: email,
				Phone: phone,
			})
			if err != nil {
				return err
			}
			contact := normalize.NormalizeContact(raw)

			if isJSON(cmd) {
				return printJSON(cmd, contact)
			}
			ioStreams := iocontext.GetIO(cmd.Context())
			_, _ = fmt.Fprintf(ioStreams.Out, "Created contact %d: %s\n", contact.ID, contact.Name)
			return nil
		}),
	}

	cmd.Flags().StringVar(&name, "name", "", "Contact name")
	cmd.Flags().StringVar(&email, "email", "", "Contact email")
	cmd.Flags().StringVar(&phone, "phone", "", "Contact phone number")

	return cmd
}

func newContactsUpdateCmd() *cobra.Command {
	var (
		name  string
		email string
		phone string
	)

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a contact",
		Args:  cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "contact")
			if err != nil {
				return err
			}

			fields := map[string]any{}
			if cmd.Flags().Changed("name") {
				fields["name"] = name
			}
			if cmd.Flags().Changed("email") {
				fields["email"] = email
			}
			if cmd.Flags().Changed("phone") {
				fields["phone_number"] = phone
			}
			if len(fields) == 0 {
				return fmt.Errorf("at least one of --name, --email, or --phone is required")
			}

			client, err := getClient()
			if err != nil {
				return err
			}

			raw, err := client.UpdateContact(cmdContext(cmd), id, fields)
			if err != nil {
				return err
			}
			contact := normalize.NormalizeContact(raw)

			if isJSON(cmd) {
				return printJSON(cmd, contact)
			}
			ioStreams := iocontext.GetIO(cmd.Context())
			_, _ = fmt.Fprintf(ioStreams.Out, "Updated contact %d\n", id)
			return nil
		}),
	}

	cmd.Flags().StringVar(&name, "name", "", "New name")
	cmd.Flags().StringVar(&email, "email", "", "New email")
	cmd.Flags().StringVar(&phone, "phone", "", "New phone number")

	return cmd
}
