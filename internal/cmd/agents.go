package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chathook/chathook-cli/internal/api"
	"github.com/chathook/chathook-cli/internal/iocontext"
	"github.com/chathook/chathook-cli/internal/model"
	"github.com/chathook/chathook-cli/internal/normalize"
)

func newAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "agents",
		Aliases: []string{"agent", "a"},
		Short:   "Manage agents",
		Long:    "List, create, and update support agents",
	}

	cmd.AddCommand(newAgentsListCmd())
	cmd.AddCommand(newAgentsGetCmd())
	cmd.AddCommand(newAgentsCreateCmd())
	cmd.AddCommand(newAgentsUpdateCmd())

	return cmd
}

func listNormalizedAgents(cmd *cobra.Command) ([]model.Agent, error) {
	client, err := getClient()
	if err != nil {
		return nil, err
	}
	raw, err := client.ListAgents(cmdContext(cmd))
	if err != nil {
		return nil, err
	}
	agents, ok := normalize.NormalizeAgents(raw)
	if !ok {
		return []model.Agent{}, nil
	}
	return agents, nil
}

func newAgentsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all agents",
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			agents, err := listNormalizedAgents(cmd)
			if err != nil {
				return err
			}

			if isJSON(cmd) {
				return printJSON(cmd, agents)
			}

			if len(agents) == 0 {
				printEmpty(cmd, "No agents found")
				return nil
			}

			w := newTabWriterFromCmd(cmd)
			defer func() { _ = w.Flush() }()
			_, _ = fmt.Fprintln(w, "ID\tNAME\tEMAIL\tROLE\tAVAILABILITY\tTODAY")
			for _, agent := range agents {
				_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\n",
					agent.ID, agent.Name, agent.Email, agent.Role,
					agent.Availability, agent.Stats.ConversationsToday)
			}
			return nil
		}),
	}

	return cmd
}

func newAgentsGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "get <id>",
		Aliases: []string{"g"},
		Short:   "Get agent by ID",
		Args:    cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "agent")
			if err != nil {
				return err
			}

			agents, err := listNormalizedAgents(cmd)
			if err != nil {
				return err
			}
			for _, agent := range agents {
				if agent.ID != id {
					continue
				}
				if isJSON(cmd) {
					return printJSON(cmd, agent)
				}
				ioStreams := iocontext.GetIO(cmd.Context())
				out := ioStreams.Out
				_, _ = fmt.Fprintf(out, "Agent #%d %s\n", agent.ID, agent.Name)
				_, _ = fmt.Fprintf(out, "Email:        %s\n", agent.Email)
				_, _ = fmt.Fprintf(out, "Role:         %s\n", agent.Role)
				_, _ = fmt.Fprintf(out, "Availability: %s\n", agent.Availability)
				if len(agent.Teams) > 0 {
					_, _ = fmt.Fprintf(out, "Teams:        %s\n", strings.Join(agent.Teams, ", "))
				}
				_, _ = fmt.Fprintf(out, "Today:        %d conversations, avg response %s\n",
					agent.Stats.ConversationsToday, agent.Stats.AvgResponseTime)
				return nil
			}
			return fmt.Errorf("agent %d not found", id)
		}),
	}

	return cmd
}

func newAgentsCreateCmd() *cobra.Command {
	var (
		name  string
		email string
		role  string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new agent",
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			if email == "" {
				return fmt.Errorf("--email is required")
			}
			if role != "" && role != "agent" && role != "admin" {
				return fmt.Errorf("role must be 'agent' or 'admin'")
			}

			client, err := getClient()
			if err != nil {
				return err
			}

			raw, err := client.CreateAgent(cmdContext(cmd), api.CreateAgentRequest{
				Name:  name,
				Email: email,
				Role:  role,
			})
			if err != nil {
				return err
			}
			agent := normalize.NormalizeAgent(raw)

			if isJSON(cmd) {
				return printJSON(cmd, agent)
			}
			ioStreams := iocontext.GetIO(cmd.Context())
			_, _ = fmt.Fprintf(ioStreams.Out, "Created agent %d: %s (%s)\n", agent.ID, agent.Name, agent.Role)
			return nil
		}),
	}

	cmd.Flags().StringVar(&name, "name", "", "Agent name")
	cmd.Flags().StringVar(&email, "email", "", "Agent email")
	cmd.Flags().StringVar(&role, "role", "", "Agent role: agent|admin")

	return cmd
}

func newAgentsUpdateCmd() *cobra.Command {
	var (
		name         string
		role         string
		availability string
	)

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update an agent",
		Args:  cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "agent")
			if err != nil {
				return err
			}

			fields := map[string]any{}
			if cmd.Flags().Changed("name") {
				fields["name"] = name
			}
			if cmd.Flags().Changed("role") {
				if role != "agent" && role != "admin" {
					return fmt.Errorf("role must be 'agent' or 'admin'")
				}
				fields["role"] = role
			}
			if cmd.Flags().Changed("availability") {
				fields["availability"] = availability
			}
			if len(fields) == 0 {
				return fmt.Errorf("at least one of --name, --role, or --availability is required")
			}

			client, err := getClient()
			if err != nil {
				return err
			}

			raw, err := client.UpdateAgent(cmdContext(cmd), id, fields)
			if err != nil {
				return err
			}
			agent := normalize.NormalizeAgent(raw)

			if isJSON(cmd) {
				return printJSON(cmd, agent)
			}
			ioStreams := iocontext.GetIO(cmd.Context())
			_, _ = fmt.Fprintf(ioStreams.Out, "Updated agent %d\n", id)
			return nil
		}),
	}

	cmd.Flags().StringVar(&name, "name", "", "New name")
	cmd.Flags().StringVar(&role, "role", "", "New role: agent|admin")
	cmd.Flags().StringVar(&availability, "availability", "", "New availability: online|busy|offline")

	return cmd
}
