package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show fleet workload and learning health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			workload, err := client.get("/api/v1/workload", nil)
			if err != nil {
				return err
			}
			insights, err := client.get("/api/v1/insights", nil)
			if err != nil {
				return err
			}
			outputJSON(workload)
			outputJSON(insights)
			return nil
		},
	}
}

// parseSkills turns repeated "capability=proficiency" flags into a map.
func parseSkills(raw []string) (map[string]float64, error) {
	skills := make(map[string]float64, len(raw))
	for _, s := range raw {
		parts := strings.SplitN(s, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid skill %q, want capability=proficiency", s)
		}
		p, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid proficiency in %q: %w", s, err)
		}
		skills[parts[0]] = p
	}
	return skills, nil
}

func newAgentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage registered agents",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/api/v1/agents", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	})

	var name string
	var capacity int
	var skills []string
	register := &cobra.Command{
		Use:   "register <id>",
		Short: "Register or update an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseSkills(skills)
			if err != nil {
				return err
			}
			if name == "" {
				name = args[0]
			}
			data, err := newClient().post("/api/v1/agents", map[string]interface{}{
				"id":             args[0],
				"name":           name,
				"skills":         parsed,
				"max_concurrent": capacity,
			})
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	register.Flags().StringVar(&name, "name", "", "Display name (defaults to id)")
	register.Flags().IntVar(&capacity, "capacity", 1, "Maximum concurrent tasks")
	register.Flags().StringArrayVar(&skills, "skill", nil, "Skill as capability=proficiency (repeatable)")
	cmd.AddCommand(register)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <id>",
		Short: "Deregister an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().delete("/api/v1/agents/" + args[0])
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "metrics <id>",
		Short: "Show an agent's performance metrics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/api/v1/agents/"+args[0]+"/metrics", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	})

	return cmd
}

func newTaskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Submit tasks for routing",
	}

	var taskType, priority, deadline string
	var skills []string
	submit := &cobra.Command{
		Use:   "submit <id>",
		Short: "Submit a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]interface{}{
				"id":              args[0],
				"type":            taskType,
				"required_skills": skills,
				"priority":        priority,
			}
			if deadline != "" {
				t, err := time.Parse(time.RFC3339, deadline)
				if err != nil {
					return fmt.Errorf("invalid deadline: %w", err)
				}
				payload["deadline"] = t
			}
			data, err := newClient().post("/api/v1/tasks", payload)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	submit.Flags().StringVar(&taskType, "type", "", "Task type")
	submit.Flags().StringArrayVar(&skills, "skill", nil, "Required capability (repeatable)")
	submit.Flags().StringVar(&priority, "priority", "medium", "Priority: low, medium, high, critical")
	submit.Flags().StringVar(&deadline, "deadline", "", "Deadline (RFC 3339)")
	cmd.AddCommand(submit)

	return cmd
}

func newOutcomeCommand() *cobra.Command {
	var agentID string
	var success bool
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "outcome <task-id>",
		Short: "Report a task outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().post("/api/v1/outcomes", map[string]interface{}{
				"task_id":         args[0],
				"agent_id":        agentID,
				"success":         success,
				"completion_time": duration.Nanoseconds(),
			})
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "Agent that executed the task")
	cmd.Flags().BoolVar(&success, "success", false, "Whether the task succeeded")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Completion time (e.g. 90s, 5m)")
	cmd.MarkFlagRequired("agent")
	return cmd
}

func newImprovementsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "improvements",
		Short: "Architecture improvement proposals",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored proposals",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/api/v1/improvements", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Run the analysis rules now",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().post("/api/v1/improvements/generate", nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	})

	return cmd
}

func newMessagesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "messages <agent-id>",
		Short: "Drain an agent's pending messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().get("/api/v1/messages/"+args[0], nil)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
}

func newAuditCommand() *cobra.Command {
	var kind, agentID, taskID string
	var limit int

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the decision audit trail",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			if kind != "" {
				params.Set("kind", kind)
			}
			if agentID != "" {
				params.Set("agent_id", agentID)
			}
			if taskID != "" {
				params.Set("task_id", taskID)
			}
			if limit > 0 {
				params.Set("limit", strconv.Itoa(limit))
			}
			data, err := newClient().get("/api/v1/audit", params)
			if err != nil {
				return err
			}
			outputJSON(data)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "Filter by event kind")
	cmd.Flags().StringVar(&agentID, "agent", "", "Filter by agent id")
	cmd.Flags().StringVar(&taskID, "task", "", "Filter by task id")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum events")
	return cmd
}
