package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/dukex/careflow/pkg/client"
	"github.com/dukex/careflow/pkg/models"
	"github.com/dukex/careflow/pkg/scheduler"
	cli "github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

func readDefinition(path string) (*models.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow definition %s: %w", path, err)
	}

	return models.DecodeDefinition(data)
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate a workflow definition file",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "jobs",
				Usage: "Print the jobs the workflow would submit",
			},
		},
		Action: withApp(func(_ context.Context, a *app, command *cli.Command) error {
			if err := requireArgs(command, "FILE"); err != nil {
				return err
			}

			workflow, err := readDefinition(command.Args().First())
			if err != nil {
				return err
			}

			workflow = models.NormalizeWorkflow(workflow)

			err = models.ValidateWorkflow(workflow).Err()
			if err != nil {
				return err
			}

			if !command.Bool("jobs") {
				return a.print(workflow)
			}

			if workflow.ID == "" {
				workflow.ID = "unsaved"
			}

			jobs, err := a.coordinator.BuildJobs(workflow)
			if err != nil {
				return err
			}

			return a.print(jobs)
		}),
	}
}

func createCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Create a workflow from a definition file and schedule its jobs",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "template-mode",
				Usage: "How a template is stored for many patients (shared, per_patient)",
			},
		},
		Action: withApp(func(ctx context.Context, a *app, command *cli.Command) error {
			if err := requireArgs(command, "FILE"); err != nil {
				return err
			}

			workflow, err := readDefinition(command.Args().First())
			if err != nil {
				return err
			}

			created, err := a.service.Create(ctx, workflow, models.TemplateMode(command.String("template-mode")))
			if printErr := a.print(created); printErr != nil {
				return printErr
			}

			errs := []error{err}
			for _, entry := range created {
				errs = append(errs, entry.Submissions.Err())
			}

			return errors.Join(errs...)
		}),
	}
}

func updateCommand() *cli.Command {
	return &cli.Command{
		Name:      "update",
		Usage:     "Replace a workflow from a definition file and reschedule its jobs",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "id",
				Usage: "Workflow ID, when the file does not carry one",
			},
		},
		Action: withApp(func(ctx context.Context, a *app, command *cli.Command) error {
			if err := requireArgs(command, "FILE"); err != nil {
				return err
			}

			workflow, err := readDefinition(command.Args().First())
			if err != nil {
				return err
			}

			if id := command.String("id"); id != "" {
				workflow.ID = id
			}

			updated, result, err := a.service.Update(ctx, workflow)
			if err != nil {
				return err
			}

			return a.printChange(updated, result)
		}),
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show a workflow",
		ArgsUsage: "WORKFLOW_ID",
		Action: withApp(func(ctx context.Context, a *app, command *cli.Command) error {
			if err := requireArgs(command, "WORKFLOW_ID"); err != nil {
				return err
			}

			workflow, err := a.api.FetchWorkflow(ctx, command.Args().First())
			if err != nil {
				return err
			}

			return a.print(workflow)
		}),
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Change a workflow status (active, paused, completed)",
		ArgsUsage: "WORKFLOW_ID STATUS",
		Action: withApp(func(ctx context.Context, a *app, command *cli.Command) error {
			if err := requireArgs(command, "WORKFLOW_ID", "STATUS"); err != nil {
				return err
			}

			change, err := a.service.ChangeStatus(ctx, command.Args().Get(0), models.WorkflowStatus(command.Args().Get(1)))
			if err != nil {
				return err
			}

			return a.printChange(change.Workflow, change.Schedule)
		}),
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Cancel a workflow's jobs and delete it",
		ArgsUsage: "WORKFLOW_ID",
		Action: withApp(func(ctx context.Context, a *app, command *cli.Command) error {
			if err := requireArgs(command, "WORKFLOW_ID"); err != nil {
				return err
			}

			id := command.Args().First()

			err := a.service.Delete(ctx, id)
			if err != nil {
				return err
			}

			a.logger.InfoContext(ctx, "Workflow deleted", "workflow_id", id)

			return nil
		}),
	}
}

func assignCommand() *cli.Command {
	return &cli.Command{
		Name:      "assign",
		Usage:     "Assign patients to a workflow and schedule their jobs",
		ArgsUsage: "WORKFLOW_ID PATIENT_ID...",
		Action: withApp(func(ctx context.Context, a *app, command *cli.Command) error {
			if err := requireArgs(command, "WORKFLOW_ID", "PATIENT_ID"); err != nil {
				return err
			}

			args := command.Args().Slice()

			updated, result, err := a.service.Assign(ctx, args[0], args[1:])
			if err != nil {
				return err
			}

			return a.printChange(updated, result)
		}),
	}
}

func scheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "schedule",
		Usage:     "Cancel and resubmit every job of a workflow",
		ArgsUsage: "WORKFLOW_ID",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "remote",
				Usage: "Let the API reschedule the workflow instead of submitting jobs from here",
			},
		},
		Action: withApp(func(ctx context.Context, a *app, command *cli.Command) error {
			if err := requireArgs(command, "WORKFLOW_ID"); err != nil {
				return err
			}

			id := command.Args().First()

			if command.Bool("remote") {
				return a.api.RequestSchedule(ctx, id)
			}

			result, err := a.coordinator.ScheduleWorkflow(ctx, id)
			if err != nil {
				return err
			}

			return a.printSchedule(result)
		}),
	}
}

func cancelCommand() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "Cancel every pending job of a workflow",
		ArgsUsage: "WORKFLOW_ID",
		Action: withApp(func(ctx context.Context, a *app, command *cli.Command) error {
			if err := requireArgs(command, "WORKFLOW_ID"); err != nil {
				return err
			}

			return a.coordinator.CancelWorkflow(ctx, command.Args().First())
		}),
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Print the execution records of a workflow",
		ArgsUsage: "WORKFLOW_ID",
		Action: withApp(func(ctx context.Context, a *app, command *cli.Command) error {
			if err := requireArgs(command, "WORKFLOW_ID"); err != nil {
				return err
			}

			records := make([]models.ExecutionRecord, 0)

			for record, err := range a.coordinator.WorkflowHistory(ctx, command.Args().First()) {
				if err != nil {
					return err
				}

				records = append(records, record)
			}

			return a.print(records)
		}),
	}
}

func resultCommand() *cli.Command {
	return &cli.Command{
		Name:      "result",
		Usage:     "Record a lab value for a test step",
		ArgsUsage: "WORKFLOW_ID STEP_ORDER",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "patient",
				Usage:    "Patient the value belongs to",
				Required: true,
			},
			&cli.FloatFlag{
				Name:     "value",
				Usage:    "Measured value",
				Required: true,
			},
		},
		Action: withApp(func(ctx context.Context, a *app, command *cli.Command) error {
			if err := requireArgs(command, "WORKFLOW_ID", "STEP_ORDER"); err != nil {
				return err
			}

			order, err := intArg(command, 1)
			if err != nil {
				return err
			}

			record, err := a.api.RecordStepResult(ctx, command.Args().First(), order, client.StepResult{
				PatientID: command.String("patient"),
				Value:     command.Float("value"),
			})
			if err != nil {
				return err
			}

			return a.print(record)
		}),
	}
}

func stepCommand() *cli.Command {
	return &cli.Command{
		Name:  "step",
		Usage: "Edit the steps of a saved workflow",
		Commands: []*cli.Command{
			{
				Name:      "move",
				Usage:     "Move the step at FROM to TO and renumber the steps",
				ArgsUsage: "WORKFLOW_ID FROM TO",
				Action: withApp(func(ctx context.Context, a *app, command *cli.Command) error {
					if err := requireArgs(command, "WORKFLOW_ID", "FROM", "TO"); err != nil {
						return err
					}

					from, err := intArg(command, 1)
					if err != nil {
						return err
					}

					to, err := intArg(command, 2)
					if err != nil {
						return err
					}

					updated, result, err := a.service.MoveStep(ctx, command.Args().First(), from, to)
					if err != nil {
						return err
					}

					return a.printChange(updated, result)
				}),
			},
			{
				Name:      "add",
				Usage:     "Insert the step defined in FILE at INDEX",
				ArgsUsage: "WORKFLOW_ID INDEX FILE",
				Action: withApp(func(ctx context.Context, a *app, command *cli.Command) error {
					if err := requireArgs(command, "WORKFLOW_ID", "INDEX", "FILE"); err != nil {
						return err
					}

					index, err := intArg(command, 1)
					if err != nil {
						return err
					}

					step, err := readStep(command.Args().Get(2))
					if err != nil {
						return err
					}

					updated, result, err := a.service.AddStep(ctx, command.Args().First(), step, index)
					if err != nil {
						return err
					}

					return a.printChange(updated, result)
				}),
			},
			{
				Name:      "remove",
				Usage:     "Remove the step at INDEX and renumber the steps",
				ArgsUsage: "WORKFLOW_ID INDEX",
				Action: withApp(func(ctx context.Context, a *app, command *cli.Command) error {
					if err := requireArgs(command, "WORKFLOW_ID", "INDEX"); err != nil {
						return err
					}

					index, err := intArg(command, 1)
					if err != nil {
						return err
					}

					updated, result, err := a.service.RemoveStep(ctx, command.Args().First(), index)
					if err != nil {
						return err
					}

					return a.printChange(updated, result)
				}),
			},
		},
	}
}

// readStep decodes a YAML or JSON step through its JSON field names.
func readStep(path string) (*models.WorkflowStep, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read step %s: %w", path, err)
	}

	var document map[string]any

	err = yaml.Unmarshal(data, &document)
	if err != nil {
		return nil, fmt.Errorf("failed to parse step %s: %w", path, err)
	}

	raw, err := json.Marshal(document)
	if err != nil {
		return nil, err
	}

	var step models.WorkflowStep

	err = json.Unmarshal(raw, &step)
	if err != nil {
		return nil, fmt.Errorf("failed to decode step %s: %w", path, err)
	}

	return &step, nil
}

func intArg(command *cli.Command, index int) (int, error) {
	value, err := strconv.Atoi(command.Args().Get(index))
	if err != nil {
		return 0, fmt.Errorf("%w: argument %d must be an integer: %w", errUsage, index+1, err)
	}

	return value, nil
}

type change struct {
	Workflow *models.Workflow          `json:"workflow"`
	Schedule *scheduler.ScheduleResult `json:"schedule,omitempty"`
}

func (a *app) printChange(workflow *models.Workflow, result *scheduler.ScheduleResult) error {
	if err := a.print(change{Workflow: workflow, Schedule: result}); err != nil {
		return err
	}

	return scheduleErr(result)
}

func (a *app) printSchedule(result *scheduler.ScheduleResult) error {
	if err := a.print(result); err != nil {
		return err
	}

	return scheduleErr(result)
}

// scheduleErr turns failed job submissions into the command error so the
// exit status reports them.
func scheduleErr(result *scheduler.ScheduleResult) error {
	if result == nil {
		return nil
	}

	if !result.CancellationSucceeded {
		return fmt.Errorf("previous jobs of workflow %s may still be queued: %w", result.WorkflowID, result.CancelErr)
	}

	return result.Submissions.Err()
}
