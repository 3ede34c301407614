// Package cli holds the lanectl commands used to provision lanes, staff and
// tokens against the same store the server uses.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"qms/lane-service/internal/bootstrap"
	"qms/lane-service/internal/config"
	"qms/lane-service/internal/httpapi"
	"qms/lane-service/internal/models"
	"qms/lane-service/internal/queue"
	"qms/lane-service/internal/reset"
	"qms/lane-service/internal/store"

	"github.com/spf13/cobra"
)

// Env is what a command needs once the store is open.
type Env struct {
	Store     store.Store
	Engine    *queue.Engine
	Scheduler *reset.Scheduler
	JWTSecret []byte
	Close     func()
}

// Opener builds an Env for one command invocation.
type Opener func(ctx context.Context) (*Env, error)

// OpenFromConfig opens the store named by the environment. Commands run
// without a broadcaster; running servers pick changes up on their next read.
func OpenFromConfig(ctx context.Context) (*Env, error) {
	cfg := config.Load()
	st, closeStore, err := bootstrap.OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewEnv(st, []byte(cfg.JWTSecret), closeStore), nil
}

func NewEnv(st store.Store, secret []byte, closeFn func()) *Env {
	scheduler := reset.NewScheduler(st)
	return &Env{
		Store:     st,
		Engine:    queue.NewEngine(st, nil, queue.Options{Resetter: scheduler}),
		Scheduler: scheduler,
		JWTSecret: secret,
		Close:     closeFn,
	}
}

// NewRoot constructs the lanectl command tree.
func NewRoot(open Opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "lanectl",
		Short:         "Administer walk-in lanes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newMigrateCommand(open),
		newResetCommand(open),
		newLaneCommand(open),
		newActorCommand(open),
		newAssignCommand(open, true),
		newAssignCommand(open, false),
		newTokenCommand(open),
	)
	return root
}

func withEnv(cmd *cobra.Command, open Opener, fn func(ctx context.Context, env *Env) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	env, err := open(ctx)
	if err != nil {
		return err
	}
	if env.Close != nil {
		defer env.Close()
	}
	return fn(ctx, env)
}

func printJSON(w io.Writer, value interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func newMigrateCommand(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, open, func(ctx context.Context, env *Env) error {
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}
}

func newResetCommand(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Zero every lane's current number for the new service day",
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			return withEnv(cmd, open, func(ctx context.Context, env *Env) error {
				if force {
					if err := env.Scheduler.ResetNow(ctx); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "lanes reset")
					return nil
				}
				did, err := env.Scheduler.MaybeReset(ctx)
				if err != nil {
					return err
				}
				if did {
					fmt.Fprintln(cmd.OutOrStdout(), "lanes reset")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "already reset today")
				}
				return nil
			})
		},
	}
	cmd.Flags().Bool("force", false, "reset even if today's reset already ran")
	return cmd
}

func newLaneCommand(open Opener) *cobra.Command {
	laneCmd := &cobra.Command{Use: "lane", Short: "Lane management"}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a lane",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			description, _ := cmd.Flags().GetString("description")
			laneType, _ := cmd.Flags().GetString("type")
			inactive, _ := cmd.Flags().GetBool("inactive")
			active := !inactive
			return withEnv(cmd, open, func(ctx context.Context, env *Env) error {
				lane, err := env.Engine.CreateLane(ctx, queue.CreateLaneInput{
					Name:        name,
					Description: description,
					Type:        laneType,
					IsActive:    &active,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), lane)
			})
		},
	}
	createCmd.Flags().String("name", "", "lane name")
	createCmd.Flags().String("description", "", "lane description")
	createCmd.Flags().String("type", models.LaneTypeRegular, "REGULAR or PRIORITY")
	createCmd.Flags().Bool("inactive", false, "create the lane closed for reservations")
	_ = createCmd.MarkFlagRequired("name")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List lanes",
		RunE: func(cmd *cobra.Command, args []string) error {
			activeOnly, _ := cmd.Flags().GetBool("active")
			return withEnv(cmd, open, func(ctx context.Context, env *Env) error {
				lanes, err := env.Engine.ListLanes(ctx, activeOnly)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), lanes)
			})
		},
	}
	listCmd.Flags().Bool("active", false, "only active lanes")

	setActive := func(use string, active bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <lane-id>",
			Short: strings.ToUpper(use[:1]) + use[1:] + " a lane",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withEnv(cmd, open, func(ctx context.Context, env *Env) error {
					lane, err := env.Engine.UpdateLane(ctx, args[0], queue.UpdateLaneInput{IsActive: &active})
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), lane)
				})
			},
		}
	}

	// set-number corrects a lane's counters by hand, e.g. after a display
	// was advanced past tickets that were never handed out.
	setNumberCmd := &cobra.Command{
		Use:   "set-number <lane-id>",
		Short: "Overwrite a lane's current or last served number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			current, _ := cmd.Flags().GetInt("current")
			lastServed, _ := cmd.Flags().GetInt("last-served")
			setCurrent := cmd.Flags().Changed("current")
			setLast := cmd.Flags().Changed("last-served")
			if !setCurrent && !setLast {
				return fmt.Errorf("one of --current or --last-served is required")
			}
			if current < 0 || lastServed < 0 {
				return fmt.Errorf("numbers must not be negative")
			}
			return withEnv(cmd, open, func(ctx context.Context, env *Env) error {
				laneID := strings.TrimSpace(args[0])
				if setCurrent {
					if err := env.Store.SetCurrentNumber(ctx, laneID, current); err != nil {
						return err
					}
				}
				if setLast {
					if err := env.Store.SetLastServed(ctx, laneID, lastServed); err != nil {
						return err
					}
				}
				lane, err := env.Store.GetLane(ctx, laneID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), lane)
			})
		},
	}
	setNumberCmd.Flags().Int("current", 0, "number shown as now serving")
	setNumberCmd.Flags().Int("last-served", 0, "last number marked served")

	laneCmd.AddCommand(createCmd, listCmd, setActive("open", true), setActive("close", false), setNumberCmd)
	return laneCmd
}

func newActorCommand(open Opener) *cobra.Command {
	actorCmd := &cobra.Command{Use: "actor", Short: "Actor management"}
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			username, _ := cmd.Flags().GetString("username")
			name, _ := cmd.Flags().GetString("name")
			role := strings.ToUpper(strings.TrimSpace(flagString(cmd, "role")))
			if !models.ValidRole(role) {
				return fmt.Errorf("role must be one of %s, %s, %s, %s", models.RoleAdmin, models.RoleStaff, models.RoleDisplay, models.RoleReservation)
			}
			if strings.TrimSpace(username) == "" {
				return fmt.Errorf("username is required")
			}
			if name == "" {
				name = username
			}
			return withEnv(cmd, open, func(ctx context.Context, env *Env) error {
				actor, err := env.Store.CreateActor(ctx, store.CreateActorInput{
					Username: strings.TrimSpace(username),
					Name:     name,
					Role:     role,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), actor)
			})
		},
	}
	createCmd.Flags().String("username", "", "unique login name")
	createCmd.Flags().String("name", "", "display name")
	createCmd.Flags().String("role", models.RoleStaff, "ADMIN, STAFF, DISPLAY or RESERVATION")

	updateCmd := &cobra.Command{
		Use:   "update <actor-id>",
		Short: "Rename, change the role of, or deactivate an actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var input queue.UpdateActorInput
			if cmd.Flags().Changed("name") {
				name, _ := cmd.Flags().GetString("name")
				input.Name = &name
			}
			if cmd.Flags().Changed("role") {
				role, _ := cmd.Flags().GetString("role")
				input.Role = &role
			}
			if cmd.Flags().Changed("active") {
				active, _ := cmd.Flags().GetBool("active")
				input.IsActive = &active
			}
			if input.Name == nil && input.Role == nil && input.IsActive == nil {
				return fmt.Errorf("nothing to update")
			}
			return withEnv(cmd, open, func(ctx context.Context, env *Env) error {
				actor, err := env.Engine.UpdateActor(ctx, strings.TrimSpace(args[0]), input)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), actor)
			})
		},
	}
	updateCmd.Flags().String("name", "", "display name")
	updateCmd.Flags().String("role", "", "ADMIN, STAFF, DISPLAY or RESERVATION")
	updateCmd.Flags().Bool("active", true, "whether the actor may sign in and operate")

	actorCmd.AddCommand(createCmd, updateCmd)
	return actorCmd
}

func newAssignCommand(open Opener, assign bool) *cobra.Command {
	use, short := "assign", "Assign a staff actor to a lane"
	if !assign {
		use, short = "unassign", "Remove a staff actor from a lane"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID := flagString(cmd, "actor")
			laneID := flagString(cmd, "lane")
			return withEnv(cmd, open, func(ctx context.Context, env *Env) error {
				if !assign {
					if err := env.Engine.UnassignLane(ctx, actorID, laneID); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "unassigned")
					return nil
				}
				assignment, err := env.Engine.AssignLane(ctx, actorID, laneID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), assignment)
			})
		},
	}
	cmd.Flags().String("actor", "", "actor id")
	cmd.Flags().String("lane", "", "lane id")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("lane")
	return cmd
}

func newTokenCommand(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID := flagString(cmd, "actor")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			return withEnv(cmd, open, func(ctx context.Context, env *Env) error {
				actor, err := env.Store.GetActor(ctx, actorID)
				if err != nil {
					return err
				}
				if !actor.IsActive {
					return store.ErrActorInactive
				}
				token, err := httpapi.IssueToken(env.JWTSecret, actor.ActorID, ttl, time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			})
		},
	}
	cmd.Flags().String("actor", "", "actor id")
	cmd.Flags().Duration("ttl", 12*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func flagString(cmd *cobra.Command, name string) string {
	value, _ := cmd.Flags().GetString(name)
	return strings.TrimSpace(value)
}
