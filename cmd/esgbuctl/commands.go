package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"esgbu/internal/blob"
	"esgbu/internal/core"
	"esgbu/pkg/domain"
	"esgbu/pkg/formula"
)

// scope holds the administration coordinates shared by the value, lock and
// recompute commands.
type scope struct {
	kind     string
	admin    int64
	survey   int64
	surveys  []int64
	user     int64
	group    int64
	dataType int64
}

func (s *scope) bindAdmin(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.kind, "kind", string(domain.KindEstablishment), "administration kind (establishment, documentary_structure, physical_library)")
	cmd.Flags().Int64Var(&s.admin, "admin", 0, "administration id")
	_ = cmd.MarkFlagRequired("admin")
}

func (s *scope) bindSurvey(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&s.survey, "survey", 0, "survey id")
	_ = cmd.MarkFlagRequired("survey")
}

func (s *scope) bindUser(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&s.user, "user", 0, "acting user id")
	_ = cmd.MarkFlagRequired("user")
}

func (s *scope) bindGroup(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&s.group, "group", 0, "data group id")
	cmd.Flags().Int64Var(&s.dataType, "data-type", 0, "data type id, resolved to its group")
	cmd.MarkFlagsMutuallyExclusive("group", "data-type")
	cmd.MarkFlagsOneRequired("group", "data-type")
}

func (s *scope) parseKind() (domain.AdministrationKind, error) {
	return domain.ParseAdministrationKind(s.kind)
}

func (s *scope) lockKey(ctx context.Context, svc *core.Service) (domain.LockKey, error) {
	kind, err := s.parseKind()
	if err != nil {
		return domain.LockKey{}, err
	}
	group := s.group
	if s.dataType != 0 {
		err := svc.Store().View(ctx, func(v domain.TransactionView) error {
			dt, ok, err := v.FindDataType(s.dataType)
			if err != nil {
				return err
			}
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityDataType, ID: fmt.Sprint(s.dataType)}
			}
			group = dt.GroupID
			return nil
		})
		if err != nil {
			return domain.LockKey{}, err
		}
	}
	return domain.LockKey{Kind: kind, AdministrationID: s.admin, GroupID: group, SurveyID: s.survey}, nil
}

// withService opens the configured store for the duration of fn.
func (a *app) withService(cmd *cobra.Command, fn func(ctx context.Context, svc *core.Service) error) (err error) {
	ctx := cmd.Context()
	rt, err := a.open(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(ctx, rt, cmd.ErrOrStderr()); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, rt.svc)
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "esgbuctl",
		Short:         "Administer the ESGBU survey catalog, operations and group locks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", "", "dotenv file loaded before ESGBU_* overrides (default .env when present)")
	root.PersistentFlags().StringVar(&a.trace, "trace", traceOff, "write one span per service operation to stderr: otel (OpenTelemetry SDK, the default for a bare --trace) or json")
	root.PersistentFlags().Lookup("trace").NoOptDefVal = traceOTel
	root.PersistentFlags().BoolVar(&a.metrics, "metrics", false, "print operation metrics to stderr on exit")

	root.AddCommand(
		newConfigCmd(a),
		newMigrateCmd(a),
		newSeedCmd(a),
		newSurveysCmd(a),
		newEvalCmd(),
		newCheckCmd(a),
		newValueCmd(a),
		newRecomputeCmd(a),
		newLockCmd(a),
		newLockStatusCmd(a),
		newUnlockCmd(a),
		newAuditCmd(a),
	)
	return root
}

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(a.cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the storage schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd, func(ctx context.Context, svc *core.Service) error {
				a.logger.Info("storage ready", "driver", a.cfg.Storage.Driver)
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "storage %s ready\n", a.cfg.Storage.Driver)
				return err
			})
		},
	}
}

func newSeedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed FILE",
		Short: "Create groups, data types, operations and surveys from a YAML catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := readCatalog(args[0])
			if err != nil {
				return err
			}
			return a.withService(cmd, func(ctx context.Context, svc *core.Service) error {
				sum, err := seedCatalog(ctx, svc, file)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), sum)
			})
		},
	}
}

func newSurveysCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "surveys",
		Short: "List surveys in creation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd, func(ctx context.Context, svc *core.Service) error {
				surveys, err := svc.ListSurveys(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), surveys)
			})
		},
	}
}

func newEvalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "eval FORMULA [CODE=VALUE...]",
		Short: "Evaluate a formula against literal values",
		Long: `Evaluate a formula against literal values. Values may be numbers, ND or
empty ("A="). Prints the rounded result, or ERROR with the reason on stderr.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values := formula.Values{}
			for _, pair := range args[1:] {
				code, value, ok := strings.Cut(pair, "=")
				if !ok || code == "" {
					return fmt.Errorf("invalid value %q, want CODE=VALUE", pair)
				}
				values[code] = value
			}
			result := formula.Evaluate(args[0], values)
			if result.IsError() {
				fmt.Fprintln(cmd.ErrOrStderr(), result.Err())
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), result.String())
			return err
		},
	}
}

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check FORMULA",
		Short: "Validate a formula against the catalog codes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd, func(ctx context.Context, svc *core.Service) error {
				if err := svc.ValidateFormula(ctx, args[0]); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return err
			})
		},
	}
}

func newValueCmd(a *app) *cobra.Command {
	parent := &cobra.Command{
		Use:   "value",
		Short: "Edit stored values under the group lock",
	}
	var set, del scope
	setCmd := &cobra.Command{
		Use:   "set CODE VALUE",
		Short: "Store a value and recompute the survey's operations",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd, func(ctx context.Context, svc *core.Service) error {
				edit, err := set.valueEdit(ctx, svc, args[0])
				if err != nil {
					return err
				}
				edit.Value = domain.StringPtr(args[1])
				res, err := svc.SetDataValue(ctx, edit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	clearCmd := &cobra.Command{
		Use:   "clear CODE",
		Short: "Delete a value and recompute the survey's operations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd, func(ctx context.Context, svc *core.Service) error {
				edit, err := del.valueEdit(ctx, svc, args[0])
				if err != nil {
					return err
				}
				res, err := svc.DeleteDataValue(ctx, edit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	for _, pair := range []struct {
		cmd *cobra.Command
		s   *scope
	}{{setCmd, &set}, {clearCmd, &del}} {
		pair.s.bindAdmin(pair.cmd)
		pair.s.bindSurvey(pair.cmd)
		pair.s.bindUser(pair.cmd)
		parent.AddCommand(pair.cmd)
	}
	return parent
}

func (s *scope) valueEdit(ctx context.Context, svc *core.Service, code string) (core.ValueEdit, error) {
	kind, err := s.parseKind()
	if err != nil {
		return core.ValueEdit{}, err
	}
	var dt domain.DataType
	err = svc.Store().View(ctx, func(v domain.TransactionView) error {
		var ok bool
		var err error
		dt, ok, err = v.FindDataTypeByCode(code)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityDataType, ID: code}
		}
		return nil
	})
	if err != nil {
		return core.ValueEdit{}, err
	}
	return core.ValueEdit{
		Kind:             kind,
		AdministrationID: s.admin,
		SurveyID:         s.survey,
		DataTypeID:       dt.ID,
		UserID:           s.user,
	}, nil
}

func newRecomputeCmd(a *app) *cobra.Command {
	var s scope
	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Recompute the operations of one administration",
		Long: `Recompute the operations of one administration. Without --survey every
survey is recomputed in creation order.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := s.parseKind()
			if err != nil {
				return err
			}
			return a.withService(cmd, func(ctx context.Context, svc *core.Service) error {
				report, err := svc.RecomputeOperationsForAllSurveys(ctx, kind, s.admin, s.surveys...)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	s.bindAdmin(cmd)
	cmd.Flags().Int64SliceVar(&s.surveys, "survey", nil, "survey id, repeatable")
	return cmd
}

type lockView struct {
	Lock      domain.GroupLock `json:"lock"`
	Held      bool             `json:"held"`
	Expired   bool             `json:"expired"`
	ExpiresAt string           `json:"expires_at,omitempty"`
}

func newLockCmd(a *app) *cobra.Command {
	var s scope
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Acquire or renew a group lock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd, func(ctx context.Context, svc *core.Service) error {
				key, err := s.lockKey(ctx, svc)
				if err != nil {
					return err
				}
				lock, err := svc.AcquireGroupLock(ctx, core.LockRequest{
					Kind:             key.Kind,
					AdministrationID: key.AdministrationID,
					GroupID:          key.GroupID,
					SurveyID:         key.SurveyID,
					UserID:           s.user,
				})
				var busy *domain.GroupBusyError
				if errors.As(err, &busy) {
					a.logger.Warn("group busy", "lock", key.String(), "holder", busy.HolderID)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), lockView{
					Lock:      lock,
					Held:      true,
					ExpiresAt: lock.ExpiresAt(svc.LockTTL()).Format(timeLayout),
				})
			})
		},
	}
	s.bindAdmin(cmd)
	s.bindGroup(cmd)
	s.bindSurvey(cmd)
	s.bindUser(cmd)
	return cmd
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func newLockStatusCmd(a *app) *cobra.Command {
	var s scope
	cmd := &cobra.Command{
		Use:   "lock-status",
		Short: "Show the stored lock of a group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd, func(ctx context.Context, svc *core.Service) error {
				key, err := s.lockKey(ctx, svc)
				if err != nil {
					return err
				}
				status, err := svc.LockStatus(ctx, key)
				if err != nil {
					return err
				}
				view := lockView{Lock: status.Lock, Held: status.Held, Expired: status.Expired}
				if status.Held {
					view.ExpiresAt = status.ExpiresAt.Format(timeLayout)
				}
				return printJSON(cmd.OutOrStdout(), view)
			})
		},
	}
	s.bindAdmin(cmd)
	s.bindGroup(cmd)
	s.bindSurvey(cmd)
	return cmd
}

func newUnlockCmd(a *app) *cobra.Command {
	var s scope
	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Release a group lock held by the user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd, func(ctx context.Context, svc *core.Service) error {
				key, err := s.lockKey(ctx, svc)
				if err != nil {
					return err
				}
				if err := svc.ReleaseGroupLock(ctx, key, s.user); err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "released %s\n", key)
				return err
			})
		},
	}
	s.bindAdmin(cmd)
	s.bindGroup(cmd)
	s.bindSurvey(cmd)
	s.bindUser(cmd)
	return cmd
}

func newAuditCmd(a *app) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print archived audit entries as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := blob.Open(ctx, a.cfg.Audit)
			if err != nil {
				return err
			}
			if store == nil {
				return fmt.Errorf("audit archive is disabled (audit.driver is %q)", a.cfg.Audit.Driver)
			}
			entries, err := core.ReadAuditArchive(ctx, store, prefix)
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []core.AuditEntry{}
			}
			return printJSON(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "audit", "archive key prefix")
	return cmd
}
