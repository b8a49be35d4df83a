package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/Ahmmada/Expo33/internal/schema"
	"github.com/Ahmmada/Expo33/internal/store"
	"github.com/Ahmmada/Expo33/internal/ui"
)

var recordEditID string

var recordCmd = &cobra.Command{
	Use:     "record",
	GroupID: "records",
	Short:   "Record attendance for an office, level, and date",
	Long: `Interactively record attendance. Pick an office and level, choose a
date (natural language works: "today", "yesterday", "last monday"),
then mark each student on the roster present, absent, or excused.

With --edit, an existing record is loaded and its statuses can be
changed. The save happens locally and immediately; a best-effort sync
follows when a remote is configured.`,
	Run: func(cmd *cobra.Command, args []string) {
		st, err := openStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		ctx := context.Background()

		var existing *schema.AttendanceRecord
		if recordEditID != "" {
			existing, err = st.RecordByUUID(ctx, recordEditID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error loading record: %v\n", err)
				os.Exit(1)
			}
			if existing == nil {
				fmt.Fprintf(os.Stderr, "Error: no record with id %s\n", recordEditID)
				os.Exit(1)
			}
		}

		officeID, levelID, date, err := promptHeader(ctx, st, existing)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		roster, err := st.StudentsByOfficeAndLevel(ctx, officeID, levelID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading roster: %v\n", err)
			os.Exit(1)
		}
		if len(roster) == 0 {
			fmt.Fprintf(os.Stderr, "Error: no students cached for this office and level; run 'expo33 sync' first\n")
			os.Exit(1)
		}

		statuses, err := promptStatuses(ctx, st, roster, existing)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		id, err := st.SaveAttendance(ctx, date, officeID, levelID, statuses, recordEditID)
		if err != nil {
			if store.IsUserCorrectable(err) {
				fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderWarn("⚠"), err)
			} else {
				fmt.Fprintf(os.Stderr, "Error saving record: %v\n", err)
			}
			os.Exit(1)
		}

		fmt.Printf("%s Saved record %s (%s, %d students)\n", ui.RenderPass("✓"), ui.RenderMuted(id), date, len(statuses))
		trySync(st)
	},
}

// promptHeader asks for office, level, and date. When editing, the
// triple is fixed and only shown.
func promptHeader(ctx context.Context, st *store.Store, existing *schema.AttendanceRecord) (int64, int64, string, error) {
	if existing != nil {
		fmt.Printf("Editing %s — %s / %s on %s\n",
			ui.RenderMuted(existing.UUID), existing.OfficeName, existing.LevelName, existing.Date)
		return existing.OfficeID, existing.LevelID, existing.Date, nil
	}

	offices, err := st.Offices(ctx)
	if err != nil {
		return 0, 0, "", err
	}
	levels, err := st.Levels(ctx)
	if err != nil {
		return 0, 0, "", err
	}
	if len(offices) == 0 || len(levels) == 0 {
		return 0, 0, "", fmt.Errorf("no offices or levels cached; run 'expo33 sync' first")
	}

	officeOpts := make([]huh.Option[int64], 0, len(offices))
	for _, o := range offices {
		officeOpts = append(officeOpts, huh.NewOption(o.Name, o.ID))
	}
	levelOpts := make([]huh.Option[int64], 0, len(levels))
	for _, l := range levels {
		levelOpts = append(levelOpts, huh.NewOption(l.Name, l.ID))
	}

	var (
		officeID int64
		levelID  int64
		dateText = "today"
		date     string
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[int64]().
				Title("Office").
				Options(officeOpts...).
				Value(&officeID),
			huh.NewSelect[int64]().
				Title("Level").
				Options(levelOpts...).
				Value(&levelID),
			huh.NewInput().
				Title("Date").
				Description("A calendar date, or something like \"yesterday\"").
				Value(&dateText).
				Validate(func(s string) error {
					parsed, err := parseDate(s)
					if err != nil {
						return err
					}
					date = parsed
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		return 0, 0, "", err
	}
	return officeID, levelID, date, nil
}

// promptStatuses asks for each student's status. Defaults come from the
// existing record when editing, otherwise "present".
func promptStatuses(ctx context.Context, st *store.Store, roster []schema.Student, existing *schema.AttendanceRecord) ([]schema.StudentStatus, error) {
	previous := make(map[int64]schema.Status)
	if existing != nil {
		entries, err := st.StudentAttendance(ctx, existing.UUID)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			previous[e.StudentID] = e.Status
		}
	}

	values := make([]schema.Status, len(roster))
	fields := make([]huh.Field, 0, len(roster))
	for i, student := range roster {
		values[i] = schema.StatusPresent
		if prev, ok := previous[student.ID]; ok {
			values[i] = prev
		}
		fields = append(fields, huh.NewSelect[schema.Status]().
			Title(student.Name).
			Options(
				huh.NewOption("Present", schema.StatusPresent),
				huh.NewOption("Absent", schema.StatusAbsent),
				huh.NewOption("Excused", schema.StatusExcused),
			).
			Value(&values[i]))
	}

	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return nil, err
	}

	statuses := make([]schema.StudentStatus, len(roster))
	for i, student := range roster {
		statuses[i] = schema.StudentStatus{StudentID: student.ID, Status: values[i]}
	}
	return statuses, nil
}

// parseDate accepts either a plain calendar date or a natural-language
// expression and returns it in the store's date form.
func parseDate(text string) (string, error) {
	if t, err := time.Parse(schema.DateLayout, text); err == nil {
		return t.Format(schema.DateLayout), nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(text, time.Now())
	if err != nil || r == nil {
		return "", fmt.Errorf("cannot understand date %q (try YYYY-MM-DD)", text)
	}
	return r.Time.Format(schema.DateLayout), nil
}

func init() {
	recordCmd.Flags().StringVar(&recordEditID, "edit", "", "Edit an existing record by id")
	rootCmd.AddCommand(recordCmd)
}
