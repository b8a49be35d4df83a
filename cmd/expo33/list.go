package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Ahmmada/Expo33/internal/ui"
)

var listDate string

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "records",
	Short:   "List attendance records",
	Long: `List locally stored attendance records, newest date first.

Records with unsynced local changes carry a badge ([new], [edited],
[deleting]) matching their queued operation. --date accepts natural
language: 'expo33 list --date yesterday'.`,
	Run: func(cmd *cobra.Command, args []string) {
		st, err := openStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		records, err := st.Records(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing records: %v\n", err)
			os.Exit(1)
		}

		if listDate != "" {
			date, err := parseDate(listDate)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			filtered := records[:0]
			for _, r := range records {
				if r.Date == date {
					filtered = append(filtered, r)
				}
			}
			records = filtered
		}

		if len(records) == 0 {
			fmt.Println("No attendance records")
			return
		}

		fmt.Println(ui.RenderHeader(fmt.Sprintf("%-36s  %-10s  %-20s  %-20s  %s", "ID", "DATE", "OFFICE", "LEVEL", "")))
		for _, r := range records {
			fmt.Printf("%-36s  %-10s  %-20s  %-20s  %s\n",
				ui.RenderMuted(r.UUID), r.Date, r.OfficeName, r.LevelName, ui.OpBadge(r.OpType))
		}
	},
}

var showCmd = &cobra.Command{
	Use:     "show <id>",
	GroupID: "records",
	Short:   "Show one attendance record with its student statuses",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		st, err := openStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		ctx := context.Background()
		record, err := st.RecordByUUID(ctx, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading record: %v\n", err)
			os.Exit(1)
		}
		if record == nil {
			fmt.Fprintf(os.Stderr, "Error: no record with id %s\n", args[0])
			os.Exit(1)
		}

		entries, err := st.StudentAttendance(ctx, record.UUID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading statuses: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s %s\n", ui.RenderAccent("Record"), ui.RenderMuted(record.UUID))
		fmt.Printf("Date:    %s\n", record.Date)
		fmt.Printf("Office:  %s\n", record.OfficeName)
		fmt.Printf("Level:   %s\n", record.LevelName)
		if badge := ui.OpBadge(record.OpType); badge != "" {
			fmt.Printf("Pending: %s\n", badge)
		}
		fmt.Printf("Updated: %s\n", record.UpdatedAt.Local().Format("2006-01-02 15:04"))

		names := make(map[int64]string)
		if roster, err := st.StudentsByOfficeAndLevel(ctx, record.OfficeID, record.LevelID); err == nil {
			for _, s := range roster {
				names[s.ID] = s.Name
			}
		}

		fmt.Printf("\n%s\n", ui.RenderHeader("Students"))
		for _, e := range entries {
			name := names[e.StudentID]
			if name == "" {
				name = fmt.Sprintf("#%d", e.StudentID)
			}
			fmt.Printf("  %-24s %s\n", name, ui.StatusBadge(e.Status))
		}
	},
}

func init() {
	listCmd.Flags().StringVar(&listDate, "date", "", "Only records for this date (natural language accepted)")
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
}
