package main

import (
	"fmt"
	"os"

	"github.com/arbor-db/tdb"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tdbctl",
	Short: "Inspect and maintain a tdb database file",
}

var inspectCmd = &cobra.Command{
	Use:   "inspect PATH",
	Short: "List tables and their schemas",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		readOnly, _ := cmd.Flags().GetBool("read-only")

		db, err := tdb.Open(tdb.Options{Filepath: args[0], ReadOnly: readOnly})
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		rt, err := db.StartRead()
		if err != nil {
			return fmt.Errorf("start read transaction: %w", err)
		}
		defer rt.Close()

		names, err := rt.TableNames()
		if err != nil {
			return fmt.Errorf("list tables: %w", err)
		}

		if len(names) == 0 {
			fmt.Println("no tables")
			return nil
		}

		fmt.Printf("%-24s %-8s %-10s %s\n", "NAME", "ROWS", "VERSION", "COLUMNS")
		for _, name := range names {
			tbl, err := rt.GetTable(name)
			if err != nil {
				return fmt.Errorf("open table %q: %w", name, err)
			}
			fmt.Printf("%-24s %-8d %-10d %s\n", name, tbl.Size(), tbl.Version(), columnList(tbl.Columns()))
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats PATH",
	Short: "Report file-level stats (snapshot version, table count)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := tdb.Open(tdb.Options{Filepath: args[0], ReadOnly: true})
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		rt, err := db.StartRead()
		if err != nil {
			return fmt.Errorf("start read transaction: %w", err)
		}
		defer rt.Close()

		n, err := rt.TableCount()
		if err != nil {
			return fmt.Errorf("count tables: %w", err)
		}

		fmt.Printf("snapshot version: %d\n", rt.Version())
		fmt.Printf("tables: %d\n", n)
		return nil
	},
}

var compactCmd = &cobra.Command{
	Use:   "compact PATH",
	Short: "Rewrite the file densely, reclaiming free space",
	Long: `compact rewrites every reachable array to a dense copy at the
front of the file and drops the free-list bookkeeping for ranges the
running commit path left behind. It requires exclusive access to the
file, same as a normal write transaction.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := tdb.Open(tdb.Options{Filepath: args[0]})
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		before, err := os.Stat(args[0])
		if err != nil {
			return fmt.Errorf("stat database file: %w", err)
		}

		if err := db.Compact(); err != nil {
			return fmt.Errorf("compact: %w", err)
		}

		after, err := os.Stat(args[0])
		if err != nil {
			return fmt.Errorf("stat database file: %w", err)
		}

		fmt.Printf("compacted %s: %d bytes -> %d bytes\n", args[0], before.Size(), after.Size())
		return nil
	},
}

func columnList(cols []tdb.ColumnType) string {
	s := ""
	for i, c := range cols {
		if i > 0 {
			s += ","
		}
		s += c.String()
	}
	return s
}

func init() {
	inspectCmd.Flags().Bool("read-only", true, "open the file read-only")

	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(compactCmd)
}
