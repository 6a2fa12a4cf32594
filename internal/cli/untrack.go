package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewUntrackCommand creates the untrack command.
func NewUntrackCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "untrack <citekey|zotero-key>",
		Short: "Stop tracking a paper",
		Long: `Remove a paper's record from the state file. Its note, PDF and device
document are left in place. A paper still in Zotero and not tagged read is
tracked again as new on a later sync.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.openApp(cmd, exclusive)
			if err != nil {
				return err
			}
			defer a.Close()

			key := args[0]
			id := ""
			for _, rec := range a.store.Records() {
				if rec.ExternalID == key || rec.Citekey == key {
					id = rec.ExternalID
					break
				}
			}
			if id == "" || !a.store.Remove(id) {
				return NewExitError(ExitCommandError, fmt.Sprintf("no tracked paper %q", key))
			}
			if err := a.store.SaveAll(nil); err != nil {
				return WrapExitError(ExitCommandError, "cannot save state", err)
			}
			a.logger.Info("untracked paper", "external_id", id)
			return rootOpts.formatter(cmd).Success(map[string]string{"untracked": id}, func(w io.Writer) {
				fmt.Fprintf(w, "untracked %s\n", id)
			})
		},
	}
}
