/*
Package cli provides helpers shared by the pdpd commands.

Output Formatting:

Command results print as text, JSON or CSV. Values implementing Table
render as aligned columns in text mode and as rows in CSV mode:

	formatter := cli.NewFormatter(cli.FormatJSON)
	if err := formatter.FormatTo(os.Stdout, result); err != nil {
		return err
	}

Progress Reporting:

Bulk operations such as policy import report progress on a single line:

	progress := cli.NewProgressReporter(os.Stderr, "documents")
	progress.Start(int64(len(paths)))
	for i, path := range paths {
		// import path
		progress.Update(int64(i + 1))
	}
	progress.Finish()

Signal Handling:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()

Exit Codes:

ExitCode maps an error returned by a command to the process exit status.
*/
package cli
