package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"repodocx/internal/archive"
	"repodocx/internal/conversion"
	fileutil "repodocx/internal/file"
	"repodocx/internal/job"
	"repodocx/internal/remote"
)

const tokenEnv = "REPODOCX_TOKEN"

type convertOptions struct {
	token      string
	extensions []string
	outDir     string
	zip        bool
	noDownload bool
	cleanup    bool
}

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var opts convertOptions
	cmd := &cobra.Command{
		Use:   "convert <repository-url>",
		Short: "Convert a repository and download the generated documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, ctx, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.token, "token", "", "Access token for private repositories (or $"+tokenEnv+")")
	cmd.Flags().StringSliceVarP(&opts.extensions, "ext", "e", nil, "File extensions to include (default from config)")
	cmd.Flags().StringVarP(&opts.outDir, "out", "o", "", "Download directory (default from config)")
	cmd.Flags().BoolVar(&opts.zip, "zip", false, "Download all documents as a single zip archive")
	cmd.Flags().BoolVar(&opts.noDownload, "no-download", false, "Only list the generated documents")
	cmd.Flags().BoolVar(&opts.cleanup, "cleanup", false, "Delete the job on the server once downloads finished")
	return cmd
}

func runConvert(cmd *cobra.Command, cc *commandContext, sourceURL string, opts convertOptions) error {
	cfg, err := cc.ensureConfig()
	if err != nil {
		return err
	}
	if opts.token == "" {
		opts.token = os.Getenv(tokenEnv)
	}
	extensions := opts.extensions
	if len(extensions) == 0 {
		extensions = cfg.DefaultExtensions
	}
	req, err := conversion.Build(sourceURL, opts.token, extensions)
	if err != nil {
		return err
	}
	outDir := opts.outDir
	if outDir == "" {
		outDir = cfg.DownloadDir
	}

	client, err := cc.newClient()
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	machine := job.NewMachine(job.Options{Gateway: client, Status: client, PollInterval: cfg.PollInterval})
	machine.SetBaseContext(runCtx)
	defer machine.Reset()

	snap, err := followJob(runCtx, machine, req, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if snap.State == job.StateFailed {
		return errors.New(snap.Error)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job %s completed with %d document(s)\n", snap.Job.JobID, len(snap.Artifacts))
	if len(snap.Artifacts) > 0 {
		fmt.Fprintln(out, renderArtifacts(snap.Artifacts))
	}
	if opts.noDownload {
		return nil
	}

	results, retrieveErr := download(runCtx, client, machine, *snap.Job, outDir, opts.zip)
	if len(results) > 0 {
		fmt.Fprintln(out, renderRetrievals(results))
	}
	if path, err := archive.WriteManifest(outDir, archive.Manifest{
		JobID:      snap.Job.JobID,
		SourceURL:  req.SourceURL,
		Extensions: req.Extensions,
		CreatedAt:  time.Now().UTC(),
		Artifacts:  results,
	}); err != nil {
		log.Warn().Err(err).Msg("writing manifest failed")
	} else {
		log.Debug().Str("path", path).Msg("manifest written")
	}

	if opts.cleanup && retrieveErr == nil {
		if err := client.Cleanup(runCtx, *snap.Job); err != nil {
			log.Warn().Str("job_id", snap.Job.JobID).Err(err).Msg("server cleanup failed")
		} else {
			log.Info().Str("job_id", snap.Job.JobID).Msg("job cleaned up on server")
		}
	}
	return retrieveErr
}

// followJob submits the request and renders progress until the job is terminal.
// Interrupting the command abandons the attempt.
func followJob(ctx context.Context, machine *job.Machine, req conversion.Request, progressOut io.Writer) (job.Snapshot, error) {
	view := newProgressView(progressOut)
	updates, unsubscribe := machine.Subscribe()
	defer unsubscribe()

	rendered := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(rendered)
		for {
			select {
			case snap := <-updates:
				view.update(snap)
			case <-done:
				return
			}
		}
	}()
	defer func() {
		close(done)
		<-rendered
		view.finish()
	}()

	if _, err := machine.Submit(ctx, req); err != nil {
		return job.Snapshot{}, err
	}
	snap, err := machine.Wait(ctx)
	if err == nil {
		// an interrupt also ends polling, which surfaces as a failed snapshot
		err = ctx.Err()
	}
	if err != nil {
		machine.Reset()
		return snap, err
	}
	return snap, nil
}

func download(ctx context.Context, client *remote.Client, machine *job.Machine, h job.Handle, outDir string, asZip bool) ([]archive.Result, error) {
	if err := fileutil.EnsureDir(outDir); err != nil {
		return nil, err
	}
	if asZip {
		dest := filepath.Join(outDir, "repodocx-"+fileutil.SanitizeFilename(h.JobID)+".zip")
		results, err := archive.BuildArchive(ctx, dest, client, machine)
		if err == nil {
			log.Info().Str("path", dest).Int("documents", len(results)).Msg("archive saved")
		}
		return results, err
	}

	saver := archive.NewDirRetriever(client, outDir)
	results, err := machine.Results(saver)
	if err != nil {
		return nil, err
	}
	err = results.RetrieveAll(ctx)
	return saver.Results(), err
}
