/*
Copyright 2025 Infra Bits
SPDX-License-Identifier: MIT
*/

// npmup scans an npm working copy for outdated dependencies and,
// optionally, lands the updates on GitHub behind a CI-gated pull
// request.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/chainguard-dev/clog"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sethvargo/go-envconfig"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"

	"github.com/infra-bits/npmup/pkg/changeset"
	"github.com/infra-bits/npmup/pkg/gh"
	"github.com/infra-bits/npmup/pkg/merge"
	"github.com/infra-bits/npmup/pkg/settings"
	"github.com/infra-bits/npmup/pkg/update"
)

var version = "development"

type envConfig struct {
	// GitHubToken is the static-token fallback used when no GitHub App
	// identity is configured.
	GitHubToken string `env:"GITHUB_TOKEN"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cmd := &cli.Command{
		Name:    "npmup",
		Version: version,
		Usage:   "Simple packages updater",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "increase logging level to debug",
			},
			&cli.BoolFlag{
				Name:  "merge",
				Usage: "merge changes into a GitHub repo",
			},
			&cli.StringFlag{
				Name:    "repository",
				Usage:   "GitHub repo these files belong to (owner/name)",
				Sources: cli.EnvVars("NPMUP_REPOSITORY"),
			},
			&cli.IntFlag{
				Name:    "github-app-id",
				Usage:   "GitHub app id",
				Sources: cli.EnvVars("NPMUP_GITHUB_APP_ID"),
			},
			&cli.StringFlag{
				Name:    "github-app-key",
				Usage:   "base64-encoded GitHub app private key",
				Sources: cli.EnvVars("NPMUP_GITHUB_APP_KEY"),
			},
			&cli.StringFlag{
				Name:  "path",
				Usage: "path to update",
				Value: ".",
			},
		},
		Action: run,
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		clog.FromContext(ctx).Errorf("npmup failed: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	level := slog.LevelInfo
	if cmd.Bool("debug") {
		level = slog.LevelDebug
	}
	log := clog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	ctx = clog.WithLogger(ctx, log)

	doMerge := cmd.Bool("merge")
	repository := cmd.String("repository")
	if doMerge && repository == "" {
		return cli.Exit("--merge requires --repository", 2)
	}

	path := cmd.String("path")
	conf, err := settings.Load(ctx, path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("loading settings: %v", err), 3)
	}
	log.With(
		"workflows", conf.Workflows,
		"poll_interval", conf.PollInterval,
		"poll_timeout", conf.PollTimeout,
	).Debug("Loaded settings")

	res, err := update.New().Scan(ctx, path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("scanning %s: %v", path, err), 1)
	}
	log.Infof("Found %d updates", len(res.Changes))
	if !res.Changes.Empty() {
		printUpdates(res.Changes)
	}

	if !doMerge || !res.HasChanges() {
		return nil
	}

	if err := conf.Validate(); err != nil {
		return cli.Exit(fmt.Sprintf("validating settings: %v", err), 3)
	}

	owner, repo, err := gh.ParseRepository(repository)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	ts, err := tokenSource(ctx, cmd, owner, repo)
	if err != nil {
		return err
	}
	client, err := gh.New(ctx, owner, repo, ts)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	orchestrator := merge.New(client, conf.Workflows,
		merge.WithPollInterval(conf.PollInterval),
		merge.WithPollTimeout(conf.PollTimeout))

	out, err := orchestrator.Run(ctx, res.Changes, changeset.FilePatch{
		"package.json":      res.Manifest,
		"package-lock.json": res.Lockfile,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("update run failed: %v", err), 1)
	}

	switch out.State {
	case merge.StateMerged:
		log.With("pull_request", out.PullRequest).Infof("Merged %s", out.Branch)
	case merge.StateRolledBack:
		log.With(
			"pull_request", out.PullRequest,
			"workflows", out.FailedWorkflows,
		).Infof("Rolled back %s", out.Branch)
	case merge.StateAborted:
		log.Infof("Aborted before opening a pull request")
	}
	return nil
}

// tokenSource selects the credential variant once, at construction:
// a GitHub App installation token when an app identity is configured,
// a static token otherwise.
func tokenSource(ctx context.Context, cmd *cli.Command, owner, repo string) (oauth2.TokenSource, error) {
	appID := int64(cmd.Int("github-app-id"))
	appKey := cmd.String("github-app-key")
	if appID != 0 && appKey != "" {
		ts, err := gh.NewAppTokenSource(ctx, appID, appKey, owner, repo)
		if err != nil {
			return nil, cli.Exit(err.Error(), 1)
		}
		return ts, nil
	}

	var env envConfig
	if err := envconfig.Process(ctx, &env); err != nil {
		return nil, cli.Exit(fmt.Sprintf("reading environment: %v", err), 3)
	}
	if env.GitHubToken == "" {
		return nil, cli.Exit("set GITHUB_TOKEN or pass --github-app-id and --github-app-key", 2)
	}
	return gh.StaticTokenSource(env.GitHubToken), nil
}

func printUpdates(changes changeset.Set) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Package", "Version"})
	for _, c := range changes {
		tw.AppendRow(table.Row{c.Name, c.Version})
	}
	tw.Render()
}
