package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"code.cloudfoundry.org/clock"

	"github.com/splax/deploywatch/internal/domain"
	"github.com/splax/deploywatch/internal/notify"
	"github.com/splax/deploywatch/internal/poll"
	"github.com/splax/deploywatch/internal/tracker"
	"github.com/splax/deploywatch/pkg/config"
	"github.com/splax/deploywatch/pkg/logger"
	"github.com/splax/deploywatch/pkg/vercel"
)

func newVercelClient(cfg config.WatchConfig) (*vercel.Client, error) {
	return vercel.New(cfg.VercelAPIURL, vercel.WithTimeout(cfg.HTTPTimeout), vercel.WithUserAgent("deploywatch/"+buildVersion))
}

func credentials(token, team string) (string, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", "", err
	}
	if strings.TrimSpace(token) == "" {
		token = cfg.VercelToken
	}
	if strings.TrimSpace(team) == "" {
		team = cfg.TeamID
	}
	if strings.TrimSpace(token) == "" {
		return "", "", errors.New("please login first using 'deploywatch login' or pass --token")
	}
	return strings.TrimSpace(token), strings.TrimSpace(team), nil
}

func commandWatch(args []string, deployNow bool) error {
	name := "watch"
	if deployNow {
		name = "deploy"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	hookURL := fs.String("hook", "", "Deploy hook URL")
	project := fs.String("project", "", "Vercel project name")
	label := fs.String("name", "", "Display name (defaults to the project)")
	token := fs.String("token", "", "Vercel token (defaults to the stored login)")
	team := fs.String("team", "", "Vercel team identifier")
	timeout := fs.Duration("timeout", 0, "Give up after this long (0 waits indefinitely)")
	trigger := &deployNow
	if !deployNow {
		trigger = fs.Bool("deploy", false, "Fire the deploy hook before watching")
	}
	fs.Parse(args)

	if strings.TrimSpace(*project) == "" {
		return errors.New("--project is required")
	}
	if *trigger && strings.TrimSpace(*hookURL) == "" {
		return errors.New("--hook is required to deploy")
	}
	vercelToken, teamID, err := credentials(*token, *team)
	if err != nil {
		return err
	}

	cfg := config.LoadWatchConfig()
	log := logger.NewWithWriter(os.Stderr, "deploywatch", logger.ParseLevel(cfg.LogLevel))
	api, err := newVercelClient(cfg)
	if err != nil {
		return err
	}
	sched := poll.New(clock.NewClock(), poll.Config{Interval: cfg.PollInterval, MaxConsecutiveFailures: cfg.PollMaxFailures}, log, nil)
	classifier := domain.NewClassifier(cfg.ReadyStates, cfg.ErrorStates)

	displayName := strings.TrimSpace(*label)
	if displayName == "" {
		displayName = strings.TrimSpace(*project)
	}
	target := domain.Target{
		Name:        displayName,
		TriggerURL:  strings.TrimSpace(*hookURL),
		ProjectName: strings.TrimSpace(*project),
		Token:       vercelToken,
		TeamID:      teamID,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	final, err := follow(ctx, followOptions{
		Target:     target,
		API:        api,
		Scheduler:  sched,
		Classifier: classifier,
		Deploy:     *trigger,
		Out:        os.Stdout,
		Logger:     log,
	})
	if err != nil {
		return err
	}
	return outcome(final, classifier)
}

type followOptions struct {
	Target     domain.Target
	API        tracker.RemoteAPI
	Scheduler  *poll.Scheduler
	Classifier domain.Classifier
	Deploy     bool
	Out        io.Writer
	Logger     *slog.Logger
}

// follow mounts a tracker for the target, optionally fires its hook, and
// prints every status change until the tracker settles.
func follow(ctx context.Context, opts followOptions) (domain.State, error) {
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	settled := make(chan domain.State, 1)
	var once sync.Once
	last := ""
	observer := func(st domain.State) {
		line := st.Label()
		if st.ErrorMessage != "" {
			line += ": " + st.ErrorMessage
		}
		if line != last {
			last = line
			fmt.Fprintf(out, "%s  %s\n", time.Now().Format(time.TimeOnly), line)
		}
		if st.Settled() {
			once.Do(func() { settled <- st })
		}
	}
	printer := notify.Func(func(_ context.Context, n notify.Notification) error {
		fmt.Fprintf(out, "[%s] %s %s\n", n.Kind, n.Title, n.Message)
		return nil
	})

	tr := tracker.New(opts.Target, opts.API, opts.Scheduler, printer, opts.Logger,
		tracker.WithClassifier(opts.Classifier),
		tracker.WithObserver(observer),
	)
	defer tr.Close()

	if opts.Deploy {
		if err := tr.StartDeployment(ctx); err != nil {
			return tr.State(), err
		}
	}
	tr.Mount()

	select {
	case st := <-settled:
		return st, nil
	case <-ctx.Done():
		return tr.State(), fmt.Errorf("stopped watching: %w", ctx.Err())
	}
}

// outcome maps a settled state to the command result.
func outcome(st domain.State, classifier domain.Classifier) error {
	if classifier.IsZero() {
		classifier = domain.DefaultClassifier()
	}
	switch {
	case st.Status == domain.StatusInactive:
		return errors.New("deployment status unavailable")
	case st.Status == domain.StatusError && st.ErrorMessage != "":
		return errors.New(st.ErrorMessage)
	case classifier.IsError(st.Status):
		return fmt.Errorf("deployment finished with status %s", st.Status)
	default:
		return nil
	}
}

func commandLogs(args []string) error {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	project := fs.String("project", "", "Vercel project name")
	limit := fs.Int("limit", 10, "Maximum number of deployments")
	token := fs.String("token", "", "Vercel token (defaults to the stored login)")
	team := fs.String("team", "", "Vercel team identifier")
	fs.Parse(args)

	if strings.TrimSpace(*project) == "" {
		return errors.New("--project is required")
	}
	vercelToken, teamID, err := credentials(*token, *team)
	if err != nil {
		return err
	}
	cfg := config.LoadWatchConfig()
	api, err := newVercelClient(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.HTTPTimeout)
	defer cancel()

	projectID, err := api.ResolveProject(ctx, strings.TrimSpace(*project), vercelToken, teamID)
	if err != nil {
		return err
	}
	deployments, err := api.ListDeployments(ctx, projectID, vercelToken, teamID, *limit)
	if err != nil {
		return err
	}
	for _, dep := range deployments {
		rec := tracker.RecordFromDeployment(dep)
		printRecord(os.Stdout, rec.UID, string(rec.State), rec.URL, rec.Creator, rec.CreatedAt)
	}
	return nil
}

func printRecord(w io.Writer, uid, state, url, creator string, created time.Time) {
	when := "-"
	if !created.IsZero() {
		when = created.Local().Format(time.RFC3339)
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", uid, domain.Status(state).Label(), url, creator, when)
}
