package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	apiclient "github.com/splax/deploywatch/pkg/api/client"
)

func commandHooks(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: deploywatch hooks [list|add|deploy|rm|logs|follow]")
	}
	sub := args[0]
	switch sub {
	case "list":
		return hooksList(args[1:])
	case "add":
		return hooksAdd(args[1:])
	case "deploy":
		return hooksDeploy(args[1:])
	case "rm", "remove":
		return hooksRemove(args[1:])
	case "logs":
		return hooksLogs(args[1:])
	case "follow":
		return hooksFollow(args[1:])
	default:
		return fmt.Errorf("unknown hooks command: %s", sub)
	}
}

func daemonClient() (*apiclient.Client, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	token := strings.TrimSpace(cfg.DaemonToken)
	if token == "" {
		return nil, "", errors.New("please login first using 'deploywatch login --daemon-token'")
	}
	client, err := apiclient.New(cfg.DaemonURL)
	if err != nil {
		return nil, "", err
	}
	return client, token, nil
}

func printHook(h apiclient.Hook) {
	label := h.State.Label
	if h.State.ErrorMessage != "" {
		label += ": " + h.State.ErrorMessage
	}
	fmt.Printf("%s\t%s\t%s\t%s\n", h.ID, h.Name, h.ProjectName, label)
}

func hooksList(args []string) error {
	fs := flag.NewFlagSet("hooks list", flag.ExitOnError)
	fs.Parse(args)

	client, token, err := daemonClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	hooks, err := client.ListHooks(ctx, token)
	if err != nil {
		return err
	}
	for _, h := range hooks {
		printHook(h)
	}
	return nil
}

func hooksAdd(args []string) error {
	fs := flag.NewFlagSet("hooks add", flag.ExitOnError)
	hookURL := fs.String("url", "", "Deploy hook URL")
	project := fs.String("project", "", "Vercel project name")
	name := fs.String("name", "", "Display name (defaults to the project)")
	vercelToken := fs.String("token", "", "Vercel token (defaults to the stored login)")
	team := fs.String("team", "", "Vercel team identifier")
	teamName := fs.String("team-name", "", "Vercel team display name")
	fs.Parse(args)

	if strings.TrimSpace(*hookURL) == "" {
		return errors.New("--url is required")
	}
	if strings.TrimSpace(*project) == "" {
		return errors.New("--project is required")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	secret := strings.TrimSpace(*vercelToken)
	if secret == "" {
		secret = cfg.VercelToken
	}
	teamID := strings.TrimSpace(*team)
	if teamID == "" {
		teamID = cfg.TeamID
	}

	client, token, err := daemonClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	hook, err := client.CreateHook(ctx, token, apiclient.CreateHookInput{
		Name:        strings.TrimSpace(*name),
		URL:         strings.TrimSpace(*hookURL),
		ProjectName: strings.TrimSpace(*project),
		Token:       secret,
		TeamID:      teamID,
		TeamName:    strings.TrimSpace(*teamName),
	})
	if err != nil {
		return err
	}
	fmt.Printf("hook registered: %s (%s)\n", hook.ID, hook.Name)
	return nil
}

func hooksDeploy(args []string) error {
	fs := flag.NewFlagSet("hooks deploy", flag.ExitOnError)
	id := fs.String("id", "", "Hook identifier")
	followFlag := fs.Bool("follow", false, "Stream status changes until the deployment settles")
	fs.Parse(args)

	if strings.TrimSpace(*id) == "" {
		return errors.New("--id is required")
	}
	client, token, err := daemonClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	hook, err := client.DeployHook(ctx, token, strings.TrimSpace(*id))
	cancel()
	if err != nil {
		if apiclient.IsConflict(err) {
			return fmt.Errorf("hook %s is busy, try again once it settles", *id)
		}
		return err
	}
	printHook(hook)
	if !*followFlag {
		return nil
	}
	return streamStates(client, token, hook.ID, true)
}

func hooksRemove(args []string) error {
	fs := flag.NewFlagSet("hooks rm", flag.ExitOnError)
	id := fs.String("id", "", "Hook identifier")
	fs.Parse(args)

	if strings.TrimSpace(*id) == "" {
		return errors.New("--id is required")
	}
	client, token, err := daemonClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := client.DeleteHook(ctx, token, strings.TrimSpace(*id)); err != nil {
		return err
	}
	fmt.Println("hook removed")
	return nil
}

func hooksLogs(args []string) error {
	fs := flag.NewFlagSet("hooks logs", flag.ExitOnError)
	id := fs.String("id", "", "Hook identifier")
	limit := fs.Int("limit", 10, "Maximum number of deployments")
	fs.Parse(args)

	if strings.TrimSpace(*id) == "" {
		return errors.New("--id is required")
	}
	client, token, err := daemonClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deployments, err := client.ListDeployments(ctx, token, strings.TrimSpace(*id), *limit)
	if err != nil {
		return err
	}
	for _, dep := range deployments {
		printRecord(os.Stdout, dep.UID, dep.State, dep.URL, dep.Creator, dep.CreatedAt)
	}
	return nil
}

func hooksFollow(args []string) error {
	fs := flag.NewFlagSet("hooks follow", flag.ExitOnError)
	id := fs.String("id", "", "Hook identifier (omit to follow every hook)")
	fs.Parse(args)

	client, token, err := daemonClient()
	if err != nil {
		return err
	}
	return streamStates(client, token, strings.TrimSpace(*id), false)
}

func streamStates(client *apiclient.Client, token, id string, untilSettled bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var final apiclient.State
	err := client.Follow(ctx, token, id, func(st apiclient.State) bool {
		line := st.Label
		if st.ErrorMessage != "" {
			line += ": " + st.ErrorMessage
		}
		fmt.Printf("%s  %s\t%s\n", time.Now().Format(time.TimeOnly), st.HookID, line)
		final = st
		return !(untilSettled && st.Settled())
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return err
	}
	if untilSettled && final.Status == "INACTIVE" {
		return errors.New("deployment status unavailable")
	}
	return nil
}
