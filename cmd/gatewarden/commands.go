package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/loykin/gatewarden"
	"github.com/loykin/gatewarden/pkg/client"
)

func newClient(f APIFlags) *client.Client {
	return client.New(client.Config{
		BaseURL:  f.APIUrl,
		Token:    f.Token,
		Timeout:  f.APITimeout,
		Insecure: f.Insecure,
	})
}

func apiContext(f APIFlags) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), f.APITimeout)
}

func runStatus(f APIFlags) error {
	ctx, cancel := apiContext(f)
	defer cancel()
	snap, err := newClient(f).Status(ctx)
	if err != nil {
		return err
	}
	return printJSON(snap)
}

func runStart(f APIFlags) error {
	ctx, cancel := apiContext(f)
	defer cancel()
	res, err := newClient(f).Start(ctx)
	if err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("start refused: %s", res.Reason)
	}
	fmt.Println("gateway running")
	return nil
}

func runRestart(f APIFlags) error {
	ctx, cancel := apiContext(f)
	defer cancel()
	res, err := newClient(f).Restart(ctx)
	if err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("restart refused: %s", res.Reason)
	}
	fmt.Println("gateway restarted")
	return nil
}

func runStop(f APIFlags) error {
	ctx, cancel := apiContext(f)
	defer cancel()
	if err := newClient(f).Stop(ctx); err != nil {
		return err
	}
	fmt.Println("gateway stopped")
	return nil
}

func runResetCircuit(f APIFlags) error {
	ctx, cancel := apiContext(f)
	defer cancel()
	if err := newClient(f).ResetCircuit(ctx); err != nil {
		return err
	}
	fmt.Println("circuit breaker reset")
	return nil
}

func runExec(f ExecFlags, args []string) error {
	res := gatewarden.RunCommand(context.Background(), args[0], args[1:], gatewarden.CommandOptions{
		Dir:     f.WorkDir,
		Extra:   f.Env,
		Timeout: f.Timeout,
	})
	fmt.Print(res.Output)
	if res.ExitCode != 0 {
		os.Exit(res.ExitCode)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
