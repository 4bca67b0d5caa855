package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const defaultAPIEndpoint = "http://localhost:7080"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	client := newAPIClient(envOr("FUSION_API", defaultAPIEndpoint), os.Getenv("FUSION_TOKEN"))
	args, err := applyGlobalFlags(args, client)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	switch args[0] {
	case "secret":
		return runSecret(args[1:], stdout, stderr)
	case "token":
		return runToken(args[1:], stdout, stderr)
	case "escrow-id":
		return runEscrowID(args[1:], stdout, stderr)
	case "sign-auth":
		return runSignAuth(args[1:], stdout, stderr)
	case "create":
		return runCreate(client, args[1:], stdout, stderr)
	case "lock":
		return runLock(client, args[1:], stdout, stderr)
	case "execute":
		return runExecute(client, args[1:], stdout, stderr)
	case "partial":
		return runPartial(client, args[1:], stdout, stderr)
	case "cancel":
		return runCancel(client, args[1:], stdout, stderr)
	case "order":
		return runOrder(client, args[1:], stdout, stderr)
	case "escrow":
		return runEscrow(client, args[1:], stdout, stderr)
	case "orders":
		return runOrders(client, args[1:], stdout, stderr)
	case "state":
		return runState(client, args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

// applyGlobalFlags consumes --api and --token ahead of the subcommand.
func applyGlobalFlags(args []string, client *apiClient) ([]string, error) {
	for len(args) > 0 {
		arg := args[0]
		var name, value string
		switch {
		case arg == "--api" || arg == "--token":
			if len(args) < 2 {
				return nil, fmt.Errorf("%s requires a value", arg)
			}
			name, value = arg, args[1]
			args = args[2:]
		case strings.HasPrefix(arg, "--api="), strings.HasPrefix(arg, "--token="):
			parts := strings.SplitN(arg, "=", 2)
			name, value = parts[0], parts[1]
			args = args[1:]
		default:
			return args, nil
		}
		switch name {
		case "--api":
			client.endpoint = strings.TrimRight(strings.TrimSpace(value), "/")
		case "--token":
			client.token = strings.TrimSpace(value)
		}
	}
	return args, nil
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func usage() string {
	return strings.TrimSpace(`
Usage: fusion-cli [--api URL] [--token JWT] <command> [flags]

Local commands:
  secret                      generate a secret and its hash-lock
  token --subject ACCOUNT     issue a bearer token (secret from FUSIOND_JWT_SECRET)
  escrow-id                   derive an escrow identity from its immutables
  sign-auth --key FILE        sign a resolver lock authorization

Daemon commands:
  create    [--direction] --src-asset --dst-asset --src-amount --min-dst --deadline --recipient --max-fee
  lock      --order --hash-lock --counterparty --fee --deposit [--auth] [--proof]
  execute   --order --secret
  partial   --order --amount --secret
  cancel    --order
  order     --order
  escrow    --order
  orders    [--status]
  state
`)
}
