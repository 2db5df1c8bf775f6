// Command pmclient is a command-line client for the parimutuel API. It signs
// requests with a raw or password-encrypted secp256k1 key.
//
// Usage:
//
//	pmclient keygen
//	pmclient encrypt-key -out key.json
//	pmclient create-market -question "..." -duration 1h [-category sports]
//	pmclient bet -market ID -side yes -amount 1000
//	pmclient resolve -market ID -outcome no
//	pmclient claim -market ID -bet ID
//	pmclient market -id ID
//	pmclient bets -market ID | -account ADDR
//	pmclient balance [-account ADDR]
//	pmclient deposit -account ADDR -amount 1000
//
// Key and server settings come from flags or the PARIMUTUEL_CLIENT_*
// environment variables (a .env file is loaded when present).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/alanyoungcy/parimutuel/internal/crypto"
)

const defaultServer = "http://localhost:8000"

// globals are the settings shared by every subcommand.
type globals struct {
	server   string
	key      string
	keyFile  string
	password string
	adminKey string
}

func (g *globals) register(fs *flag.FlagSet) {
	fs.StringVar(&g.server, "server", envOr("PARIMUTUEL_CLIENT_SERVER", defaultServer), "API base URL")
	fs.StringVar(&g.key, "key", os.Getenv("PARIMUTUEL_CLIENT_PRIVATE_KEY"), "hex private key")
	fs.StringVar(&g.keyFile, "key-file", os.Getenv("PARIMUTUEL_CLIENT_KEY_FILE"), "encrypted key file")
	fs.StringVar(&g.password, "password", os.Getenv("PARIMUTUEL_CLIENT_KEY_PASSWORD"), "key file password")
	fs.StringVar(&g.adminKey, "admin-key", os.Getenv("PARIMUTUEL_CLIENT_ADMIN_KEY"), "admin API key (deposit only)")
}

func (g *globals) signer() (*crypto.Signer, error) {
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    g.key,
		EncryptedKeyPath: g.keyFile,
		KeyPassword:      g.password,
	})
	if err != nil {
		return nil, err
	}
	return crypto.NewSigner(key)
}

// signedClient returns a client that signs every request.
func (g *globals) signedClient() (*apiClient, error) {
	s, err := g.signer()
	if err != nil {
		return nil, err
	}
	return newAPIClient(g.server, s, ""), nil
}

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: pmclient <keygen|encrypt-key|create-market|bet|resolve|claim|market|bets|balance|deposit> [flags]")
}

// run executes one subcommand and writes its JSON result to out.
func run(ctx context.Context, cmd string, args []string, out io.Writer) error {
	var g globals
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	g.register(fs)

	switch cmd {
	case "keygen":
		if err := fs.Parse(args); err != nil {
			return err
		}
		key, err := crypto.GenerateKey()
		if err != nil {
			return err
		}
		s, err := crypto.NewSigner(key)
		if err != nil {
			return err
		}
		return printJSON(out, map[string]string{"address": s.Address(), "private_key": key})

	case "encrypt-key":
		path := fs.String("out", "key.json", "output file")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if g.key == "" || g.password == "" {
			return errors.New("pmclient: encrypt-key needs -key and -password")
		}
		data, err := crypto.EncryptKey(g.key, g.password)
		if err != nil {
			return err
		}
		if err := os.WriteFile(*path, data, 0o600); err != nil {
			return fmt.Errorf("pmclient: write key file: %w", err)
		}
		return printJSON(out, map[string]string{"written": *path})

	case "create-market":
		question := fs.String("question", "", "market question")
		dur := fs.Duration("duration", 0, "time until betting closes")
		closeAt := fs.String("close", "", "absolute close time (RFC 3339)")
		category := fs.String("category", "", "market category")
		if err := fs.Parse(args); err != nil {
			return err
		}
		req := map[string]any{"question": *question}
		if *category != "" {
			req["category"] = *category
		}
		switch {
		case *closeAt != "":
			t, err := time.Parse(time.RFC3339, *closeAt)
			if err != nil {
				return fmt.Errorf("pmclient: -close: %w", err)
			}
			req["close_time"] = t
		case *dur > 0:
			req["duration_seconds"] = int64(dur.Seconds())
		default:
			return errors.New("pmclient: create-market needs -duration or -close")
		}
		return signedCall(ctx, &g, out, "POST", "/api/markets", req)

	case "bet":
		market := fs.String("market", "", "market ID")
		side := fs.String("side", "", "yes or no")
		amount := fs.Uint64("amount", 0, "stake in base units")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return signedCall(ctx, &g, out, "POST", "/api/markets/"+url.PathEscape(*market)+"/bets",
			map[string]any{"side": strings.ToLower(*side), "amount": *amount})

	case "resolve":
		market := fs.String("market", "", "market ID")
		outcome := fs.String("outcome", "", "yes or no")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return signedCall(ctx, &g, out, "POST", "/api/markets/"+url.PathEscape(*market)+"/resolve",
			map[string]any{"outcome": strings.ToLower(*outcome)})

	case "claim":
		market := fs.String("market", "", "market ID")
		bet := fs.String("bet", "", "bet ID")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return signedCall(ctx, &g, out, "POST",
			"/api/markets/"+url.PathEscape(*market)+"/bets/"+url.PathEscape(*bet)+"/claim", nil)

	case "market":
		id := fs.String("id", "", "market ID")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return call(ctx, newAPIClient(g.server, nil, ""), out, "GET", "/api/markets/"+url.PathEscape(*id), nil)

	case "bets":
		market := fs.String("market", "", "list a market's bets")
		account := fs.String("account", "", "list an account's bets")
		if err := fs.Parse(args); err != nil {
			return err
		}
		c := newAPIClient(g.server, nil, "")
		switch {
		case *market != "":
			return call(ctx, c, out, "GET", "/api/markets/"+url.PathEscape(*market)+"/bets", nil)
		case *account != "":
			return call(ctx, c, out, "GET", "/api/accounts/"+url.PathEscape(*account)+"/bets", nil)
		default:
			return errors.New("pmclient: bets needs -market or -account")
		}

	case "balance":
		account := fs.String("account", "", "address (defaults to the key's address)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		addr := *account
		if addr == "" {
			s, err := g.signer()
			if err != nil {
				return err
			}
			addr = s.Address()
		}
		return call(ctx, newAPIClient(g.server, nil, ""), out, "GET", "/api/accounts/"+url.PathEscape(addr)+"/balance", nil)

	case "deposit":
		account := fs.String("account", "", "address to credit")
		amount := fs.Uint64("amount", 0, "amount in base units")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if g.adminKey == "" {
			return errors.New("pmclient: deposit needs -admin-key")
		}
		return call(ctx, newAPIClient(g.server, nil, g.adminKey), out, "POST", "/api/admin/deposit",
			map[string]any{"account": *account, "amount": *amount})

	default:
		usage(out)
		return fmt.Errorf("pmclient: unknown command %q", cmd)
	}
}

func signedCall(ctx context.Context, g *globals, out io.Writer, method, path string, in any) error {
	c, err := g.signedClient()
	if err != nil {
		return err
	}
	return call(ctx, c, out, method, path, in)
}

func call(ctx context.Context, c *apiClient, out io.Writer, method, path string, in any) error {
	var resp json.RawMessage
	if err := c.do(ctx, method, path, in, &resp); err != nil {
		return err
	}
	return printJSON(out, resp)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
