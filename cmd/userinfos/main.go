// Command userinfos signs in against a configured provider from the desktop
// and prints the userinfo claims. Access-token leases are cached per provider
// for the lifetime of the process; an expired lease restarts the whole flow
// with fresh single-use material.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/hashicorp/go-hclog"
	"github.com/rrogntudju/userinfos/internal/config"
	"github.com/rrogntudju/userinfos/oidc"
	"github.com/rrogntudju/userinfos/oidc/callback"
	"github.com/rrogntudju/userinfos/util"
)

// tokenCache holds at most one lease per provider. It is owned by the main
// goroutine and handed to the functions that need it; nothing else touches
// it, so it needs no locking.
type tokenCache struct {
	leases map[oidc.ProviderName]*oidc.Token
}

func newTokenCache() *tokenCache {
	return &tokenCache{leases: make(map[oidc.ProviderName]*oidc.Token)}
}

// get returns the cached lease, dropping it first when it has expired.
func (c *tokenCache) get(name oidc.ProviderName) *oidc.Token {
	t, ok := c.leases[name]
	if !ok {
		return nil
	}
	if t.IsExpired() {
		delete(c.leases, name)
		return nil
	}
	return t
}

func (c *tokenCache) put(name oidc.ProviderName, t *oidc.Token) {
	c.leases[name] = t
}

type flowResult struct {
	code string
	err  error
}

func main() {
	os.Exit(realMain())
}

func realMain() int {
	configPath := flag.String("config", "userinfos.yml", "path to the configuration file")
	providerFlag := flag.String("provider", "", "fetch once for this provider and exit (microsoft or google)")
	flag.Parse()

	logger := hclog.New(&hclog.LoggerOptions{Name: "userinfos", Level: hclog.Warn})
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("unable to load the configuration", "path", *configPath, "error", err)
		return 1
	}
	registry, err := cfg.Registry()
	if err != nil {
		logger.Error("unable to build the provider registry", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	cache := newTokenCache()

	if *providerFlag != "" {
		name, err := oidc.ParseProviderName(*providerFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "unknown provider %q\n", *providerFlag)
			return 1
		}
		if err := fetchAndPrint(ctx, cfg, registry, cache, name); err != nil {
			fmt.Fprintf(os.Stderr, "error: %s\n", err)
			return 1
		}
		return 0
	}

	names := make([]string, 0, 2)
	for _, n := range registry.Names() {
		names = append(names, string(n))
	}
	fmt.Printf("Providers: %s. Empty line quits.\n", strings.Join(names, ", "))
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("provider> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line == "quit" {
			break
		}
		name, err := oidc.ParseProviderName(line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "unknown provider %q\n", line)
			continue
		}
		if err := fetchAndPrint(ctx, cfg, registry, cache, name); err != nil {
			fmt.Fprintf(os.Stderr, "error: %s\n", err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return 0
}

// fetchAndPrint fetches the provider's userinfo claims, authenticating first
// unless an unexpired lease is cached, and prints them as an aligned table.
func fetchAndPrint(ctx context.Context, cfg *config.Config, registry *oidc.Registry, cache *tokenCache, name oidc.ProviderName) error {
	const op = "fetchAndPrint"
	p, err := registry.Lookup(name)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	token := cache.get(name)
	if token == nil {
		token, err = authenticate(ctx, cfg, p)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		cache.put(name, token)
	}

	var claims map[string]interface{}
	if err := p.UserInfo(ctx, token, &claims); err != nil {
		// The lease may have been revoked upstream; do not keep it around.
		delete(cache.leases, name)
		return fmt.Errorf("%s: %w", op, err)
	}

	names := make([]string, 0, len(claims))
	for n := range claims {
		names = append(names, n)
	}
	sort.Strings(names)
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, n := range names {
		fmt.Fprintf(tw, "%s\t%v\n", n, claims[n])
	}
	return tw.Flush()
}

// authenticate runs one full authorization attempt: it opens the browser on
// the authorization URL and waits on the loopback listener for the redirect,
// then exchanges the code for a lease. The listener runs on a background
// goroutine and delivers its result over a channel so an interrupt or a
// failed browser launch can cancel it.
func authenticate(ctx context.Context, cfg *config.Config, p *oidc.Provider) (*oidc.Token, error) {
	const op = "authenticate"
	redirectURL := fmt.Sprintf("http://localhost:%d/", cfg.Listener.Port)
	authURL, pending, err := p.AuthURL(redirectURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	listener, err := callback.NewListener(cfg.Listener.Port, pending, callback.WithTimeout(cfg.Listener.Timeout.Std()))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	listenCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	resultCh := make(chan flowResult, 1)
	go func() {
		code, err := listener.Listen(listenCtx)
		resultCh <- flowResult{code: code, err: err}
	}()

	fmt.Fprintf(os.Stderr, "Complete the sign-in in your browser:\n\n    %s\n\n", authURL)
	if err := util.OpenURL(authURL); err != nil {
		cancel()
		<-resultCh
		return nil, fmt.Errorf("%s: unable to open the browser: %w", op, err)
	}

	res := <-resultCh
	if res.err != nil {
		return nil, fmt.Errorf("%s: %w", op, res.err)
	}
	token, err := p.Exchange(ctx, pending, res.code)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return token, nil
}
