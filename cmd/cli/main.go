// Command talkmate is a CLI client for the companion HTTP API.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/term"

	"github.com/talkmate/companion/internal/convert"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "talkmate")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "talkmate")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(tokenPath(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (login required)")
	}
	return tf.AccessToken, nil
}

// tokenExpiry prefers the server-reported expiry and falls back to the exp claim.
func tokenExpiry(resp convert.TokenResponse) time.Time {
	if t, err := time.Parse(convert.TimeLayout, resp.ExpiresAt); err == nil {
		return t
	}
	var claims jwt.RegisteredClaims
	_, _, _ = jwt.NewParser().ParseUnverified(resp.AccessToken, &claims)
	if claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return time.Now().Add(15 * time.Minute)
}

// ---- http client ----

// apiError is a non-2xx reply.
type apiError struct {
	Status int
	Detail string
}

func (e *apiError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Detail)
}

type client struct {
	base  string
	hc    *http.Client
	token string
}

func newClient(base, token string) *client {
	return &client{base: strings.TrimRight(base, "/"), hc: &http.Client{Timeout: 30 * time.Second}, token: token}
}

func (c *client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var er convert.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&er)
		return &apiError{Status: resp.StatusCode, Detail: er.Detail}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	ct := ""
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body, ct = bytes.NewReader(b), "application/json"
	}
	return c.do(ctx, method, path, body, ct, out)
}

func (c *client) Register(ctx context.Context, username, password string) (string, error) {
	var out convert.RegisterResponse
	err := c.doJSON(ctx, http.MethodPost, "/register", convert.Credentials{Username: username, Password: password}, &out)
	return out.UserID, err
}

func (c *client) Login(ctx context.Context, username, password string) (convert.TokenResponse, error) {
	form := url.Values{"username": {username}, "password": {password}}
	var out convert.TokenResponse
	err := c.do(ctx, http.MethodPost, "/token", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", &out)
	return out, err
}

func (c *client) Me(ctx context.Context) (convert.MeResponse, error) {
	var out convert.MeResponse
	err := c.doJSON(ctx, http.MethodGet, "/users/me", nil, &out)
	return out, err
}

func limitQuery(n int) string {
	if n <= 0 {
		return ""
	}
	return "?limit=" + strconv.Itoa(n)
}

func (c *client) History(ctx context.Context, limit int) ([]convert.ConversationSummary, error) {
	var out []convert.ConversationSummary
	err := c.doJSON(ctx, http.MethodGet, "/conversations"+limitQuery(limit), nil, &out)
	return out, err
}

func (c *client) Context(ctx context.Context, limit int) (string, error) {
	var out convert.ContextResponse
	err := c.doJSON(ctx, http.MethodGet, "/conversations/context"+limitQuery(limit), nil, &out)
	return out.Context, err
}

func (c *client) Remind(ctx context.Context, req convert.ScheduleReminderRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/reminders", req, nil)
}

func (c *client) Reminders(ctx context.Context, limit int) ([]convert.Reminder, error) {
	var out []convert.Reminder
	err := c.doJSON(ctx, http.MethodGet, "/reminders"+limitQuery(limit), nil, &out)
	return out, err
}

// ---- utils ----

// readPassword is swapped out in tests.
var readPassword = term.ReadPassword

// passwordOr returns p, or prompts for one on the terminal when p is empty.
func passwordOr(p string) (string, error) {
	if p != "" {
		return p, nil
	}
	fmt.Fprint(os.Stderr, "Password: ")
	b, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintf(os.Stderr, `talkmate CLI
Usage:
  talkmate [-addr URL] <cmd> [args]

Commands:
  version
  register   -u <username> [-p <password>]
  login      -u <username> [-p <password>]     (saves token)
  me
  history    [-n <limit>]
  context    [-n <limit>]
  remind     -type sms|call -at <RFC3339 time> -msg <text>
  reminders  [-n <limit>]
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands against the API at -addr.
func main() {
	addr := flag.String("addr", "http://localhost:8000", "server base url")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cmd {

	case "version":
		fmt.Printf("talkmate %s (%s)\n", version, buildDate)

	case "register", "login":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		u := fs.String("u", "", "username")
		p := fs.String("p", "", "password (prompted when empty)")
		_ = fs.Parse(args)
		if *u == "" {
			fmt.Fprintln(os.Stderr, "need -u")
			os.Exit(1)
		}
		pwd, err := passwordOr(*p)
		if err != nil {
			fail(err)
		}

		c := newClient(*addr, "")
		if cmd == "register" {
			id, err := c.Register(ctx, *u, pwd)
			if err != nil {
				fail(err)
			}
			fmt.Println(id)
			return
		}
		tok, err := c.Login(ctx, *u, pwd)
		if err != nil {
			fail(err)
		}
		if err := saveToken(tok.AccessToken, tokenExpiry(tok)); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "me":
		me, err := authed(*addr).Me(ctx)
		if err != nil {
			fail(err)
		}
		fmt.Println(me.Username)

	case "history", "context", "reminders":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		n := fs.Int("n", 0, "limit (server default when 0)")
		_ = fs.Parse(args)

		c := authed(*addr)
		switch cmd {
		case "history":
			out, err := c.History(ctx, *n)
			if err != nil {
				fail(err)
			}
			printJSON(os.Stdout, out)
		case "context":
			out, err := c.Context(ctx, *n)
			if err != nil {
				fail(err)
			}
			fmt.Print(out)
		default:
			out, err := c.Reminders(ctx, *n)
			if err != nil {
				fail(err)
			}
			printJSON(os.Stdout, out)
		}

	case "remind":
		fs := flag.NewFlagSet("remind", flag.ExitOnError)
		typ := fs.String("type", "sms", "sms or call")
		at := fs.String("at", "", "remind time (RFC 3339)")
		msg := fs.String("msg", "", "message")
		_ = fs.Parse(args)
		if *at == "" || *msg == "" {
			fmt.Fprintln(os.Stderr, "need -at and -msg")
			os.Exit(1)
		}
		err := authed(*addr).Remind(ctx, convert.ScheduleReminderRequest{Type: *typ, RemindTime: *at, Message: *msg})
		if err != nil {
			fail(err)
		}
		fmt.Println("ok")

	default:
		usage()
	}
}

// ---- helpers ----

func authed(addr string) *client {
	token, err := loadToken()
	if err != nil {
		fail(err)
	}
	return newClient(addr, token)
}

func fail(err error) {
	var ae *apiError
	if errors.As(err, &ae) && ae.Status == http.StatusUnauthorized {
		fmt.Fprintf(os.Stderr, "%v (try: talkmate login)\n", err)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
