// Command tradectl is a terminal client for the trading API. The session is
// kept in the user config directory between invocations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/unifi/internal/client"
	"github.com/xtrntr/unifi/internal/market"
	"github.com/xtrntr/unifi/internal/models"
	"github.com/xtrntr/unifi/internal/session"
	"github.com/xtrntr/unifi/internal/trading"
)

const usage = `usage: tradectl [-api URL] [-session FILE] <command> [flags]

commands:
  register  -email -password -username | -wallet -name
  login     -email -password | -wallet -signature
  logout
  session   show the remaining session time
  me        show the profile and balance
  dashboard show balance, active orders and recent trades
  trades    [-page N] [-limit N]
  order     -pair P -side BUY|SELL [-type MARKET] -amount A [-price P | -total T]
  orders    [-status S] [-page N] [-limit N]
  cancel    ORDER_ID
  candles   -base B [-quote Q] [-days N] [-interval I]
`

func main() {
	apiURL := flag.String("api", envOr("UNIFI_API_URL", "http://localhost:3001"), "API base URL")
	sessionPath := flag.String("session", defaultSessionPath(), "session file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	c := client.New(*apiURL, session.NewStore(*sessionPath))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, c, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, client.ErrNotLoggedIn) || errors.Is(err, client.ErrSessionExpired) {
			fmt.Fprintln(os.Stderr, "run `tradectl login` first")
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, c *client.Client, cmd string, args []string) error {
	switch cmd {
	case "register":
		return register(ctx, c, args)
	case "login":
		return login(ctx, c, args)
	case "logout":
		if err := c.Logout(ctx); err != nil {
			return err
		}
		fmt.Println("Logged out")
		return nil
	case "session":
		data, ok := c.Session.Load()
		if !ok {
			fmt.Println("Not logged in")
			return nil
		}
		fmt.Printf("Logged in as %s, session expires in %s\n",
			displayName(data.User), session.FormatRemaining(c.Session.Remaining()))
		return nil
	case "me":
		user, err := c.Me(ctx)
		if err != nil {
			return err
		}
		printUser(user)
		return nil
	case "dashboard":
		return dashboard(ctx, c)
	case "trades":
		return trades(ctx, c, args)
	case "order":
		return order(ctx, c, args)
	case "orders":
		return orders(ctx, c, args)
	case "cancel":
		if len(args) != 1 {
			return errors.New("usage: tradectl cancel ORDER_ID")
		}
		if err := c.CancelOrder(ctx, args[0]); err != nil {
			return err
		}
		fmt.Println("Order cancelled")
		return nil
	case "candles":
		return candles(ctx, c, args)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func register(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	email := fs.String("email", "", "email")
	password := fs.String("password", "", "password")
	username := fs.String("username", "", "display name for email sign up")
	wallet := fs.String("wallet", "", "wallet address")
	name := fs.String("name", "", "display name for wallet sign up")
	if err := fs.Parse(args); err != nil {
		return err
	}

	body := map[string]string{}
	set := func(key, value string) {
		if value != "" {
			body[key] = value
		}
	}
	set("email", *email)
	set("password", *password)
	set("username", *username)
	set("walletAddress", *wallet)
	set("name", *name)

	resp, err := c.Register(ctx, body)
	if err != nil {
		return err
	}
	fmt.Printf("%s, welcome %s\n", resp.Message, displayName(resp.User))
	return nil
}

func login(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "email")
	password := fs.String("password", "", "password")
	wallet := fs.String("wallet", "", "wallet address")
	signature := fs.String("signature", "", "signed login message")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		resp *client.AuthResponse
		err  error
	)
	if *wallet != "" {
		resp, err = c.Login(ctx, map[string]string{"walletAddress": *wallet, "signature": *signature})
	} else {
		resp, err = c.LoginWithPassword(ctx, *email, *password)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s, hello %s\n", resp.Message, displayName(resp.User))
	return nil
}

func dashboard(ctx context.Context, c *client.Client) error {
	view, err := c.Dashboard(ctx)
	if err != nil {
		return err
	}
	if view.Portfolio != nil {
		fmt.Printf("Balance: %s USDT  P/L: %s\n", view.Portfolio.Balance.StringFixed(2), view.Portfolio.TotalPL.StringFixed(2))
	}
	fmt.Printf("Trades: %d  Volume: %s  Active orders: %d\n\n",
		view.Stats.TotalTrades, view.Stats.TotalVolume.StringFixed(2), view.Stats.ActiveOrders)

	if len(view.ActiveOrders) > 0 {
		fmt.Println("Active orders")
		printOrders(view.ActiveOrders)
		fmt.Println()
	}
	if len(view.RecentTrades) > 0 {
		fmt.Println("Recent trades")
		printTrades(view.RecentTrades)
	}
	return nil
}

func trades(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("trades", flag.ContinueOnError)
	page := fs.Int("page", 1, "page")
	limit := fs.Int("limit", 20, "page size")
	if err := fs.Parse(args); err != nil {
		return err
	}
	result, err := c.Trades(ctx, *page, *limit)
	if err != nil {
		return err
	}
	printTrades(result.Trades)
	printPagination(result.Pagination)
	return nil
}

func order(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("order", flag.ContinueOnError)
	pair := fs.String("pair", "", "trading pair, e.g. ETH/USDT")
	side := fs.String("side", "", "BUY or SELL")
	orderType := fs.String("type", string(models.OrderTypeMarket), "MARKET, LIMIT, STOP_LOSS or TAKE_PROFIT")
	amount := fs.String("amount", "", "base amount")
	price := fs.String("price", "", "price in the quote asset")
	total := fs.String("total", "", "quote total when no price is given")
	if err := fs.Parse(args); err != nil {
		return err
	}

	amt, err := decimal.NewFromString(*amount)
	if err != nil {
		return fmt.Errorf("invalid amount %q", *amount)
	}
	req := trading.OrderRequest{
		Pair:   strings.ToUpper(*pair),
		Type:   models.OrderType(strings.ToUpper(*orderType)),
		Side:   models.Side(strings.ToUpper(*side)),
		Amount: amt,
	}
	if *price != "" {
		p, err := decimal.NewFromString(*price)
		if err != nil {
			return fmt.Errorf("invalid price %q", *price)
		}
		req.Price = &p
		req.Total = amt.Mul(p)
	} else if *total != "" {
		t, err := decimal.NewFromString(*total)
		if err != nil {
			return fmt.Errorf("invalid total %q", *total)
		}
		req.Total = t
	}

	result, err := c.CreateOrder(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("Order %s %s\n", result.Order.ID, result.Order.Status)
	if result.Trade != nil {
		fmt.Printf("Filled %s at %s, fee %s, tx %s\n",
			result.Trade.Amount, result.Trade.Price, result.Trade.Fee, result.Trade.TxHash)
	}
	return nil
}

func orders(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("orders", flag.ContinueOnError)
	status := fs.String("status", "", "filter by status")
	page := fs.Int("page", 1, "page")
	limit := fs.Int("limit", 20, "page size")
	if err := fs.Parse(args); err != nil {
		return err
	}
	result, err := c.Orders(ctx, strings.ToUpper(*status), *page, *limit)
	if err != nil {
		return err
	}
	printOrders(result.Orders)
	printPagination(result.Pagination)
	return nil
}

func candles(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("candles", flag.ContinueOnError)
	base := fs.String("base", "", "base asset, e.g. BTC")
	quote := fs.String("quote", "", "quote asset (default USDT)")
	days := fs.Int("days", 1, "days of history")
	interval := fs.String("interval", "", "candle interval (derived from days when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	series, err := c.Candles(ctx, market.CandleQuery{Base: *base, Quote: *quote, Days: *days, Interval: *interval})
	if err != nil {
		return err
	}

	fmt.Printf("%s %s (%d points)\n", series.Symbol, series.Interval, len(series.Points))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, p := range series.Points {
		fmt.Fprintf(w, "%s\t%s\n", time.UnixMilli(p.Timestamp).UTC().Format(time.RFC3339), p.Price)
	}
	return w.Flush()
}

func printUser(u *models.User) {
	fmt.Printf("ID:     %s\n", u.ID)
	fmt.Printf("Name:   %s\n", u.Name)
	if u.Email != nil {
		fmt.Printf("Email:  %s\n", *u.Email)
	}
	if u.WalletAddress != nil {
		fmt.Printf("Wallet: %s\n", *u.WalletAddress)
	}
	fmt.Printf("Joined: %s\n", u.JoinDate.Format("2006-01-02"))
	if u.Portfolio != nil {
		fmt.Printf("Balance: %s USDT\n", u.Portfolio.Balance.StringFixed(2))
	}
}

func printOrders(orders []models.Order) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPAIR\tTYPE\tSIDE\tAMOUNT\tPRICE\tSTATUS\tCREATED")
	for _, o := range orders {
		price := "-"
		if o.Price != nil {
			price = o.Price.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			o.ID, o.Pair, o.Type, o.Side, o.Amount, price, o.Status, o.CreatedAt.Format(time.DateTime))
	}
	w.Flush()
}

func printTrades(trades []models.Trade) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PAIR\tSIDE\tAMOUNT\tPRICE\tTOTAL\tFEE\tEXECUTED")
	for _, t := range trades {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.Pair, t.Side, t.Amount, t.Price, t.Total, t.Fee, t.ExecutedAt.Format(time.DateTime))
	}
	w.Flush()
}

func printPagination(p models.Pagination) {
	fmt.Printf("page %d of %d (%d total)\n", p.Page, p.Pages, p.Total)
}

func displayName(u *models.User) string {
	switch {
	case u == nil:
		return "unknown"
	case u.Name != "":
		return u.Name
	case u.Email != nil:
		return *u.Email
	case u.WalletAddress != nil:
		return *u.WalletAddress
	}
	return u.ID
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "tradectl-session.json")
	}
	return filepath.Join(dir, "tradectl", "session.json")
}
