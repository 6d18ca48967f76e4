package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/haukened/rr-lookup/internal/lookup/common/phone"
	"github.com/haukened/rr-lookup/internal/lookup/domain"
	"github.com/haukened/rr-lookup/internal/lookup/services/block"
)

const usage = "commands: lookup <number> | lookup-sync <number> | block <number> | unblock <number> | " +
	"spam <number> | status <number> | block-contact <id> | unblock-contact <id> | import <file> | stats | quit"

// console serializes writes from the command loop and from lookup callbacks.
type console struct {
	mu  sync.Mutex
	out io.Writer
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

// Run reads one command per line from in until quit, EOF or ctx is done.
// Lookup results arrive asynchronously and are written as they come in.
func (app *Application) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	con := &console{out: out}

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if !app.execute(ctx, con, line) {
				return nil
			}
		}
	}
}

// execute runs one command line. It returns false when the loop should stop.
func (app *Application) execute(ctx context.Context, con *console, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "quit", "exit":
		return false
	case "help":
		con.printf(usage)
		return true
	case "stats":
		app.stats(con)
		return true
	}

	if len(args) == 0 {
		con.printf("error: %s needs an argument", cmd)
		return true
	}
	// numbers may be typed with spaces, as in "(415) 555-0100"
	arg := strings.Join(args, " ")

	switch cmd {
	case "lookup":
		app.lookup(con, arg)
	case "lookup-sync":
		app.lookupSync(ctx, con, arg)
	case "block":
		app.blockNumber(con, arg, true)
	case "unblock":
		app.blockNumber(con, arg, false)
	case "spam":
		app.spam(con, arg)
	case "status":
		app.status(con, arg)
	case "block-contact":
		app.blockContact(con, arg, true)
	case "unblock-contact":
		app.blockContact(con, arg, false)
	case "import":
		n, err := app.importBlacklist(arg)
		if err != nil {
			con.printf("error: %v", err)
			return true
		}
		con.printf("imported %d entries from %s", n, arg)
	default:
		con.printf("error: unknown command %q", cmd)
		con.printf(usage)
	}
	return true
}

func (app *Application) request(number string, cb domain.Callback) (*domain.LookupRequest, error) {
	e164, err := phone.ToE164(number, app.config.DefaultRegion)
	if err != nil {
		return nil, err
	}
	return domain.NewLookupRequest(e164, cb)
}

func (app *Application) lookup(con *console, number string) {
	req, err := app.request(number, domain.CallbackFunc(func(req *domain.LookupRequest, resp *domain.LookupResponse) {
		con.printf("%s", formatResponse(req.PhoneNumber, resp))
	}))
	if err != nil {
		con.printf("error: %v", err)
		return
	}
	if !app.dispatcher.FetchInfoForPhoneNumber(req) {
		con.printf("rejected %s", req.PhoneNumber)
		return
	}
	con.printf("queued %s", req.PhoneNumber)
}

func (app *Application) lookupSync(ctx context.Context, con *console, number string) {
	req, err := app.request(number, domain.CallbackFunc(func(*domain.LookupRequest, *domain.LookupResponse) {}))
	if err != nil {
		con.printf("error: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, app.config.FetchTimeout)
	defer cancel()
	resp := app.dispatcher.BlockingFetchInfoForPhoneNumber(ctx, req)
	if resp == nil {
		con.printf("%s: no result", req.PhoneNumber)
		return
	}
	con.printf("%s", formatResponse(req.PhoneNumber, resp))
}

func (app *Application) spam(con *console, number string) {
	e164, err := phone.ToE164(number, app.config.DefaultRegion)
	if err != nil {
		con.printf("error: %v", err)
		return
	}
	if !app.dispatcher.IsProviderInterestedInSpam() {
		con.printf("%s does not take spam reports", app.dispatcher.ProviderName())
		return
	}
	app.dispatcher.MarkAsSpam(e164)
	con.printf("reported %s", e164)
}

func (app *Application) status(con *console, number string) {
	match := app.blacklist.IsListed(number, domain.BlockAll)
	calls := app.blacklist.IsListed(number, domain.BlockCalls).Matched()
	messages := app.blacklist.IsListed(number, domain.BlockMessages).Matched()
	con.printf("%s: match=%s calls=%t messages=%t", number, match, calls, messages)
}

func (app *Application) stats(con *console) {
	s := app.blacklist.Stats()
	con.printf("dispatcher: state=%s provider=%q enabled=%t pending=%d",
		app.dispatcher.State(), app.dispatcher.ProviderName(), app.dispatcher.IsProviderEnabled(), app.dispatcher.PendingCount())
	con.printf("blacklist: exact=%d prefix=%d version=%d hits=%d misses=%d evictions=%d",
		s.Store.ExactCount, s.Store.PrefixCount, s.Store.Version, s.Hits, s.Misses, s.Evictions)
}

// blockNumber runs a NumberHelper to completion, reporting spam when the
// provider takes reports.
func (app *Application) blockNumber(con *console, number string, blocking bool) {
	h := block.NewNumberHelper(number, app.blockOptions(completionPrinter(con, number)))
	if blocking {
		h.BlockNumber(true)
	} else {
		h.UnblockNumber(true)
	}
	h.Close()
}

func (app *Application) blockContact(con *console, arg string, blocking bool) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		con.printf("error: invalid contact id %q", arg)
		return
	}
	if app.numbers == nil {
		con.printf("error: contacts need the directory provider")
		return
	}
	h := block.NewContactHelper(id, app.numbers, app.blockOptions(completionPrinter(con, "contact "+arg)))
	if blocking {
		h.BlockContact(true)
	} else {
		h.UnblockContact(true)
	}
	h.Close()
}

func completionPrinter(con *console, subject string) block.Callbacks {
	return block.CallbackFuncs{
		Blocked:   func() { con.printf("blocked %s", subject) },
		Unblocked: func() { con.printf("unblocked %s", subject) },
	}
}

func formatResponse(number string, resp *domain.LookupResponse) string {
	if resp == nil {
		return number + ": no result"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: provider=%q status=%s", phone.Display(number), resp.ProviderName, resp.Status)
	for _, f := range []struct{ key, val string }{
		{"name", resp.Name},
		{"city", resp.City},
		{"country", resp.Country},
		{"address", resp.Address},
	} {
		if f.val != "" {
			fmt.Fprintf(&b, " %s=%q", f.key, f.val)
		}
	}
	if resp.IsSpam() {
		fmt.Fprintf(&b, " spam=%d", resp.SpamCount)
	}
	return b.String()
}
