// Package bot turns chat commands into registry mutations and schedule queries.
package bot

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "boilbot/internal/runtime/supervisor"
	"boilbot/internal/transport"
	logx "boilbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	// AccessMutation is owner-only when mutations are restricted.
	AccessMutation
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

// Request is one routed command invocation.
type Request struct {
	Chat         transport.ChatTarget
	FromID       int64
	FromUsername string
	FromName     string
	Command      string
	Args         []string
	ReqID        string
	Logger       logx.Logger
}

// Mention renders the requester for chat messages: "@user" or the display name.
func (r *Request) Mention() string {
	if r.FromUsername != "" {
		return "@" + r.FromUsername
	}
	if r.FromName != "" {
		return r.FromName
	}
	return "user " + strconv.FormatInt(r.FromID, 10)
}

// Sender is the subset of transport.Adapter the router and commands need.
type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

// CommandObserver counts handled commands; outcome is "ok", "rejected" or "error".
type CommandObserver interface {
	CommandHandled(command, outcome string)
}

const (
	unknownCommandText = "Unknown command. Try /help"
	unauthorizedText   = "You are not allowed to do that."
	rateLimitedText    = "Slow down a little and try again in a minute."
	busyText           = "Busy, try again."
)

type Router struct {
	log    logx.Logger
	sender Sender
	obs    CommandObserver

	mu       sync.RWMutex
	cmds     map[string]*Command
	ordered  []*Command
	owners   []int64
	restrict bool
	botName  string

	limiter *userLimiter
	jobs    chan func()
}

func NewRouter(log logx.Logger, sender Sender, obs CommandObserver) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		log:     log,
		sender:  sender,
		obs:     obs,
		cmds:    map[string]*Command{},
		limiter: newUserLimiter(0),
		jobs:    make(chan func(), 64),
	}
}

// SetOwners replaces the owner list. Safe during hot reload.
func (r *Router) SetOwners(owners []int64, restrictMutations bool) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.restrict = restrictMutations
	r.mu.Unlock()
}

// SetBotName sets this bot's username. Commands addressed to another bot
// ("/week@other_bot") are then ignored.
func (r *Router) SetBotName(name string) {
	r.mu.Lock()
	r.botName = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "@"))
	r.mu.Unlock()
}

// SetRateLimit sets the per-user command budget; 0 disables limiting.
func (r *Router) SetRateLimit(perMinute int) { r.limiter.SetRate(perMinute) }

// SetCommands installs cmds plus the built-in /help.
func (r *Router) SetCommands(cmds []Command) {
	cmds = append(cmds, Command{
		Name:        "help",
		Aliases:     []string{"start"},
		Description: "list commands",
		Usage:       "/help",
		Handle: func(ctx context.Context, req *Request) error {
			_, err := r.sender.SendText(ctx, req.Chat, r.helpText(), &transport.SendOptions{ParseMode: "HTML", DisablePreview: true})
			return err
		},
	})

	byName := map[string]*Command{}
	ordered := make([]*Command, 0, len(cmds))
	for i := range cmds {
		c := &cmds[i]
		if c.Name == "" || c.Handle == nil {
			continue
		}
		byName[c.Name] = c
		for _, a := range c.Aliases {
			if _, taken := byName[a]; !taken {
				byName[a] = c
			}
		}
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	r.mu.Lock()
	r.cmds = byName
	r.ordered = ordered
	r.mu.Unlock()
}

// MenuCommands lists the commands for the chat client's command menu.
func (r *Router) MenuCommands() []transport.BotCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]transport.BotCommand, 0, len(r.ordered))
	for _, c := range r.ordered {
		out = append(out, transport.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}

func (r *Router) helpText() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var b strings.Builder
	b.WriteString("<b>Commands</b>\n")
	for _, c := range r.ordered {
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		b.WriteString("<code>" + escape(usage) + "</code> - " + escape(c.Description) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// DispatchLoop routes updates on a small worker pool until ctx is done or updates closes.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(r.log), rtsup.WithCancelOnError(false))
	for i := 0; i < 2; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					func() {
						defer recoverJob(r.log)
						job()
					}()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("command dispatcher started")
	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			select {
			case r.jobs <- func() { r.Dispatch(ctx, up) }:
			default:
				if up.Message != nil {
					_, _ = r.sender.SendText(ctx, chatOf(up.Message), busyText, nil)
				}
			}
		}
	}
}

// Dispatch routes one update synchronously.
func (r *Router) Dispatch(ctx context.Context, up transport.Update) {
	if up.Kind != transport.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	parts := tokenize(msg.Text)
	if len(parts) == 0 || !strings.HasPrefix(parts[0], "/") {
		return
	}
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	mention := ""
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word, mention = word[:i], word[i+1:]
	}
	chat := chatOf(msg)

	r.mu.RLock()
	me := r.botName
	cmd := r.cmds[word]
	allowed := cmd != nil && r.allowedLocked(cmd.Access, msg.FromID)
	r.mu.RUnlock()

	if mention != "" && me != "" && mention != me {
		return
	}
	if cmd == nil {
		// Group chats carry commands for other bots; only answer when clearly addressed.
		if msg.Private || (mention != "" && mention == me) {
			_, _ = r.sender.SendText(ctx, chat, unknownCommandText, nil)
		}
		return
	}
	if !allowed {
		r.observe(cmd.Name, "rejected")
		_, _ = r.sender.SendText(ctx, chat, unauthorizedText, nil)
		return
	}
	if !r.limiter.Allow(msg.FromID) {
		r.observe(cmd.Name, "rejected")
		_, _ = r.sender.SendText(ctx, chat, rateLimitedText, nil)
		return
	}

	rid := newReqID()
	req := &Request{
		Chat:         chat,
		FromID:       msg.FromID,
		FromUsername: msg.FromUsername,
		FromName:     msg.FromName,
		Command:      cmd.Name,
		Args:         parts[1:],
		ReqID:        rid,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}
	final := Chain(cmd.Handle,
		MWPanicRecover(),
		MWRequestLog(),
		MWTimeout(cmd.Timeout),
	)
	if err := final(ctx, req); err != nil {
		r.observe(cmd.Name, "error")
		return
	}
	r.observe(cmd.Name, "ok")
}

func (r *Router) allowedLocked(a Access, from int64) bool {
	switch a {
	case AccessOwnerOnly:
		return isOwner(from, r.owners)
	case AccessMutation:
		return !r.restrict || isOwner(from, r.owners)
	default:
		return true
	}
}

func (r *Router) observe(cmd, outcome string) {
	if r.obs != nil {
		r.obs.CommandHandled(cmd, outcome)
	}
}

func chatOf(m *transport.Message) transport.ChatTarget {
	return transport.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}

func newReqID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(b[:])
}

// tokenize splits on whitespace; double quotes group words ("Fry 1").
func tokenize(s string) []string {
	var (
		out   []string
		cur   strings.Builder
		quote bool
		have  bool
	)
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r == '"':
			quote = !quote
			have = true
		case !quote && (r == ' ' || r == '\t' || r == '\n'):
			if have {
				out = append(out, cur.String())
				cur.Reset()
				have = false
			}
		default:
			cur.WriteRune(r)
			have = true
		}
	}
	if have {
		out = append(out, cur.String())
	}
	return out
}

func escape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

// recoverJob keeps a worker alive when a job panics outside the middleware chain.
func recoverJob(log logx.Logger) {
	if r := recover(); r != nil {
		log.Error("panic in command job", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
	}
}
