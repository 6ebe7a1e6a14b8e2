// Package deeplink handles "join group" links. A link opened while nobody is signed in is
// parked and replayed once a session becomes authenticated.
package deeplink

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/locvowork/task_management_sample/internal/domain"
	"github.com/locvowork/task_management_sample/internal/logger"
)

// GroupJoiner joins the acting identity to a group by invite code.
type GroupJoiner interface {
	JoinGroupByInviteCode(ctx context.Context, code string) (*domain.Group, error)
}

// Session reports whether someone is signed in.
type Session interface {
	IsAuthenticated() bool
}

// Result is the outcome of one join link.
type Result struct {
	Code     string        `json:"code"`
	Deferred bool          `json:"deferred"`
	Group    *domain.Group `json:"group,omitempty"`
	Err      error         `json:"-"`
}

// Joiner runs join links now or after sign-in.
type Joiner struct {
	groups  GroupJoiner
	session Session
	message func(error) string

	mu       sync.Mutex
	pending  []string
	onResult []func(Result)
}

// Option configures a Joiner.
type Option func(*Joiner)

// WithResultHandler registers fn for the outcome of every deferred join.
func WithResultHandler(fn func(Result)) Option {
	return func(j *Joiner) { j.onResult = append(j.onResult, fn) }
}

// WithFailureMessage sets how join errors are rendered in logs.
func WithFailureMessage(fn func(error) string) Option {
	return func(j *Joiner) { j.message = fn }
}

// New returns a Joiner joining through groups once session is authenticated.
func New(groups GroupJoiner, session Session, opts ...Option) *Joiner {
	j := &Joiner{groups: groups, session: session, message: func(err error) string { return err.Error() }}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// ParseInviteLink extracts the normalized invite code from a bare code, a path like
// /join/CODE, or a URL such as taskapp://join/CODE or https://host/join/CODE?x=y.
func ParseInviteLink(link string) (string, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return "", fmt.Errorf("empty invite link: %w", domain.ErrInvalid)
	}
	if !strings.Contains(link, "/") {
		return domain.NormalizeInviteCode(link), nil
	}

	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("parse invite link: %w: %w", domain.ErrInvalid, err)
	}
	if code := u.Query().Get("code"); code != "" {
		return domain.NormalizeInviteCode(code), nil
	}
	segments := strings.Split(strings.Trim(u.Host+u.Path, "/"), "/")
	for i := 0; i+1 < len(segments); i++ {
		if strings.EqualFold(segments[i], "join") && segments[i+1] != "" {
			return domain.NormalizeInviteCode(segments[i+1]), nil
		}
	}
	return "", fmt.Errorf("no invite code in %q: %w", link, domain.ErrInvalid)
}

// Open joins the group named by link, or parks the code when nobody is signed in.
func (j *Joiner) Open(ctx context.Context, link string) (Result, error) {
	code, err := ParseInviteLink(link)
	if err != nil {
		return Result{}, err
	}
	if !j.session.IsAuthenticated() {
		j.park(code)
		logger.InfoLog(ctx, fmt.Sprintf("join link %s deferred until sign-in", code))
		return Result{Code: code, Deferred: true}, nil
	}
	res := j.join(ctx, code)
	return res, res.Err
}

func (j *Joiner) park(code string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range j.pending {
		if c == code {
			return
		}
	}
	j.pending = append(j.pending, code)
}

// Pending returns the parked codes in arrival order.
func (j *Joiner) Pending() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.pending...)
}

// Flush replays parked codes if a session is authenticated. Each code is tried once.
func (j *Joiner) Flush(ctx context.Context) []Result {
	if !j.session.IsAuthenticated() {
		return nil
	}
	j.mu.Lock()
	codes := j.pending
	j.pending = nil
	handlers := append([]func(Result){}, j.onResult...)
	j.mu.Unlock()

	results := make([]Result, 0, len(codes))
	for _, code := range codes {
		res := j.join(ctx, code)
		res.Deferred = true
		for _, fn := range handlers {
			fn(res)
		}
		results = append(results, res)
	}
	return results
}

// SessionChanged is the session change hook: a new identity flushes parked links.
func (j *Joiner) SessionChanged(identity *domain.Identity) {
	if identity == nil {
		return
	}
	ctx := logger.WithIdentity(context.Background(), identity.ID)
	j.Flush(ctx)
}

func (j *Joiner) join(ctx context.Context, code string) Result {
	g, err := j.groups.JoinGroupByInviteCode(ctx, code)
	if err != nil {
		logger.WarnLog(ctx, fmt.Sprintf("join link %s: %s", code, j.message(err)))
		return Result{Code: code, Err: err}
	}
	logger.InfoLog(ctx, fmt.Sprintf("join link %s: joined %s", code, g.ID))
	return Result{Code: code, Group: g}
}
