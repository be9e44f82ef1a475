package survey

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/eliseohh/branchpoll/internal/metrics"
)

// Settings is everything that differs between deployments of the survey.
type Settings struct {
	Prompt       string
	Branches     []string
	Question     string
	Options      []string
	Anonymous    bool
	BranchSource BranchSource
	SessionClear ClearScope
	Location     *time.Location
	RegistryTTL  time.Duration
	SessionTTL   time.Duration
}

// Controller drives the menu → branch → poll → answer flow. It owns the
// poll registry and the per-conversation sessions.
type Controller struct {
	settings Settings
	polls    *Registry
	sessions *Sessions
	delivery Delivery
	metrics  *metrics.Metrics
	log      zerolog.Logger
	now      func() time.Time
}

type Option func(*Controller)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func New(s Settings, d Delivery, log zerolog.Logger, opts ...Option) *Controller {
	if s.Location == nil {
		s.Location = time.FixedZone("UTC+3", 3*3600)
	}
	if s.BranchSource == "" {
		s.BranchSource = BranchFromSession
	}
	if s.SessionClear == "" {
		s.SessionClear = ClearConversation
	}
	c := &Controller{
		settings: s,
		polls:    NewRegistry(s.RegistryTTL),
		sessions: NewSessions(s.SessionTTL),
		delivery: d,
		log:      log.With().Str("component", "survey").Logger(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Controller) Registry() *Registry { return c.polls }
func (c *Controller) Sessions() *Sessions { return c.sessions }

// Menu returns the branch picker. It never touches state.
func (c *Controller) Menu() Menu {
	c.metrics.MenuShown()
	return Menu{
		Prompt:   c.settings.Prompt,
		Branches: append([]string(nil), c.settings.Branches...),
	}
}

// Branch resolves a catalog index to its name.
func (c *Controller) Branch(i int) (string, bool) {
	if i < 0 || i >= len(c.settings.Branches) {
		return "", false
	}
	return c.settings.Branches[i], true
}

// SelectBranch remembers the branch for conv, sends one poll through sender
// and registers it.
func (c *Controller) SelectBranch(ctx context.Context, conv int64, branch string, sender PollSender) (PollRecord, error) {
	if !c.inCatalog(branch) {
		return PollRecord{}, fmt.Errorf("%w: %q", ErrUnknownBranch, branch)
	}
	c.sessions.Set(conv, Session{Branch: branch, UpdatedAt: c.now()})

	pollID, err := sender.SendPoll(ctx, PollSpec{
		Question:  c.settings.Question,
		Options:   append([]string(nil), c.settings.Options...),
		Anonymous: c.settings.Anonymous,
	})
	if err != nil {
		return PollRecord{}, fmt.Errorf("send poll: %w", err)
	}

	labels := make(map[int]string, len(c.settings.Options))
	for i, opt := range c.settings.Options {
		labels[i] = opt
	}
	rec := PollRecord{
		PollID:         pollID,
		Labels:         labels,
		CreatedAt:      c.now().In(c.settings.Location),
		Branch:         branch,
		ConversationID: conv,
	}
	c.polls.Put(rec)
	c.sessions.Set(conv, Session{Branch: branch, PollID: pollID, UpdatedAt: rec.CreatedAt})

	c.metrics.PollCreated()
	c.metrics.SetRegistrySize(c.polls.Len())
	c.log.Info().Int64("conversation", conv).Str("branch", branch).Str("poll", pollID).Msg("poll sent")
	return rec, nil
}

// ReceiveAnswer turns an answer into a response row and hands it to the
// delivery policy. It never fails; write problems are reported in the
// returned Outcome and logged.
func (c *Controller) ReceiveAnswer(ctx context.Context, a Answer) Outcome {
	rec, known := c.polls.Get(a.PollID)

	conv := a.ConversationID
	if conv == 0 && known {
		conv = rec.ConversationID
	}

	label, source := c.answerLabel(rec, known, a.Options)

	ts := c.now().In(c.settings.Location)
	if known {
		ts = rec.CreatedAt.In(c.settings.Location)
	}

	row := ResponseRow{
		Respondent: c.respondent(a.Respondent),
		Branch:     c.branch(conv, rec, known),
		Answer:     label,
		Timestamp:  ts.Format(TimestampLayout),
	}

	res := c.delivery.Deliver(ctx, row)
	c.clearSession(conv, a.PollID)

	c.metrics.AnswerReceived(source)
	c.metrics.Delivered(string(res.Status))

	var ev *zerolog.Event
	if res.Status == Written {
		ev = c.log.Info()
	} else {
		ev = c.log.Error().Err(res.Err)
	}
	ev.Str("poll", a.PollID).
		Str("respondent", row.Respondent).
		Str("branch", row.Branch).
		Str("answer", row.Answer).
		Str("status", string(res.Status)).
		Int("attempts", res.Attempts).
		Msg("answer processed")

	return Outcome{Row: row, LabelSource: source, Delivery: res}
}

// Run evicts expired polls and sessions every interval until ctx is done.
func (c *Controller) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := c.now()
			polls := c.polls.Sweep(now)
			sessions := c.sessions.Sweep(now)
			c.metrics.SetRegistrySize(c.polls.Len())
			if polls > 0 || sessions > 0 {
				c.log.Debug().Int("polls", polls).Int("sessions", sessions).Msg("evicted expired state")
			}
		}
	}
}

func (c *Controller) answerLabel(rec PollRecord, known bool, options []int) (string, string) {
	if len(options) == 0 {
		return PendingAnswer, LabelPending
	}
	if !known {
		return UnknownAnswer, LabelFallback
	}
	if l, ok := rec.Labels[options[0]]; ok {
		return l, LabelFromRegistry
	}
	return UnknownAnswer, LabelFallback
}

func (c *Controller) branch(conv int64, rec PollRecord, known bool) string {
	if c.settings.BranchSource == BranchFromPoll && known && rec.Branch != "" {
		return rec.Branch
	}
	if sess, ok := c.sessions.Get(conv); ok && sess.Branch != "" {
		return sess.Branch
	}
	return UnknownBranch
}

func (c *Controller) respondent(r Respondent) string {
	switch {
	case c.settings.Anonymous:
		return AnonymousResponse
	case r.Username != "":
		return r.Username
	case r.ID != 0:
		return strconv.FormatInt(r.ID, 10)
	default:
		return AnonymousResponse
	}
}

func (c *Controller) clearSession(conv int64, pollID string) {
	if c.settings.SessionClear == ClearPoll {
		c.sessions.DeleteIfPoll(conv, pollID)
		return
	}
	c.sessions.Delete(conv)
}

func (c *Controller) inCatalog(branch string) bool {
	for _, b := range c.settings.Branches {
		if b == branch {
			return true
		}
	}
	return false
}
