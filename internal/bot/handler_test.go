package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v3"

	"github.com/eliseohh/branchpoll/internal/survey"
)

// MockContext definition for internal use
type MockContext struct {
	tele.Context
	DataVal   string
	SenderVal *tele.User
	ChatVal   *tele.Chat
	AnswerVal *tele.PollAnswer

	Sent      []interface{}
	SentOpts  [][]interface{}
	Responded bool
}

func (m *MockContext) Data() string                 { return m.DataVal }
func (m *MockContext) Sender() *tele.User           { return m.SenderVal }
func (m *MockContext) Chat() *tele.Chat             { return m.ChatVal }
func (m *MockContext) PollAnswer() *tele.PollAnswer { return m.AnswerVal }

func (m *MockContext) Send(what interface{}, opts ...interface{}) error {
	m.Sent = append(m.Sent, what)
	m.SentOpts = append(m.SentOpts, opts)
	return nil
}

func (m *MockContext) Respond(resp ...*tele.CallbackResponse) error {
	m.Responded = true
	return nil
}

type sentPoll struct {
	to   tele.Recipient
	poll *tele.Poll
}

type fakePoster struct {
	mu    sync.Mutex
	polls []sentPoll
	err   error
}

func (f *fakePoster) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p, ok := what.(*tele.Poll)
	if !ok {
		return nil, fmt.Errorf("unexpected payload %T", what)
	}
	f.polls = append(f.polls, sentPoll{to: to, poll: p})
	return &tele.Message{Poll: &tele.Poll{ID: fmt.Sprintf("tg-%d", len(f.polls))}}, nil
}

type memSheet struct {
	mu   sync.Mutex
	rows []survey.ResponseRow
}

func (s *memSheet) Append(ctx context.Context, row survey.ResponseRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row)
	return nil
}

var testOptions = []string{"Very happy", "Happy", "Fine", "Unhappy"}

func newTestBot(t *testing.T) (*Bot, *fakePoster, *memSheet) {
	t.Helper()
	branches := make([]string, 30)
	for i := range branches {
		branches[i] = fmt.Sprintf("Branch %d", i+1)
	}
	sheet := &memSheet{}
	ctrl := survey.New(survey.Settings{
		Prompt:   "Please select your branch:",
		Branches: branches,
		Question: "How satisfied are you?",
		Options:  testOptions,
	}, survey.DropPolicy(sheet), zerolog.Nop(), survey.WithClock(func() time.Time {
		return time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	}))

	out := &fakePoster{}
	b := &Bot{out: out, survey: ctrl, ctx: context.Background(), log: zerolog.Nop()}
	return b, out, sheet
}

func TestStartShowsBranchMenu(t *testing.T) {
	b, _, _ := newTestBot(t)
	c := &MockContext{SenderVal: &tele.User{ID: 42}, ChatVal: &tele.Chat{ID: 42}}

	require.NoError(t, b.handleStart(c))
	require.Len(t, c.Sent, 1)
	assert.Equal(t, "Please select your branch:", c.Sent[0])

	require.Len(t, c.SentOpts[0], 1)
	markup, ok := c.SentOpts[0][0].(*tele.ReplyMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 30)
	for i, row := range markup.InlineKeyboard {
		require.Len(t, row, 1)
		assert.Equal(t, fmt.Sprintf("Branch %d", i+1), row[0].Text)
		assert.Equal(t, branchUnique, row[0].Unique)
		assert.Equal(t, fmt.Sprint(i), row[0].Data)
	}

	// a second /start renders the same menu and leaves no state behind
	c2 := &MockContext{SenderVal: &tele.User{ID: 42}, ChatVal: &tele.Chat{ID: 42}}
	require.NoError(t, b.handleStart(c2))
	assert.Equal(t, c.SentOpts[0][0], c2.SentOpts[0][0])
	_, has := b.survey.Sessions().Get(42)
	assert.False(t, has)
	assert.Zero(t, b.survey.Registry().Len())
}

func TestBranchSelectionSendsPollAndAnswerIsRecorded(t *testing.T) {
	b, out, sheet := newTestBot(t)
	chat := &tele.Chat{ID: 42}

	sel := &MockContext{DataVal: "6", SenderVal: &tele.User{ID: 42, Username: "alice"}, ChatVal: chat}
	require.NoError(t, b.handleBranch(sel))
	assert.True(t, sel.Responded)
	assert.Empty(t, sel.Sent)

	require.Len(t, out.polls, 1)
	p := out.polls[0]
	assert.Equal(t, chat, p.to)
	assert.Equal(t, tele.PollRegular, p.poll.Type)
	assert.Equal(t, "How satisfied are you?", p.poll.Question)
	assert.False(t, p.poll.Anonymous)
	assert.False(t, p.poll.MultipleAnswers)
	require.Len(t, p.poll.Options, 4)
	for i, o := range p.poll.Options {
		assert.Equal(t, testOptions[i], o.Text)
	}

	rec, ok := b.survey.Registry().Get("tg-1")
	require.True(t, ok)
	assert.Equal(t, "Branch 7", rec.Branch)

	ans := &MockContext{AnswerVal: &tele.PollAnswer{
		PollID:  "tg-1",
		Sender:  &tele.User{ID: 42, Username: "alice"},
		Options: []int{1},
	}}
	require.NoError(t, b.handlePollAnswer(ans))
	assert.Empty(t, ans.Sent)

	require.Len(t, sheet.rows, 1)
	assert.Equal(t, survey.ResponseRow{
		Respondent: "alice",
		Branch:     "Branch 7",
		Answer:     "Happy",
		Timestamp:  "2024-05-01 12:30:00",
	}, sheet.rows[0])
}

func TestBranchSelectionRejectsBadData(t *testing.T) {
	b, out, _ := newTestBot(t)

	for _, data := range []string{"", "x", "-1", "30"} {
		c := &MockContext{DataVal: data, SenderVal: &tele.User{ID: 1}, ChatVal: &tele.Chat{ID: 1}}
		require.NoError(t, b.handleBranch(c))
		require.Len(t, c.Sent, 1, "data %q", data)
		assert.Contains(t, c.Sent[0], "Unknown branch")
	}
	assert.Empty(t, out.polls)
	assert.Zero(t, b.survey.Registry().Len())
}

func TestBranchSelectionSendFailure(t *testing.T) {
	b, out, _ := newTestBot(t)
	out.err = errors.New("telegram: bad request (400)")

	c := &MockContext{DataVal: "0", SenderVal: &tele.User{ID: 9}, ChatVal: &tele.Chat{ID: 9}}
	require.NoError(t, b.handleBranch(c))
	require.Len(t, c.Sent, 1)
	assert.Contains(t, c.Sent[0], "Could not start the poll")
	assert.Zero(t, b.survey.Registry().Len())
}

func TestPollAnswerForUnknownPoll(t *testing.T) {
	b, _, sheet := newTestBot(t)

	c := &MockContext{AnswerVal: &tele.PollAnswer{PollID: "stale", Sender: &tele.User{ID: 77}, Options: []int{0}}}
	require.NoError(t, b.handlePollAnswer(c))

	require.Len(t, sheet.rows, 1)
	assert.Equal(t, "77", sheet.rows[0].Respondent)
	assert.Equal(t, survey.UnknownBranch, sheet.rows[0].Branch)
	assert.Equal(t, survey.UnknownAnswer, sheet.rows[0].Answer)
}

func TestPollAnswerWithoutPayloadIsIgnored(t *testing.T) {
	b, _, sheet := newTestBot(t)
	require.NoError(t, b.handlePollAnswer(&MockContext{}))
	assert.Empty(t, sheet.rows)
}

func TestChatPollerRequiresChat(t *testing.T) {
	_, err := chatPoller{api: &fakePoster{}}.SendPoll(context.Background(), survey.PollSpec{Question: "q"})
	assert.Error(t, err)
}

func TestIsConflict(t *testing.T) {
	assert.True(t, isConflict(errors.New("telegram: Conflict: terminated by other getUpdates request; make sure that only one bot instance is running (409)")))
	assert.True(t, isConflict(&tele.Error{Code: 409, Description: "Conflict: webhook is active"}))
	assert.True(t, isConflict(errors.New("telegram: Conflict: something new (409)")))
	assert.False(t, isConflict(&tele.Error{Code: 401, Description: "Unauthorized"}))
	assert.False(t, isConflict(errors.New("dial tcp: connection refused")))
}

func TestWaitExclusiveRetriesConflicts(t *testing.T) {
	calls := 0
	probe := func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("%w: busy", ErrInstanceConflict)
		}
		return nil
	}
	require.NoError(t, waitExclusive(context.Background(), probe, 5, time.Millisecond, zerolog.Nop()))
	assert.Equal(t, 3, calls)
}

func TestWaitExclusiveGivesUp(t *testing.T) {
	calls := 0
	probe := func() error {
		calls++
		return fmt.Errorf("%w: busy", ErrInstanceConflict)
	}
	err := waitExclusive(context.Background(), probe, 3, time.Millisecond, zerolog.Nop())
	assert.ErrorIs(t, err, ErrInstanceConflict)
	assert.Equal(t, 3, calls)
}

func TestWaitExclusiveFailsFastOnOtherErrors(t *testing.T) {
	calls := 0
	unauthorized := errors.New("telegram: Unauthorized (401)")
	probe := func() error {
		calls++
		return unauthorized
	}
	err := waitExclusive(context.Background(), probe, 5, time.Millisecond, zerolog.Nop())
	assert.ErrorIs(t, err, unauthorized)
	assert.Equal(t, 1, calls)
}
