package bot

import (
	"context"
	"errors"
	"strconv"

	tele "gopkg.in/telebot.v3"

	"github.com/eliseohh/branchpoll/internal/survey"
)

const branchUnique = "branch"

func (b *Bot) register() {
	b.api.Handle("/start", b.handleStart)
	b.api.Handle("/survey", b.handleStart)
	b.api.Handle(&tele.Btn{Unique: branchUnique}, b.handleBranch)
	b.api.Handle(tele.OnPollAnswer, b.handlePollAnswer)

	b.api.Handle(tele.OnText, func(c tele.Context) error {
		return c.Send("Send /start to choose your branch.")
	})
}

// /start, /survey
func (b *Bot) handleStart(c tele.Context) error {
	menu := b.survey.Menu()
	return c.Send(menu.Prompt, menuMarkup(menu.Branches))
}

func menuMarkup(branches []string) *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{}
	rows := make([]tele.Row, 0, len(branches))
	for i, name := range branches {
		rows = append(rows, m.Row(m.Data(name, branchUnique, strconv.Itoa(i))))
	}
	m.Inline(rows...)
	return m
}

func (b *Bot) handleBranch(c tele.Context) error {
	if err := c.Respond(); err != nil {
		b.log.Warn().Err(err).Msg("answer callback")
	}

	i, err := strconv.Atoi(c.Data())
	if err != nil {
		return c.Send("Unknown branch, send /start to pick again.")
	}
	branch, ok := b.survey.Branch(i)
	if !ok {
		return c.Send("Unknown branch, send /start to pick again.")
	}

	poller := chatPoller{api: b.out}
	if ch := c.Chat(); ch != nil {
		poller.to = ch
	}
	conv := conversationOf(c)
	_, err = b.survey.SelectBranch(b.ctx, conv, branch, poller)
	switch {
	case errors.Is(err, survey.ErrUnknownBranch):
		return c.Send("Unknown branch, send /start to pick again.")
	case err != nil:
		b.log.Error().Err(err).Int64("conversation", conv).Str("branch", branch).Msg("select branch")
		return c.Send("Could not start the poll, please try again.")
	}
	return nil
}

// Answers are never reported back to the respondent.
func (b *Bot) handlePollAnswer(c tele.Context) error {
	pa := c.PollAnswer()
	if pa == nil {
		return nil
	}
	a := survey.Answer{PollID: pa.PollID, Options: pa.Options}
	if pa.Sender != nil {
		a.ConversationID = pa.Sender.ID
		a.Respondent = survey.Respondent{ID: pa.Sender.ID, Username: pa.Sender.Username}
	}
	b.survey.ReceiveAnswer(b.ctx, a)
	return nil
}

// Conversations are keyed by the user, which is also the private chat id.
func conversationOf(c tele.Context) int64 {
	if u := c.Sender(); u != nil {
		return u.ID
	}
	if ch := c.Chat(); ch != nil {
		return ch.ID
	}
	return 0
}

// chatPoller sends survey polls into one chat.
type chatPoller struct {
	api poster
	to  tele.Recipient
}

func (p chatPoller) SendPoll(ctx context.Context, spec survey.PollSpec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.to == nil {
		return "", errors.New("no chat to send the poll to")
	}
	poll := &tele.Poll{
		Type:            tele.PollRegular,
		Question:        spec.Question,
		Anonymous:       spec.Anonymous,
		MultipleAnswers: spec.MultipleAnswers,
	}
	poll.AddOptions(spec.Options...)

	msg, err := p.api.Send(p.to, poll)
	if err != nil {
		return "", err
	}
	if msg == nil || msg.Poll == nil {
		return "", errors.New("telegram returned no poll")
	}
	return msg.Poll.ID, nil
}
