package survey

import (
	"context"
	"errors"
	"time"
)

// Placeholders used when a lookup misses. None of them is an error.
const (
	UnknownAnswer     = "unknown"
	UnknownBranch     = "Unknown"
	PendingAnswer     = "Pending"
	AnonymousResponse = "Anonymous"
)

// TimestampLayout is how response timestamps are written to the sheet.
const TimestampLayout = "2006-01-02 15:04:05"

var ErrUnknownBranch = errors.New("branch is not in the catalog")

// BranchSource selects where ReceiveAnswer takes the branch from.
type BranchSource string

const (
	// BranchFromSession uses the conversation's most recent selection.
	BranchFromSession BranchSource = "session"
	// BranchFromPoll uses the branch the answered poll was created for.
	BranchFromPoll BranchSource = "poll"
)

// ClearScope selects which session state an answer clears.
type ClearScope string

const (
	// ClearConversation drops the conversation's session on any answer.
	ClearConversation ClearScope = "conversation"
	// ClearPoll drops it only when the answer belongs to the session's latest poll.
	ClearPoll ClearScope = "poll"
)

// PollRecord is what the registry remembers about a poll it sent.
type PollRecord struct {
	PollID         string
	Labels         map[int]string
	CreatedAt      time.Time
	Branch         string
	ConversationID int64
}

// Session is the transient per-conversation selection.
type Session struct {
	Branch    string
	PollID    string
	UpdatedAt time.Time
}

// ResponseRow is one line of the results sheet.
type ResponseRow struct {
	Respondent string
	Branch     string
	Answer     string
	Timestamp  string
}

// Values returns the row in sheet column order.
func (r ResponseRow) Values() []string {
	return []string{r.Respondent, r.Branch, r.Answer, r.Timestamp}
}

type Respondent struct {
	ID       int64
	Username string
}

// Answer is an inbound poll answer. Options is empty when the vote was
// retracted.
type Answer struct {
	PollID         string
	ConversationID int64
	Respondent     Respondent
	Options        []int
}

// Menu is the branch picker shown on /start.
type Menu struct {
	Prompt   string
	Branches []string
}

// PollSpec describes the poll sent after a branch selection.
type PollSpec struct {
	Question        string
	Options         []string
	Anonymous       bool
	MultipleAnswers bool
}

// PollSender delivers a poll to the conversation that asked for it and
// returns the platform-issued poll id.
type PollSender interface {
	SendPoll(ctx context.Context, spec PollSpec) (string, error)
}

// Outcome reports what ReceiveAnswer did with an answer.
type Outcome struct {
	Row         ResponseRow
	LabelSource string
	Delivery    DeliveryResult
}

const (
	LabelFromRegistry = "registry"
	LabelFallback     = "fallback"
	LabelPending      = "pending"
)
